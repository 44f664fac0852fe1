package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/store"
)

// initStore opens and migrates the configured run ledger. The "none" driver
// returns a nil store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		dsn := cfg.Store.DSN
		if dsn == "" {
			dsn = "tdreloc.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DSN, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
