package reloc

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/traveltime"
)

// derivatives fills c.tables for every non-error event using a bounded
// pool. Workers only write their own slot; provider failures are applied
// to events after the barrier. The returned slice lists the events that
// moved to error.
func (c *clusterRun) derivatives(ctx context.Context) ([]int, error) {
	tables := make([]*traveltime.Table, len(c.events))
	errs := make([]error, len(c.events))

	g := new(errgroup.Group)
	g.SetLimit(c.r.jobs)
	for i, e := range c.events {
		if e.State == model.StateError {
			continue
		}
		h := e.Hypocenter()
		used := e.Used
		if len(used) == 0 {
			used = nil
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			tables[i], errs[i] = c.r.provider.Derivatives(ctx, c.r.stations, used, h)
			return nil
		})
	}
	_ = g.Wait()

	if err := fault.Interrupted(ctx, "reloc: derivatives"); err != nil {
		return nil, err
	}

	var failed []int
	for i, err := range errs {
		if err == nil {
			continue
		}
		e := c.events[i]
		zap.L().Warn("reloc: derivative failed, event moved to error",
			zap.Int("cluster", c.clusterID),
			zap.Int("event", i),
			zap.String("file", e.File),
			zap.Error(err),
		)
		e.State = model.StateError
		tables[i] = nil
		failed = append(failed, i)
	}
	c.tables = tables
	if len(failed) > 0 {
		c.rebuildTargets()
	}
	return failed, nil
}
