package traveltime

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/model"
)

// CacheConfig sizes the derivative cache.
type CacheConfig struct {
	NumCounters int64
	MaxCost     int64 // bytes
}

// Cached memoises another provider by exact hypocenter. Fixed events, such
// as references, hit the cache on every iteration after the first.
type Cached struct {
	next   Provider
	cache  *ristretto.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps next with a ristretto cache.
func NewCached(next Provider, cfg CacheConfig) (*Cached, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 1e5
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1 << 24
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, eris.Wrap(err, "traveltime: create cache")
	}
	return &Cached{next: next, cache: cache}, nil
}

func cacheKey(h model.Hypocenter, used []int) string {
	var b strings.Builder
	for _, v := range []float64{h.Lat, h.Lon, h.Dep} {
		b.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
		b.WriteByte('|')
	}
	if used == nil {
		b.WriteByte('*')
	}
	for _, u := range used {
		b.WriteString(strconv.Itoa(u))
		b.WriteByte(',')
	}
	return b.String()
}

// Derivatives implements Provider.
func (c *Cached) Derivatives(ctx context.Context, stations *model.StationTable, used []int, h model.Hypocenter) (*Table, error) {
	key := cacheKey(h, used)
	if v, ok := c.cache.Get(key); ok {
		if tbl, ok := v.(*Table); ok && len(tbl.TravelTime) == stations.Len() {
			c.hits.Add(1)
			return tbl, nil
		}
	}
	c.misses.Add(1)

	tbl, err := c.next.Derivatives(ctx, stations, used, h)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, tbl, int64(stations.Len())*32)
	return tbl, nil
}

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Wait blocks until buffered writes are applied.
func (c *Cached) Wait() { c.cache.Wait() }

// Close releases the cache.
func (c *Cached) Close() { c.cache.Close() }
