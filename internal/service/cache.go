package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jjenkins/trialwatch/internal/metrics"
	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/store"
)

const defaultLoadTimeout = 5 * time.Minute

var ErrCacheClosed = errors.New("snapshot cache is closed")

// Loader produces the studies of a fresh snapshot for a query
type Loader func(ctx context.Context, q model.Query) ([]model.Study, error)

// CacheResult is the outcome of a cache request. When Stale is set the
// snapshot predates a refresh that failed with Err.
type CacheResult struct {
	Snapshot *model.Snapshot
	Stale    bool
	Err      error
}

// SnapshotCache memoizes snapshots per query for a freshness window.
// At most one load per query is in flight; concurrent callers share it.
type SnapshotCache struct {
	freshness    time.Duration
	loadTimeout  time.Duration
	maxSnapshots int
	load         Loader
	store        *store.SnapshotStore
	group        singleflight.Group
	now          func() time.Time
	logger       *zap.Logger
	metrics      *metrics.Metrics
	closed       chan struct{}
}

// CacheOption customizes a SnapshotCache
type CacheOption func(*SnapshotCache)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) CacheOption {
	return func(c *SnapshotCache) { c.now = now }
}

// WithLoadTimeout bounds a single load, independently of callers' contexts
func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *SnapshotCache) { c.loadTimeout = d }
}

// WithMaxSnapshots caps how many queries keep a snapshot. Non-positive
// values keep the default.
func WithMaxSnapshots(n int) CacheOption {
	return func(c *SnapshotCache) {
		if n > 0 {
			c.maxSnapshots = n
		}
	}
}

// WithCacheLogger sets the logger
func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *SnapshotCache) { c.logger = l }
}

// WithCacheMetrics sets the metrics
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *SnapshotCache) { c.metrics = m }
}

// NewSnapshotCache creates a cache serving snapshots younger than freshness
func NewSnapshotCache(freshness time.Duration, load Loader, opts ...CacheOption) *SnapshotCache {
	c := &SnapshotCache{
		freshness:    freshness,
		loadTimeout:  defaultLoadTimeout,
		maxSnapshots: store.DefaultMaxSnapshots,
		load:         load,
		now:          time.Now,
		logger:       zap.NewNop(),
		metrics:      metrics.Nop(),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = store.NewSnapshotStore(c.maxSnapshots)
	return c
}

// Get returns the cached snapshot of q if it is fresh, otherwise loads one
func (c *SnapshotCache) Get(ctx context.Context, q model.Query) (*CacheResult, error) {
	if c.isClosed() {
		return nil, ErrCacheClosed
	}
	if snap, ok := c.fresh(q); ok {
		c.metrics.IncrementCacheHits()
		return &CacheResult{Snapshot: snap}, nil
	}

	c.metrics.IncrementCacheMisses()
	return c.refresh(ctx, q, false)
}

// Refresh loads a new snapshot of q regardless of the cached one's age
func (c *SnapshotCache) Refresh(ctx context.Context, q model.Query) (*CacheResult, error) {
	if c.isClosed() {
		return nil, ErrCacheClosed
	}
	return c.refresh(ctx, q, true)
}

// Close drops every snapshot; later requests fail with ErrCacheClosed and
// loads still in flight are not kept
func (c *SnapshotCache) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.store.Close()
	c.metrics.SetRetained(0)
}

func (c *SnapshotCache) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *SnapshotCache) fresh(q model.Query) (*model.Snapshot, bool) {
	snap, ok := c.store.Get(q.Key())
	if !ok || snap.Age(c.now()) >= c.freshness {
		return nil, false
	}
	return snap, true
}

// flight is the value shared by the callers of one load
type flight struct {
	snap    *model.Snapshot
	loaded  bool      // false when a fresh snapshot was reused
	started time.Time // when the load began
}

func (c *SnapshotCache) refresh(ctx context.Context, q model.Query, force bool) (*CacheResult, error) {
	requested := c.now()
	for {
		f, err := c.join(ctx, q, force)
		if err != nil {
			return c.fallback(q, err)
		}
		// A forced refresh that joined a load begun before it was requested
		// waits for a load of its own.
		if force && (!f.loaded || f.started.Before(requested)) {
			continue
		}
		return &CacheResult{Snapshot: f.snap}, nil
	}
}

// join waits for the load of q in flight, starting one if there is none
func (c *SnapshotCache) join(ctx context.Context, q model.Query, force bool) (*flight, error) {
	ch := c.group.DoChan(q.Key(), func() (any, error) {
		return c.loadSnapshot(ctx, q, force)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*flight), nil
	}
}

func (c *SnapshotCache) loadSnapshot(ctx context.Context, q model.Query, force bool) (*flight, error) {
	// A load that finished between the caller's check and this call
	// already produced a fresh snapshot.
	if !force {
		if snap, ok := c.fresh(q); ok {
			return &flight{snap: snap}, nil
		}
	}

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
	defer cancel()

	started := c.now()
	studies, err := c.load(loadCtx, q)
	if err != nil {
		return nil, err
	}

	f := &flight{
		snap: &model.Snapshot{
			ID:         uuid.New(),
			Query:      q,
			CapturedAt: c.now(),
			Studies:    studies,
		},
		loaded:  true,
		started: started,
	}

	evicted, stored := c.store.Save(q.Key(), f.snap)
	if !stored {
		return f, nil
	}
	if evicted != "" {
		c.metrics.IncrementEvictions()
		c.logger.Debug("snapshot evicted", zap.String("key", evicted))
	}
	c.metrics.SetRetained(c.store.Len())
	c.logger.Info("snapshot refreshed",
		zap.String("query", q.String()),
		zap.Int("studies", len(studies)),
		zap.Duration("took", c.now().Sub(started)))
	return f, nil
}
// fallback serves the previous snapshot, if any, after a failed load
func (c *SnapshotCache) fallback(q model.Query, err error) (*CacheResult, error) {
	prev, ok := c.store.Get(q.Key())
	if !ok {
		return nil, err
	}

	c.metrics.IncrementStaleServed()
	c.logger.Warn("refresh failed, serving stale snapshot",
		zap.String("query", q.String()),
		zap.Time("captured_at", prev.CapturedAt),
		zap.Error(err))
	return &CacheResult{Snapshot: prev, Stale: true, Err: err}, nil
}
