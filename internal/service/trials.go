package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jjenkins/trialwatch/internal/metrics"
	"github.com/jjenkins/trialwatch/internal/model"
)

const warmConcurrency = 2

// Fetcher retrieves every raw study document matching a query
type Fetcher interface {
	FetchStudies(ctx context.Context, q model.Query, pageSize int) ([]RawStudy, error)
}

// Result is one filtered view of a snapshot
type Result struct {
	Query      model.Query
	SnapshotID uuid.UUID
	CapturedAt time.Time
	Stale      bool  // snapshot predates a failed refresh
	RefreshErr error // the failure when Stale
	Total      int   // studies in the snapshot before filtering
	Studies    []model.Study
	Criteria   Criteria // selections after resolving against Vocabulary
	Vocabulary Vocabulary
}

// TrialServiceConfig configures a TrialService
type TrialServiceConfig struct {
	PageSize     int
	Freshness    time.Duration
	MaxSnapshots int // queries kept in the cache; store.DefaultMaxSnapshots when zero
	MissingPhase MissingPhasePolicy
}

// TrialService runs the retrieve, normalize and filter cycle behind a
// snapshot cache
type TrialService struct {
	fetcher      Fetcher
	normalizer   *Normalizer
	cache        *SnapshotCache
	pageSize     int
	missingPhase MissingPhasePolicy
	logger       *zap.Logger
}

// NewTrialService creates a new TrialService. opts are passed to the cache.
func NewTrialService(fetcher Fetcher, cfg TrialServiceConfig, logger *zap.Logger, m *metrics.Metrics, opts ...CacheOption) *TrialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MissingPhase == "" {
		cfg.MissingPhase = MissingPhaseExclude
	}

	s := &TrialService{
		fetcher:      fetcher,
		normalizer:   NewNormalizer(),
		pageSize:     cfg.PageSize,
		missingPhase: cfg.MissingPhase,
		logger:       logger,
	}

	cacheOpts := append([]CacheOption{
		WithCacheLogger(logger.Named("cache")),
		WithCacheMetrics(m),
		WithMaxSnapshots(cfg.MaxSnapshots),
	}, opts...)
	s.cache = NewSnapshotCache(cfg.Freshness, s.loadStudies, cacheOpts...)

	return s
}

// loadStudies fetches and normalizes one snapshot's worth of studies
func (s *TrialService) loadStudies(ctx context.Context, q model.Query) ([]model.Study, error) {
	docs, err := s.fetcher.FetchStudies(ctx, q, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch studies for %q: %w", q.String(), err)
	}

	studies, dropped := s.normalizer.NormalizeAll(docs)
	if dropped > 0 {
		s.logger.Debug("dropped documents without a unique id",
			zap.String("query", q.String()),
			zap.Int("dropped", dropped))
	}

	return studies, nil
}

// GetFiltered returns the studies of q's snapshot that satisfy c
func (s *TrialService) GetFiltered(ctx context.Context, q model.Query, c Criteria) (*Result, error) {
	if strings.TrimSpace(q.Condition) == "" {
		return nil, ErrEmptyQuery
	}

	res, err := s.cache.Get(ctx, q)
	if err != nil {
		return nil, err
	}

	return s.view(q, res, c), nil
}

// Refresh forces a new snapshot of q and returns it unfiltered
func (s *TrialService) Refresh(ctx context.Context, q model.Query) (*Result, error) {
	if strings.TrimSpace(q.Condition) == "" {
		return nil, ErrEmptyQuery
	}

	res, err := s.cache.Refresh(ctx, q)
	if err != nil {
		return nil, err
	}

	return s.view(q, res, Criteria{}), nil
}

// Study looks up one study of q's snapshot by ID; nil if absent
func (s *TrialService) Study(ctx context.Context, q model.Query, id string) (*model.Study, error) {
	res, err := s.GetFiltered(ctx, q, Criteria{})
	if err != nil {
		return nil, err
	}

	for i := range res.Studies {
		if strings.EqualFold(res.Studies[i].ID, id) {
			study := res.Studies[i]
			return &study, nil
		}
	}

	return nil, nil
}

// Summary computes dashboard totals for q's snapshot
func (s *TrialService) Summary(ctx context.Context, q model.Query) (*Summary, error) {
	res, err := s.GetFiltered(ctx, q, Criteria{})
	if err != nil {
		return nil, err
	}

	summary := Summarize(res.Studies)
	summary.Query = q
	summary.CapturedAt = res.CapturedAt
	summary.Stale = res.Stale
	return summary, nil
}

// Sponsors aggregates the filtered studies of q's snapshot by lead sponsor
func (s *TrialService) Sponsors(ctx context.Context, q model.Query, c Criteria, sortBy, order string) ([]model.Sponsor, *Result, error) {
	res, err := s.GetFiltered(ctx, q, c)
	if err != nil {
		return nil, nil, err
	}

	sponsors := AggregateSponsors(res.Studies)
	SortSponsors(sponsors, sortBy, order)
	return sponsors, res, nil
}

// Warm loads the snapshots of queries concurrently
func (s *TrialService) Warm(ctx context.Context, queries []model.Query) error {
	var g errgroup.Group
	g.SetLimit(warmConcurrency)

	for _, q := range queries {
		g.Go(func() error {
			if _, err := s.GetFiltered(ctx, q, Criteria{}); err != nil {
				return fmt.Errorf("failed to warm %q: %w", q.String(), err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Close releases every cached snapshot
func (s *TrialService) Close() {
	s.cache.Close()
}

func (s *TrialService) view(q model.Query, res *CacheResult, c Criteria) *Result {
	snap := res.Snapshot
	vocab := BuildVocabulary(snap.Studies)

	if c.MissingPhase == "" {
		c.MissingPhase = s.missingPhase
	}
	resolved := c.Resolve(vocab)

	return &Result{
		Query:      q,
		SnapshotID: snap.ID,
		CapturedAt: snap.CapturedAt,
		Stale:      res.Stale,
		RefreshErr: res.Err,
		Total:      len(snap.Studies),
		Studies:    resolved.Apply(snap.Studies),
		Criteria:   resolved,
		Vocabulary: vocab,
	}
}
