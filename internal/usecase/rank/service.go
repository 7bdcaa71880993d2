// Package rank runs the candidate preselection and rescoring pipeline over a
// batch of query spectra.
package rank

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
	"github.com/kailas-cloud/ms2rank/internal/domain/result"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/metrics"
	"github.com/kailas-cloud/ms2rank/internal/ranking"
	"github.com/kailas-cloud/ms2rank/internal/repository/library"
	"github.com/kailas-cloud/ms2rank/internal/usecase/features"
	"github.com/kailas-cloud/ms2rank/internal/usecase/neighborhood"
	"github.com/kailas-cloud/ms2rank/internal/usecase/preselect"
)

// ReasonUnannotated marks candidates without a structure-id.
const ReasonUnannotated = "unannotated"

// Config holds the pipeline tuning fixed at construction.
type Config struct {
	Preselection policy.Preselection
	Missing      policy.Missing
	NeighborK    int
	MassBase     float64
	// MassWindow restricts preselection to ±window Da around the query
	// parent mass. 0 disables the filter.
	MassWindow float64
	// Workers bounds concurrently processed queries. 0 uses GOMAXPROCS.
	Workers int
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Snapshot             *library.Snapshot
	PreselectionEmbedder domain.Embedder
	RescoringEmbedder    domain.Embedder
	// Neighbors defaults to the snapshot's identity index.
	Neighbors neighborhood.NeighborSource
	Model     Model
	// MassWindow is required when Config.MassWindow > 0.
	MassWindow MassWindow
	Logger     *zap.Logger
}

// Request holds per-call options.
type Request struct {
	PreselectionSize int
	// Cutoff truncates each table; 0 keeps every candidate.
	Cutoff       int
	OnQueryError policy.QueryError
	// KeepPreselectionScores attaches the full preselection-space series to each table.
	KeepPreselectionScores bool
}

// Service is safe for concurrent use; all shared state is read-only.
type Service struct {
	snapshot    *library.Snapshot
	preEmbed    domain.Embedder
	resEmbed    domain.Embedder
	preselector *preselect.Service
	aggregator  *neighborhood.Service
	features    *features.Builder
	model       Model
	massWindow  MassWindow
	cfg         Config
	logger      *zap.Logger
}

// New validates the configuration and wires the pipeline stages.
func New(d Deps, cfg Config) (*Service, error) {
	if d.Snapshot == nil || d.PreselectionEmbedder == nil || d.RescoringEmbedder == nil || d.Model == nil {
		return nil, errors.New("rank: snapshot, embedders and model are required")
	}
	if cfg.Workers < 0 {
		return nil, domain.Configf("pipeline.workers", "must not be negative, got %d", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MassWindow < 0 {
		return nil, domain.Configf("pipeline.mass_window_da", "must not be negative, got %g", cfg.MassWindow)
	}
	if cfg.MassWindow > 0 && d.MassWindow == nil {
		return nil, domain.Configf("pipeline.mass_window_da", "requires a store with range queries")
	}
	if cfg.NeighborK == 0 {
		cfg.NeighborK = d.Snapshot.Index.K()
	}
	if cfg.MassBase == 0 {
		cfg.MassBase = domain.DefaultPipeline().MassBase
	}

	if got, want := d.PreselectionEmbedder.Dimensions(), d.Snapshot.Preselection.Dim(); got != want {
		return nil, domain.NewDimensionMismatch(d.Snapshot.Preselection.Space(), "embedder", want, got)
	}
	if got, want := d.RescoringEmbedder.Dimensions(), d.Snapshot.Rescoring.Dim(); got != want {
		return nil, domain.NewDimensionMismatch(d.Snapshot.Rescoring.Space(), "embedder", want, got)
	}

	pre, err := preselect.New(cfg.Preselection, d.Snapshot.Index)
	if err != nil {
		return nil, err
	}
	neighbors := d.Neighbors
	if neighbors == nil {
		neighbors = d.Snapshot.Index
	}
	agg, err := neighborhood.New(d.Snapshot.Index, neighbors, cfg.NeighborK, cfg.Missing)
	if err != nil {
		return nil, err
	}
	fb, err := features.New(cfg.MassBase)
	if err != nil {
		return nil, err
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		snapshot:    d.Snapshot,
		preEmbed:    d.PreselectionEmbedder,
		resEmbed:    d.RescoringEmbedder,
		preselector: pre,
		aggregator:  agg,
		features:    fb,
		model:       d.Model,
		massWindow:  d.MassWindow,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Validate checks per-call options.
func (r *Request) Validate() error {
	if r.PreselectionSize <= 0 {
		return domain.Configf("preselection_size", "must be positive, got %d", r.PreselectionSize)
	}
	if r.Cutoff < 0 {
		return domain.Configf("cutoff", "must not be negative, got %d", r.Cutoff)
	}
	if r.OnQueryError == "" {
		r.OnQueryError = policy.AbortBatch
	}
	if !r.OnQueryError.IsValid() {
		return domain.Configf("on_query_error", "unknown policy %q", r.OnQueryError)
	}
	return nil
}

// Rank returns one table per query, in input order. Queries run in parallel
// on at most Config.Workers goroutines. Under policy.SkipQuery a failing
// query yields an empty table carrying its error; errors that invalidate the
// whole batch abort it regardless.
func (s *Service) Rank(ctx context.Context, queries []spectrum.Spectrum, req Request) ([]result.Table, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.snapshot.Len() == 0 {
		return nil, domain.NewInsufficientLibrary(0, 1)
	}

	runID := uuid.NewString()
	start := time.Now()
	tables := make([]result.Table, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range queries {
		g.Go(func() error {
			t, err := s.rankOne(gctx, i, &queries[i], req)
			if err == nil {
				tables[i] = *t
				return nil
			}
			if req.OnQueryError == policy.SkipQuery && !batchFatal(err) {
				metrics.RankQueriesTotal.WithLabelValues("skipped").Inc()
				s.logger.Warn("Query skipped",
					zap.String("run_id", runID),
					zap.Int("query_index", i),
					zap.String("query_id", queries[i].ID()),
					zap.Error(err),
				)
				tables[i] = result.Table{
					QueryIndex:      i,
					QueryID:         queries[i].ID(),
					QueryParentMass: queries[i].ParentMass(),
					Rows:            []result.Row{},
					Err:             err,
				}
				return nil
			}
			metrics.RankQueriesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("query %d (%s): %w", i, queries[i].ID(), err)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("rank_batch",
		zap.String("run_id", runID),
		zap.Int("queries", len(queries)),
		zap.Int("preselection_size", req.PreselectionSize),
		zap.Int("cutoff", req.Cutoff),
		zap.Duration("duration", time.Since(start)),
	)
	return tables, nil
}

// FeatureRows runs the pipeline up to the feature table for each query,
// without scoring. Rows follow preselection order.
func (s *Service) FeatureRows(ctx context.Context, queries []spectrum.Spectrum, preselectionSize int) ([][]feature.Row, error) {
	if preselectionSize <= 0 {
		return nil, domain.Configf("preselection_size", "must be positive, got %d", preselectionSize)
	}
	if s.snapshot.Len() == 0 {
		return nil, domain.NewInsufficientLibrary(0, 1)
	}

	out := make([][]feature.Row, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range queries {
		g.Go(func() error {
			c, err := s.candidates(gctx, &queries[i], preselectionSize, false)
			if err != nil {
				return fmt.Errorf("query %d (%s): %w", i, queries[i].ID(), err)
			}
			out[i] = c.rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) rankOne(ctx context.Context, idx int, q *spectrum.Spectrum, req Request) (*result.Table, error) {
	start := time.Now()

	c, err := s.candidates(ctx, q, req.PreselectionSize, req.KeepPreselectionScores)
	if err != nil {
		return nil, err
	}

	ranked := []result.Row{}
	if len(c.rows) > 0 {
		scores, err := s.model.Predict(feature.Matrix(c.rows))
		if err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
		ranked, err = ranking.Rank(c.rows, scores, req.Cutoff)
		if err != nil {
			return nil, err
		}
	}

	metrics.RankQueriesTotal.WithLabelValues("ok").Inc()
	metrics.RankQueryDuration.Observe(time.Since(start).Seconds())
	return &result.Table{
		QueryIndex:         idx,
		QueryID:            q.ID(),
		QueryParentMass:    q.ParentMass(),
		Rows:               ranked,
		PreselectionScores: c.preselectionScores,
	}, nil
}

// batchFatal reports errors that make every other query meaningless too.
func batchFatal(err error) bool {
	return errors.Is(err, domain.ErrInsufficientLibrary) ||
		errors.Is(err, domain.ErrDimensionMismatch) ||
		errors.Is(err, domain.ErrConfiguration) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
