package ms2rank

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/config"
	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/export"
	"github.com/kailas-cloud/ms2rank/internal/repository/library"
	"github.com/kailas-cloud/ms2rank/internal/repository/neighbors"
	"github.com/kailas-cloud/ms2rank/internal/repository/spectra"
	"github.com/kailas-cloud/ms2rank/internal/usecase/health"
	"github.com/kailas-cloud/ms2rank/internal/usecase/neighborhood"
	"github.com/kailas-cloud/ms2rank/internal/usecase/rank"
	"github.com/kailas-cloud/ms2rank/internal/usecase/training"
)

// RankConfig holds per-call ranking options.
type RankConfig struct {
	// Cutoff truncates each result table; 0 keeps every candidate.
	Cutoff       int
	OnQueryError QueryErrorPolicy
	// KeepPreselectionScores attaches the full preselection-space score
	// series to each table.
	KeepPreselectionScores bool
	// ExtraColumns are library metadata keys appended by ExportCSV.
	ExtraColumns []string
}

// Validate checks the options. Failures are *ConfigurationError.
func (c RankConfig) Validate() error {
	if c.Cutoff < 0 {
		return domain.Configf("cutoff", "must not be negative, got %d", c.Cutoff)
	}
	if c.OnQueryError != "" && !c.OnQueryError.IsValid() {
		return domain.Configf("on_query_error", "must be abort or skip, got %q", c.OnQueryError)
	}
	for i, col := range c.ExtraColumns {
		if col == "" {
			return domain.Configf("extra_columns", "column %d is empty", i)
		}
	}
	return nil
}

// Library is an opened spectral library ready to rank queries.
// It is safe for concurrent use.
type Library struct {
	store     db.Store
	snapshot  *library.Snapshot
	spectra   *spectra.Repo
	rankSvc   *rank.Service
	trainSvc  *training.Service
	healthSvc *health.Service
	cfg       config.Config
	closers   []closer
	logger    *zap.Logger
}

// Open connects to the library store, loads the library snapshot and the
// models of both embedding spaces and the ranking model.
func Open(ctx context.Context, opts ...Option) (*Library, error) {
	c := newLibraryConfig(opts)
	if err := c.resolve(true); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, &c.cfg)
	if err != nil {
		return nil, err
	}
	lib := &Library{store: store, cfg: c.cfg, logger: c.logger}
	if err := lib.wire(ctx, c); err != nil {
		_ = lib.Close()
		return nil, err
	}
	return lib, nil
}

func (l *Library) wire(ctx context.Context, c *libraryConfig) error {
	cfg := &c.cfg
	inMemory := cfg.Library.NeighborSource == config.NeighborsMemory

	snap, err := library.New(l.store, l.logger).Load(ctx, library.Options{
		PreselectionSpace: cfg.Library.PreselectionSpace,
		RescoringSpace:    cfg.Library.RescoringSpace,
		NeighborK:         cfg.Library.NeighborK,
		InMemoryNeighbors: inMemory,
	})
	if err != nil {
		return fmt.Errorf("ms2rank: load library: %w", err)
	}
	l.snapshot = snap

	preEmb, closeFn, err := c.queryEmbedder(cfg.Library.PreselectionSpace, l.store, cfg.Embedding.QueryCache)
	if err != nil {
		return err
	}
	l.track(closeFn)
	resEmb, closeFn, err := c.queryEmbedder(cfg.Library.RescoringSpace, l.store, cfg.Embedding.QueryCache)
	if err != nil {
		return err
	}
	l.track(closeFn)

	model, closeFn, err := c.loadModel()
	if err != nil {
		return err
	}
	l.track(closeFn)

	spectraRepo, err := spectra.New(l.store, cfg.Library.MetadataCacheCost)
	if err != nil {
		return fmt.Errorf("ms2rank: %w", err)
	}
	l.track(func() error { spectraRepo.Close(); return nil })
	l.spectra = spectraRepo

	neighborRepo, err := neighbors.New(l.store, cfg.Library.NeighborCacheSize)
	if err != nil {
		return fmt.Errorf("ms2rank: %w", err)
	}
	var source neighborhood.NeighborSource = snap.Index
	if !inMemory {
		source = neighborRepo
	}

	l.rankSvc, err = rank.New(rank.Deps{
		Snapshot:             snap,
		PreselectionEmbedder: preEmb,
		RescoringEmbedder:    resEmb,
		Neighbors:            source,
		Model:                model,
		MassWindow:           spectraRepo,
		Logger:               l.logger,
	}, rank.Config{
		Preselection: cfg.Pipeline.Preselection,
		Missing:      cfg.Pipeline.MissingStructure,
		NeighborK:    cfg.Library.NeighborK,
		MassBase:     cfg.Pipeline.MassBase,
		MassWindow:   cfg.Pipeline.MassWindowDa,
		Workers:      cfg.Pipeline.Workers,
	})
	if err != nil {
		return fmt.Errorf("ms2rank: %w", err)
	}

	l.trainSvc = training.New(l.rankSvc, neighborRepo, l.logger)
	l.healthSvc = health.New(l.store, snap, map[string]health.EmbeddingChecker{
		cfg.Library.PreselectionSpace: preEmb,
		cfg.Library.RescoringSpace:    resEmb,
	})
	return nil
}

func (l *Library) track(fn closer) {
	if fn != nil {
		l.closers = append(l.closers, fn)
	}
}

// Size returns the number of library spectra.
func (l *Library) Size() int { return l.snapshot.Len() }

// DefaultPreselectionSize returns the configured preselection size.
func (l *Library) DefaultPreselectionSize() int { return l.cfg.Pipeline.PreselectionSize }

// DefaultRankConfig returns the configured per-call defaults.
func (l *Library) DefaultRankConfig() RankConfig {
	return RankConfig{
		Cutoff:                 l.cfg.Pipeline.Cutoff,
		OnQueryError:           l.cfg.Pipeline.OnQueryError,
		KeepPreselectionScores: l.cfg.Pipeline.KeepPreselectionScores,
		ExtraColumns:           append([]string(nil), l.cfg.Export.ExtraColumns...),
	}
}

// RankCandidates returns one ranked table per query, in input order.
// At most preselectionSize candidates per query are rescored.
func (l *Library) RankCandidates(ctx context.Context, queries []Spectrum, preselectionSize int, cfg RankConfig) ([]ResultTable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tables, err := l.rankSvc.Rank(ctx, queries, rank.Request{
		PreselectionSize:       preselectionSize,
		Cutoff:                 cfg.Cutoff,
		OnQueryError:           cfg.OnQueryError,
		KeepPreselectionScores: cfg.KeepPreselectionScores,
	})
	if err != nil {
		return nil, fmt.Errorf("rank candidates: %w", err)
	}
	return tables, nil
}

// ExportCSV writes ranked tables with library metadata and cfg.ExtraColumns.
// Metadata is looked up in the store by spectrum id through a bounded cache.
func (l *Library) ExportCSV(ctx context.Context, w io.Writer, tables []ResultTable, cfg RankConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := export.WriteCSV(ctx, w, tables, cfg.ExtraColumns, l.spectra); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}

// TrainingData labels the candidate rows of annotated queries with the
// structural similarity between query and candidate.
func (l *Library) TrainingData(ctx context.Context, queries []Spectrum, preselectionSize int) (*TrainingReport, error) {
	report, err := l.trainSvc.Extract(ctx, queries, preselectionSize)
	if err != nil {
		return nil, fmt.Errorf("training data: %w", err)
	}
	return report, nil
}

// WriteTrainingCSV writes labeled rows as feature columns plus label.
func WriteTrainingCSV(w io.Writer, rows []TrainingRow) error {
	return export.WriteTrainingCSV(w, rows)
}

// Health checks the store, the embedders and the loaded library.
func (l *Library) Health(ctx context.Context) HealthReport {
	return l.healthSvc.Check(ctx)
}

// Ping checks database connectivity.
func (l *Library) Ping(ctx context.Context) error {
	if err := l.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases the models and the store connection.
func (l *Library) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	if l.store != nil {
		l.store.Close()
		l.store = nil
	}
	return errors.Join(errs...)
}
