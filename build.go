package ms2rank

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/repository/neighbors"
	"github.com/kailas-cloud/ms2rank/internal/repository/spectra"
	"github.com/kailas-cloud/ms2rank/internal/usecase/build"
	"github.com/kailas-cloud/ms2rank/internal/usecase/embedding"
)

// BuildConfig controls BuildLibrary.
type BuildConfig struct {
	// Force writes into a store that already holds spectra.
	Force bool
	// Matrix supplies the structural similarities as a dense matrix instead
	// of pairs.
	Matrix *SimilarityMatrix
}

// BuildLibrary embeds spectra in both configured spaces and writes them,
// the top-k neighbor table derived from pairs and the pairs themselves to
// the configured store. Spectra that fail are reported per item in the
// report and left out. A non-empty store is refused with
// ErrLibraryNotEmpty unless cfg.Force is set. With cfg.Matrix set, pairs must
// be empty.
func BuildLibrary(ctx context.Context, items []Spectrum, pairs []SimilarityPair, cfg BuildConfig, opts ...Option) (report *BuildReport, err error) {
	if cfg.Matrix != nil && len(pairs) > 0 {
		return nil, domain.NewConfigurationError("similarities", "pairs and matrix are mutually exclusive")
	}
	c := newLibraryConfig(opts)
	if err := c.resolve(false); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, &c.cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var closers []closer
	defer func() {
		for _, fn := range closers {
			err = errors.Join(err, fn())
		}
	}()

	spaces := make([]build.Space, 0, 2)
	for _, name := range []string{c.cfg.Library.PreselectionSpace, c.cfg.Library.RescoringSpace} {
		base, closeFn, err := c.baseEmbedder(name)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		spaces = append(spaces, build.Space{
			Name:     name,
			Embedder: embedding.NewInstrumentedEmbedder(base, name, c.cfg.Embedding.MaxBatchSize, c.logger),
		})
	}

	spectraRepo, err := spectra.New(store, c.cfg.Library.MetadataCacheCost)
	if err != nil {
		return nil, fmt.Errorf("ms2rank: %w", err)
	}
	defer spectraRepo.Close()
	neighborRepo, err := neighbors.New(store, c.cfg.Library.NeighborCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ms2rank: %w", err)
	}

	svc, err := build.New(spectraRepo, store, neighborRepo, spaces, c.logger)
	if err != nil {
		return nil, err
	}
	buildOpts := build.Options{
		NeighborK: c.cfg.Library.NeighborK,
		Force:     cfg.Force,
	}
	if cfg.Matrix != nil {
		report, err = svc.BuildFromMatrix(ctx, items, cfg.Matrix.IDs, cfg.Matrix.Values, buildOpts)
	} else {
		report, err = svc.Build(ctx, items, pairs, buildOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("build library: %w", err)
	}
	return report, nil
}
