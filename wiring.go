package ms2rank

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/config"
	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/db/memory"
	dbRedis "github.com/kailas-cloud/ms2rank/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/ms2rank/internal/db/sqlite"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/embedder/binned"
	"github.com/kailas-cloud/ms2rank/internal/embedder/onnx"
	"github.com/kailas-cloud/ms2rank/internal/embedder/spec2vec"
	"github.com/kailas-cloud/ms2rank/internal/metrics"
	"github.com/kailas-cloud/ms2rank/internal/ranking"
	"github.com/kailas-cloud/ms2rank/internal/repository/embcache"
	"github.com/kailas-cloud/ms2rank/internal/usecase/embedding"
)

// Model artifact suffixes recognized by WithLibraryDir.
const (
	forestSuffix = ".forest.json"
	linearSuffix = ".linear.json"
	onnxSuffix   = ".onnx"
	sqliteSuffix = ".sqlite"
)

type closer func() error

// resolve fills paths from the library directory and validates the result.
func (c *libraryConfig) resolve(needModel bool) error {
	if c.libraryDir != "" {
		if err := c.discover(needModel); err != nil {
			return err
		}
	}
	c.cfg.ApplyDefaults()
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.metricsReg != nil {
		if err := metrics.RegisterPipelineMetricsOn(c.metricsReg); err != nil {
			return fmt.Errorf("ms2rank: %w", err)
		}
	}
	return nil
}

func (c *libraryConfig) discover(needModel bool) error {
	entries, err := os.ReadDir(c.libraryDir)
	if err != nil {
		return domain.Configf("library_dir", "%v", err)
	}

	embedderModels := make(map[string]bool)
	for _, e := range c.cfg.Embedding.Spaces {
		if e.ONNX.ModelPath != "" {
			embedderModels[filepath.Clean(e.ONNX.ModelPath)] = true
		}
	}

	var stores, forests, linears, onnxModels []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(c.libraryDir, name)
		switch {
		case strings.HasSuffix(name, sqliteSuffix):
			stores = append(stores, path)
		case strings.HasSuffix(name, forestSuffix):
			forests = append(forests, path)
		case strings.HasSuffix(name, linearSuffix):
			linears = append(linears, path)
		case strings.HasSuffix(name, onnxSuffix) && !embedderModels[filepath.Clean(path)]:
			onnxModels = append(onnxModels, path)
		}
	}

	dbc := &c.cfg.Database
	if (dbc.Driver == "" || dbc.Driver == config.DriverSQLite) && dbc.Path == "" {
		path, err := single("database.path", c.libraryDir, "*"+sqliteSuffix, stores)
		if err != nil {
			return err
		}
		dbc.Driver, dbc.Path = config.DriverSQLite, path
	}

	if !needModel || c.model != nil || c.cfg.Ranking.Path != "" {
		return nil
	}
	for _, cand := range []struct {
		kind  ranking.Kind
		paths []string
	}{
		{ranking.KindONNX, onnxModels},
		{ranking.KindForest, forests},
		{ranking.KindLinear, linears},
	} {
		if len(cand.paths) == 0 {
			continue
		}
		path, err := single("ranking.path", c.libraryDir, "ranking model", cand.paths)
		if err != nil {
			return err
		}
		c.cfg.Ranking.Kind, c.cfg.Ranking.Path = string(cand.kind), path
		return nil
	}
	return domain.Configf("ranking.path", "no ranking model (*%s, *%s, *%s) in %s",
		onnxSuffix, forestSuffix, linearSuffix, c.libraryDir)
}

func single(option, dir, what string, paths []string) (string, error) {
	switch len(paths) {
	case 0:
		return "", domain.Configf(option, "no %s found in %s", what, dir)
	case 1:
		return paths[0], nil
	default:
		sort.Strings(paths)
		return "", domain.Configf(option, "ambiguous %s in %s: %s", what, dir, strings.Join(paths, ", "))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		store, err = dbSQLite.NewStore(dbSQLite.Config{Path: cfg.Database.Path})
		if err != nil {
			return nil, fmt.Errorf("ms2rank: create sqlite store: %w", err)
		}
	case config.DriverRedis:
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			DB:       cfg.Database.DB,
			Prefix:   cfg.Database.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("ms2rank: create redis store: %w", err)
		}
	case config.DriverMemory:
		store = memory.NewStore()
	default:
		return nil, domain.Configf("database.driver", "unknown driver %q", cfg.Database.Driver)
	}

	timeout := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, timeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("ms2rank: database not ready: %w", err)
	}
	return store, nil
}

// baseEmbedder builds the model of one space. A custom embedder set with
// WithEmbedder wins over the configuration.
func (c *libraryConfig) baseEmbedder(space string) (domain.Embedder, closer, error) {
	if e, ok := c.embedders[space]; ok {
		return domain.NewCheckedEmbedder(e, space), nil, nil
	}

	prefix := "embedding.spaces." + space
	ec, ok := c.cfg.Embedding.Spaces[space]
	if !ok {
		return nil, nil, domain.NewConfigurationError(prefix, "no embedder configured")
	}

	switch ec.Kind {
	case config.EmbedderBinned:
		e, err := binned.NewEmbedder(binnedConfig(ec.Binned))
		if err != nil {
			return nil, nil, err
		}
		return e, nil, nil
	case config.EmbedderSpec2Vec:
		vocab, err := spec2vec.LoadVocabulary(ec.Spec2Vec.Path)
		if err != nil {
			return nil, nil, domain.Configf(prefix+".spec2vec.path", "%v", err)
		}
		e, err := spec2vec.NewEmbedder(vocab, spec2vec.Config{
			Decimals:                 ec.Spec2Vec.Decimals,
			IntensityPower:           ec.Spec2Vec.IntensityPower,
			AllowedMissingPercentage: ec.Spec2Vec.AllowedMissingPercentage,
			AddLosses:                ec.Spec2Vec.AddLosses,
			LossFrom:                 ec.Spec2Vec.LossFrom,
			LossTo:                   ec.Spec2Vec.LossTo,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, nil, nil
	case config.EmbedderONNX:
		e, err := onnx.NewEmbedder(&onnx.Config{
			ModelPath:         ec.ONNX.ModelPath,
			SharedLibraryPath: c.cfg.Ranking.OnnxruntimePath,
			InputName:         ec.ONNX.InputName,
			OutputName:        ec.ONNX.OutputName,
			Dimensions:        ec.ONNX.Dimensions,
			Binning:           binnedConfig(ec.ONNX.Binning),
		})
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	default:
		return nil, nil, domain.Configf(prefix+".kind", "unknown embedder kind %q", ec.Kind)
	}
}

// queryEmbedder wraps the space model with the optional store-backed cache
// and instrumentation.
func (c *libraryConfig) queryEmbedder(space string, store db.KVStore, cache bool) (*embedding.InstrumentedEmbedder, closer, error) {
	base, closeFn, err := c.baseEmbedder(space)
	if err != nil {
		return nil, nil, err
	}
	inner := base
	if cache {
		inner = embcache.New(base, space, store, metrics.EmbeddingCacheTotal, c.logger.With(zap.String("space", space)))
	}
	return embedding.NewInstrumentedEmbedder(inner, space, c.cfg.Embedding.MaxBatchSize, c.logger), closeFn, nil
}

func (c *libraryConfig) loadModel() (ranking.Model, closer, error) {
	if c.model != nil {
		return c.model, c.model.Close, nil
	}
	if c.cfg.Ranking.Path == "" {
		return nil, nil, domain.NewConfigurationError("ranking.path", "is required (use WithRankingModel, WithModel or WithLibraryDir)")
	}
	kind := ranking.Kind(c.cfg.Ranking.Kind)
	if kind == "" {
		kind = kindFromPath(c.cfg.Ranking.Path)
	}
	m, err := ranking.Load(kind, c.cfg.Ranking.Path, ranking.Options{
		SharedLibraryPath: c.cfg.Ranking.OnnxruntimePath,
		InputName:         c.cfg.Ranking.InputName,
		OutputName:        c.cfg.Ranking.OutputName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ms2rank: load ranking model: %w", err)
	}
	return m, m.Close, nil
}

func kindFromPath(path string) ranking.Kind {
	switch {
	case strings.HasSuffix(path, forestSuffix):
		return ranking.KindForest
	case strings.HasSuffix(path, linearSuffix):
		return ranking.KindLinear
	default:
		return ranking.KindONNX
	}
}

func binnedConfig(b config.BinnedConfig) binned.Config {
	return binned.Config{
		MinMZ:    b.MinMZ,
		MaxMZ:    b.MaxMZ,
		BinWidth: b.BinWidth,
		Scaling:  b.Scaling,
	}
}
