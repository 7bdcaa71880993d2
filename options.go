package ms2rank

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/config"
)

// Option configures Open and BuildLibrary.
type Option interface {
	apply(*libraryConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*libraryConfig)

func (f optionFunc) apply(c *libraryConfig) { f(c) }

type libraryConfig struct {
	cfg        config.Config
	libraryDir string

	embedders map[string]Embedder
	model     Model

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

func newLibraryConfig(opts []Option) *libraryConfig {
	c := &libraryConfig{
		cfg:       config.Default(),
		embedders: make(map[string]Embedder),
	}
	for _, o := range opts {
		o.apply(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *libraryConfig) space(name string) config.EmbedderConfig {
	if c.cfg.Embedding.Spaces == nil {
		c.cfg.Embedding.Spaces = make(map[string]config.EmbedderConfig)
	}
	return c.cfg.Embedding.Spaces[name]
}

func (c *libraryConfig) setSpace(name string, e config.EmbedderConfig) {
	c.space(name)
	c.cfg.Embedding.Spaces[name] = e
}

// WithConfig replaces the whole configuration, typically one read by
// config.Load. Options given after it override single settings.
func WithConfig(cfg config.Config) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg = cfg
	})
}

// WithLibraryDir discovers the library store (*.sqlite) and the ranking
// model (*.onnx, *.forest.json or *.linear.json) in dir. Explicitly
// configured paths take precedence.
func WithLibraryDir(dir string) Option {
	return optionFunc(func(c *libraryConfig) {
		c.libraryDir = dir
	})
}

// WithSQLite stores the library in a SQLite database file.
func WithSQLite(path string) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Database.Driver = config.DriverSQLite
		c.cfg.Database.Path = path
	})
}

// WithRedis stores the library in a Redis 8+ instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Database.Driver = config.DriverRedis
		c.cfg.Database.Addrs = []string{addr}
		c.cfg.Database.Password = password
	})
}

// WithKeyPrefix namespaces the keys written to a shared Redis instance.
// Default: "ms2rank:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Database.KeyPrefix = prefix
	})
}

// WithSpaces names the preselection and rescoring embedding spaces.
// Defaults: "ms2deepscore" and "spec2vec".
func WithSpaces(preselection, rescoring string) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Library.PreselectionSpace = preselection
		c.cfg.Library.RescoringSpace = rescoring
	})
}

// WithEmbedder sets a custom embedder for a space. It takes precedence over
// a configured model for the same space.
func WithEmbedder(space string, e Embedder) Option {
	return optionFunc(func(c *libraryConfig) {
		c.embedders[space] = e
	})
}

// WithBinnedEmbedder embeds a space by fixed-width m/z binning.
// Zero values select the defaults (10, 1000, 0.1).
func WithBinnedEmbedder(space string, minMZ, maxMZ, binWidth float64) Option {
	return optionFunc(func(c *libraryConfig) {
		c.setSpace(space, config.EmbedderConfig{
			Kind: config.EmbedderBinned,
			Binned: config.BinnedConfig{
				MinMZ:    minMZ,
				MaxMZ:    maxMZ,
				BinWidth: binWidth,
			},
		})
	})
}

// WithSpec2VecEmbedder embeds a space with pretrained peak word vectors
// stored in word2vec text format.
func WithSpec2VecEmbedder(space, path string) Option {
	return optionFunc(func(c *libraryConfig) {
		e := c.space(space)
		e.Kind = config.EmbedderSpec2Vec
		e.Spec2Vec.Path = path
		c.setSpace(space, e)
	})
}

// WithONNXEmbedder embeds a space with a deep metric-learning network.
// dims 0 reads the width from the model.
func WithONNXEmbedder(space, modelPath string, dims int) Option {
	return optionFunc(func(c *libraryConfig) {
		e := c.space(space)
		e.Kind = config.EmbedderONNX
		e.ONNX.ModelPath = modelPath
		e.ONNX.Dimensions = dims
		c.setSpace(space, e)
	})
}

// WithOnnxRuntime locates the onnxruntime shared library.
func WithOnnxRuntime(sharedLibraryPath string) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Ranking.OnnxruntimePath = sharedLibraryPath
	})
}

// WithRankingModel loads the ranking model from a file.
func WithRankingModel(kind ModelKind, path string) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Ranking.Kind = string(kind)
		c.cfg.Ranking.Path = path
	})
}

// WithModel sets an already loaded ranking model. Close releases it.
func WithModel(m Model) Option {
	return optionFunc(func(c *libraryConfig) {
		c.model = m
	})
}

// WithNeighborK sets how many structural neighbors feed the neighborhood
// features. Default: 10.
func WithNeighborK(k int) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Library.NeighborK = k
	})
}

// WithStoreNeighbors looks neighbor lists up in the store per query instead
// of loading the whole table, caching up to cacheSize lists.
func WithStoreNeighbors(cacheSize int) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Library.NeighborSource = config.NeighborsStore
		c.cfg.Library.NeighborCacheSize = cacheSize
	})
}

// WithQueryCache caches query embeddings in the store.
func WithQueryCache() Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Embedding.QueryCache = true
	})
}

// WithPreselectionPolicy selects how preselected candidates are drawn.
// Default: TopSpectra.
func WithPreselectionPolicy(p PreselectionPolicy) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Pipeline.Preselection = p
	})
}

// WithMissingStructure sets the policy for candidates without a
// structure-id. Default: SkipMissing.
func WithMissingStructure(m MissingPolicy) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Pipeline.MissingStructure = m
	})
}

// WithMassWindow restricts preselection to library spectra within ±da of
// the query parent mass. 0 disables the filter (default).
func WithMassWindow(da float64) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Pipeline.MassWindowDa = da
	})
}

// WithWorkers bounds the number of queries ranked concurrently.
// Default: GOMAXPROCS.
func WithWorkers(n int) Option {
	return optionFunc(func(c *libraryConfig) {
		c.cfg.Pipeline.Workers = n
	})
}

// WithLogger enables structured logging. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *libraryConfig) {
		c.logger = l
	})
}

// WithPrometheus registers the pipeline metrics on the given registerer.
// Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *libraryConfig) {
		c.metricsReg = reg
	})
}
