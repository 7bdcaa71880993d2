package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
)

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Neighbor sources.
const (
	NeighborsMemory = "memory"
	NeighborsStore  = "store"
)

// Embedder kinds.
const (
	EmbedderBinned   = "binned"
	EmbedderSpec2Vec = "spec2vec"
	EmbedderONNX     = "onnx"
)

// Config holds the ms2rank configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Library   LibraryConfig   `yaml:"library"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Export    ExportConfig    `yaml:"export"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
	MaxQueries      int   `yaml:"max_queries"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"` // empty disables authentication
}

// DatabaseConfig holds store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // sqlite, redis, memory (default: sqlite)
	Path             string   `yaml:"path"`
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
}

// LibraryConfig selects the embedding spaces and neighbor lookups.
type LibraryConfig struct {
	PreselectionSpace string `yaml:"preselection_space"`
	RescoringSpace    string `yaml:"rescoring_space"`
	NeighborK         int    `yaml:"neighbor_k"`
	NeighborSource    string `yaml:"neighbor_source"` // memory, store
	NeighborCacheSize int    `yaml:"neighbor_cache_size"`
	MetadataCacheCost int64  `yaml:"metadata_cache_cost"`
}

// EmbeddingConfig holds one embedder per space.
type EmbeddingConfig struct {
	Spaces       map[string]EmbedderConfig `yaml:"spaces"`
	QueryCache   bool                      `yaml:"query_cache"`
	MaxBatchSize int                       `yaml:"max_batch_size"`
}

// EmbedderConfig configures the model of one space. Only the section
// matching Kind is read.
type EmbedderConfig struct {
	Kind     string         `yaml:"kind"`
	Binned   BinnedConfig   `yaml:"binned"`
	Spec2Vec Spec2VecConfig `yaml:"spec2vec"`
	ONNX     ONNXConfig     `yaml:"onnx"`
}

// BinnedConfig holds the m/z binning grid.
type BinnedConfig struct {
	MinMZ    float64 `yaml:"min_mz"`
	MaxMZ    float64 `yaml:"max_mz"`
	BinWidth float64 `yaml:"bin_width"`
	Scaling  float64 `yaml:"scaling"`
}

// Spec2VecConfig holds the word vector model settings.
type Spec2VecConfig struct {
	Path                     string  `yaml:"path"`
	Decimals                 int     `yaml:"decimals"`
	IntensityPower           float64 `yaml:"intensity_power"`
	AllowedMissingPercentage float64 `yaml:"allowed_missing_percentage"`
	AddLosses                bool    `yaml:"add_losses"`
	LossFrom                 float64 `yaml:"loss_from"`
	LossTo                   float64 `yaml:"loss_to"`
}

// ONNXConfig holds the deep embedding network settings.
type ONNXConfig struct {
	ModelPath  string       `yaml:"model_path"`
	InputName  string       `yaml:"input_name"`
	OutputName string       `yaml:"output_name"`
	Dimensions int          `yaml:"dimensions"`
	Binning    BinnedConfig `yaml:"binning"`
}

// RankingConfig selects the ranking model artifact.
type RankingConfig struct {
	Kind            string `yaml:"kind"` // onnx, forest, linear
	Path            string `yaml:"path"`
	OnnxruntimePath string `yaml:"onnxruntime_path"`
	InputName       string `yaml:"input_name"`
	OutputName      string `yaml:"output_name"`
}

// PipelineConfig holds the query-time defaults.
type PipelineConfig struct {
	PreselectionSize       int                 `yaml:"preselection_size"`
	Preselection           policy.Preselection `yaml:"preselection_policy"`
	Cutoff                 int                 `yaml:"cutoff"`
	MassBase               float64             `yaml:"mass_base"`
	MassWindowDa           float64             `yaml:"mass_window_da"`
	MissingStructure       policy.Missing      `yaml:"missing_structure"`
	OnQueryError           policy.QueryError   `yaml:"on_query_error"`
	Workers                int                 `yaml:"workers"`
	KeepPreselectionScores bool                `yaml:"keep_preselection_scores"`
}

// ExportConfig holds CSV export settings.
type ExportConfig struct {
	ExtraColumns []string `yaml:"extra_columns"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML, substitutes ${VAR} references, applies defaults and
// validates. Unknown keys and mistyped values are rejected.
func Parse(data []byte) (Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode is Parse without validation, for callers that fill in the
// remaining settings (store and model paths) before validating.
func Decode(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, domain.NewConfigurationError("yaml", err.Error())
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 32 << 20
	}
	if c.HTTP.MaxQueries <= 0 {
		c.HTTP.MaxQueries = 1000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = domain.KeyPrefix
	}
	if c.Library.PreselectionSpace == "" {
		c.Library.PreselectionSpace = domain.SpaceMS2DeepScore
	}
	if c.Library.RescoringSpace == "" {
		c.Library.RescoringSpace = domain.SpaceSpec2Vec
	}

	d := domain.DefaultPipeline()
	if c.Library.NeighborK <= 0 {
		c.Library.NeighborK = d.NeighborK
	}
	if c.Library.NeighborSource == "" {
		c.Library.NeighborSource = NeighborsMemory
	}
	if c.Pipeline.PreselectionSize <= 0 {
		c.Pipeline.PreselectionSize = d.PreselectionSize
	}
	if c.Pipeline.Preselection == "" {
		c.Pipeline.Preselection = policy.DefaultPreselection
	}
	if c.Pipeline.Cutoff <= 0 {
		c.Pipeline.Cutoff = d.Cutoff
	}
	if c.Pipeline.MassBase == 0 {
		c.Pipeline.MassBase = d.MassBase
	}
	if c.Pipeline.MissingStructure == "" {
		c.Pipeline.MissingStructure = policy.Skip
	}
	if c.Pipeline.OnQueryError == "" {
		c.Pipeline.OnQueryError = policy.AbortBatch
	}
}

// Validate checks the configuration for correctness. Every failure is a
// domain.ConfigurationError naming the offending option.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return domain.Configf("http.port", "must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return domain.NewConfigurationError("database.path", "is required for the sqlite driver")
		}
	case DriverRedis:
		if len(c.Database.Addrs) == 0 {
			return domain.NewConfigurationError("database.addrs", "is required for the redis driver")
		}
	case DriverMemory:
	default:
		return domain.Configf("database.driver", "must be sqlite, redis or memory, got %q", c.Database.Driver)
	}

	if c.Library.PreselectionSpace == c.Library.RescoringSpace {
		return domain.Configf("library.rescoring_space", "must differ from preselection_space %q", c.Library.PreselectionSpace)
	}
	switch c.Library.NeighborSource {
	case NeighborsMemory, NeighborsStore:
	default:
		return domain.Configf("library.neighbor_source", "must be memory or store, got %q", c.Library.NeighborSource)
	}

	for _, space := range []string{c.Library.PreselectionSpace, c.Library.RescoringSpace} {
		e, ok := c.Embedding.Spaces[space]
		if !ok {
			continue
		}
		if err := e.validate("embedding.spaces." + space); err != nil {
			return err
		}
	}

	switch c.Ranking.Kind {
	case "", "onnx", "forest", "linear":
	default:
		return domain.Configf("ranking.kind", "must be onnx, forest or linear, got %q", c.Ranking.Kind)
	}

	return c.Pipeline.validate()
}

func (e *EmbedderConfig) validate(prefix string) error {
	switch e.Kind {
	case EmbedderBinned:
	case EmbedderSpec2Vec:
		if e.Spec2Vec.Path == "" {
			return domain.NewConfigurationError(prefix+".spec2vec.path", "is required")
		}
	case EmbedderONNX:
		if e.ONNX.ModelPath == "" {
			return domain.NewConfigurationError(prefix+".onnx.model_path", "is required")
		}
	default:
		return domain.Configf(prefix+".kind", "must be binned, spec2vec or onnx, got %q", e.Kind)
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	if !p.Preselection.IsValid() {
		return domain.Configf("pipeline.preselection_policy", "must be top_spectra or top_structures, got %q", p.Preselection)
	}
	if p.MassBase <= 0 || p.MassBase >= 1 {
		return domain.Configf("pipeline.mass_base", "must be in (0,1), got %g", p.MassBase)
	}
	if p.MassWindowDa < 0 {
		return domain.Configf("pipeline.mass_window_da", "must not be negative, got %g", p.MassWindowDa)
	}
	if !p.MissingStructure.IsValid() {
		return domain.Configf("pipeline.missing_structure", "must be skip or abort, got %q", p.MissingStructure)
	}
	if !p.OnQueryError.IsValid() {
		return domain.Configf("pipeline.on_query_error", "must be skip or abort, got %q", p.OnQueryError)
	}
	if p.Workers < 0 {
		return domain.Configf("pipeline.workers", "must not be negative, got %d", p.Workers)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
