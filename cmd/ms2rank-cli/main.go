// Package main provides the ms2rank-cli entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ms2rank"
	"github.com/kailas-cloud/ms2rank/internal/config"
	logpkg "github.com/kailas-cloud/ms2rank/internal/logger"
	"github.com/kailas-cloud/ms2rank/internal/version"
)

// Exit codes.
const (
	ExitError       = 1 // runtime failure
	ExitConfigError = 2 // invalid configuration or missing library artifacts
	ExitDataError   = 3 // malformed input, empty library
)

var (
	configPath string
	libraryDir string
	dbPath     string
	logLevel   string
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "ms2rank-cli",
	Short: "Rank library candidates for MS2 query spectra",
	Long: `ms2rank-cli builds spectral libraries and ranks library candidates
for MS2 query spectra.

Settings come from a YAML file (config/$ENV.yaml unless --config is set).
--library points at a directory holding one *.sqlite store and one ranking
model, both discovered by suffix.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default config/$ENV.yaml)")
	rootCmd.PersistentFlags().StringVar(&libraryDir, "library", "", "Library directory with a *.sqlite store and a ranking model")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite library store path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level on stderr: debug, info, warn, error (default warn)")
	rootCmd.Version = version.Version
}

// dataError marks failures caused by the user's input files.
type dataError struct{ err error }

func (e *dataError) Error() string { return e.err.Error() }
func (e *dataError) Unwrap() error { return e.err }

func dataErrorf(format string, args ...any) error {
	return &dataError{err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var de *dataError
	switch {
	case errors.Is(err, ms2rank.ErrConfiguration):
		return ExitConfigError
	case errors.As(err, &de), errors.Is(err, ms2rank.ErrInsufficientLibrary):
		return ExitDataError
	default:
		return ExitError
	}
}

// loadConfig reads the config file without validating it; the library
// directory and flags may still supply the store and model paths.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = fmt.Sprintf("config/%s.yaml", config.GetEnv())
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied config path
	if err != nil {
		return config.Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := config.Decode(data)
	if err != nil {
		return config.Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if libraryDir != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = ""
		cfg.Ranking.Path = ""
	}
	return cfg, nil
}

// libraryOptions assembles facade options from the config file and flags.
// The returned func flushes the logger.
func libraryOptions() ([]ms2rank.Option, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logpkg.NewLogger("cli", logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	opts := []ms2rank.Option{ms2rank.WithConfig(cfg), ms2rank.WithLogger(logger)}
	if libraryDir != "" {
		opts = append(opts, ms2rank.WithLibraryDir(libraryDir))
	}
	if dbPath != "" {
		opts = append(opts, ms2rank.WithSQLite(dbPath))
	}
	return opts, func() { _ = logger.Sync() }, nil
}

// readQueries loads query spectra, reporting rejected records on stderr.
func readQueries(path string) ([]ms2rank.Spectrum, error) {
	f, err := os.Open(path) //nolint:gosec // user-supplied input path
	if err != nil {
		return nil, dataErrorf("open %s: %w", path, err)
	}
	defer f.Close()

	spectra, rejected, err := ms2rank.ReadSpectra(f)
	if err != nil {
		return nil, &dataError{err: err}
	}
	for _, r := range rejected {
		fmt.Fprintf(os.Stderr, "warning: %s: record %d (%s) skipped: %v\n", path, r.Index, r.ID, r.Err)
	}
	if len(spectra) == 0 {
		return nil, dataErrorf("%s: no valid spectra", path)
	}
	return spectra, nil
}

// createOutput opens path for writing; "-" or "" is stdout.
func createOutput(path string) (*os.File, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path) //nolint:gosec // user-supplied output path
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}
