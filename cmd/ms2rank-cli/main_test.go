package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/ms2rank"
	"github.com/kailas-cloud/ms2rank/internal/config"
	"github.com/kailas-cloud/ms2rank/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration", fmt.Errorf("open library: %w", domain.Configf("database.path", "no store")), ExitConfigError},
		{"input", dataErrorf("queries.json: no valid spectra"), ExitDataError},
		{"empty library", domain.NewInsufficientLibrary(0, 1), ExitDataError},
		{"other", errors.New("disk full"), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestLoadConfig_LibraryDirClearsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yaml := "database:\n  path: /data/old.sqlite\nranking:\n  kind: linear\n  path: /data/old.linear.json\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	configPath, libraryDir = path, dir
	t.Cleanup(func() { configPath, libraryDir = "", "" })

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "" || cfg.Ranking.Path != "" {
		t.Errorf("paths not cleared: db %q, model %q", cfg.Database.Path, cfg.Ranking.Path)
	}
	if cfg.Database.Driver != config.DriverSQLite {
		t.Errorf("driver: got %q", cfg.Database.Driver)
	}
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  cut_off: 5\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	configPath = path
	t.Cleanup(func() { configPath = "" })

	_, err := loadConfig()
	if !errors.Is(err, ms2rank.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if exitCode(err) != ExitConfigError {
		t.Errorf("exit code: got %d", exitCode(err))
	}
}

func TestReadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.json")
	body := `[{"spectrum_id": "q1", "peaks": [[100, 1]]}, {"peaks": [[100, 1]]}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spectra, err := readQueries(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spectra) != 1 || spectra[0].ID() != "q1" {
		t.Errorf("spectra: got %d", len(spectra))
	}

	if _, err := readQueries(filepath.Join(t.TempDir(), "missing.json")); exitCode(err) != ExitDataError {
		t.Errorf("missing file: got %v", err)
	}
}

func TestReadFile_Matrix(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "matrix.csv")
	bad := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(good, []byte("AAAAAAAAAAAAAA,BBBBBBBBBBBBBB\n1,0.5\n0.5,1\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(bad, []byte("AAAAAAAAAAAAAA,BBBBBBBBBBBBBB\n1,0.5\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m *ms2rank.SimilarityMatrix
	err := readFile(good, func(f *os.File) (err error) {
		m, err = ms2rank.ReadSimilarityMatrix(f)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.IDs) != 2 || m.Values.At(0, 1) != 0.5 {
		t.Errorf("unexpected matrix %+v", m)
	}

	for _, path := range []string{bad, filepath.Join(dir, "missing.csv")} {
		err := readFile(path, func(f *os.File) error {
			_, err := ms2rank.ReadSimilarityMatrix(f)
			return err
		})
		if exitCode(err) != ExitDataError {
			t.Errorf("%s: expected data error exit code, got %d (%v)", filepath.Base(path), exitCode(err), err)
		}
	}
}
