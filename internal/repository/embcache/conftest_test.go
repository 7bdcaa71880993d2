package embcache

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

type mockEmbedder struct {
	vec        []float32
	err        error
	calls      int
	batchCalls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ spectrum.Spectrum) ([]float32, error) {
	m.calls++
	return m.vec, m.err
}

func (m *mockEmbedder) Dimensions() int { return len(m.vec) }

// mockBatchEmbedder adds native batching.
type mockBatchEmbedder struct {
	mockEmbedder
}

func (m *mockBatchEmbedder) BatchEmbed(_ context.Context, spectra []spectrum.Spectrum) ([][]float32, error) {
	m.batchCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(spectra))
	for i := range spectra {
		out[i] = m.vec
	}
	return out, nil
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return nil
}

func testSpectrum(t *testing.T, id string, mz float64) spectrum.Spectrum {
	t.Helper()
	s, err := spectrum.New(
		[]spectrum.Peak{{MZ: mz, Intensity: 1}},
		map[string]string{spectrum.KeySpectrumID: id, spectrum.KeyParentMass: "180.07"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func newTestCachedEmbedder(t *testing.T, inner *mockEmbedder) (*CachedEmbedder, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	ce := New(inner, "spec2vec", ms, nil, zap.NewNop())
	return ce, ms
}
