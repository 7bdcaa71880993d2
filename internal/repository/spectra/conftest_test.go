package spectra

import (
	"context"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	getSpectrumFn  func(ctx context.Context, id string) (*db.SpectrumRecord, error)
	getSpectraFn   func(ctx context.Context, ids []string) ([]db.SpectrumRecord, error)
	putSpectraFn   func(ctx context.Context, records []db.SpectrumRecord) error
	countFn        func(ctx context.Context) (int, error)
	massRangeFn    func(ctx context.Context, lo, hi float64) ([]string, error)
	getSpectrumHit int
}

func (m *mockStore) GetSpectrum(ctx context.Context, id string) (*db.SpectrumRecord, error) {
	m.getSpectrumHit++
	if m.getSpectrumFn != nil {
		return m.getSpectrumFn(ctx, id)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockStore) GetSpectra(ctx context.Context, ids []string) ([]db.SpectrumRecord, error) {
	if m.getSpectraFn != nil {
		return m.getSpectraFn(ctx, ids)
	}
	return nil, nil
}

func (m *mockStore) PutSpectra(ctx context.Context, records []db.SpectrumRecord) error {
	if m.putSpectraFn != nil {
		return m.putSpectraFn(ctx, records)
	}
	return nil
}

func (m *mockStore) CountSpectra(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

func (m *mockStore) SpectrumIDsInMassRange(ctx context.Context, lo, hi float64) ([]string, error) {
	if m.massRangeFn != nil {
		return m.massRangeFn(ctx, lo, hi)
	}
	return nil, nil
}
