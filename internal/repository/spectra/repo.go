// Package spectra reads and writes library spectra, with a ristretto cache
// over metadata lookups by spectrum id.
package spectra

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/repository/library"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1 << 24 // 16MB of metadata
	defaultBufferItems = 64
)

// store is the consumer interface for spectrum access (ISP).
type store interface {
	GetSpectrum(ctx context.Context, id string) (*db.SpectrumRecord, error)
	GetSpectra(ctx context.Context, ids []string) ([]db.SpectrumRecord, error)
	PutSpectra(ctx context.Context, records []db.SpectrumRecord) error
	CountSpectra(ctx context.Context) (int, error)
	SpectrumIDsInMassRange(ctx context.Context, lo, hi float64) ([]string, error)
}

// Repo implements spectrum lookups and range queries over a store.
type Repo struct {
	store store
	cache *ristretto.Cache
}

// New creates a spectrum repository. maxCost <= 0 uses the default budget.
func New(s store, maxCost int64) (*Repo, error) {
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     maxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}
	return &Repo{store: s, cache: cache}, nil
}

// Close releases the cache.
func (r *Repo) Close() {
	r.cache.Close()
}

// Entry returns the metadata of one spectrum; a missing id fails with
// domain.NotFoundError.
func (r *Repo) Entry(ctx context.Context, id string) (spectrum.Entry, error) {
	if v, ok := r.cache.Get(id); ok {
		if e, ok := v.(spectrum.Entry); ok {
			return e, nil
		}
	}

	rec, err := r.store.GetSpectrum(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return spectrum.Entry{}, domain.NewNotFound("spectrum", id)
		}
		return spectrum.Entry{}, fmt.Errorf("get spectrum %s: %w", id, err)
	}
	e := library.RecordToEntry(rec)
	r.cache.Set(id, e, entryCost(e))
	return e, nil
}

// Entries returns the metadata of the given spectra keyed by id. Cached
// entries are served first; the rest are fetched in one store call and cached.
// Any missing id fails the whole call with domain.ErrNotFound.
func (r *Repo) Entries(ctx context.Context, ids []string) (map[string]spectrum.Entry, error) {
	out := make(map[string]spectrum.Entry, len(ids))
	var misses []string
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		if v, ok := r.cache.Get(id); ok {
			if e, ok := v.(spectrum.Entry); ok {
				out[id] = e
				continue
			}
		}
		out[id] = spectrum.Entry{}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	recs, err := r.store.GetSpectra(ctx, misses)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("get spectra: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get spectra: %w", err)
	}
	for i := range recs {
		e := library.RecordToEntry(&recs[i])
		out[e.ID] = e
		r.cache.Set(e.ID, e, entryCost(e))
	}
	r.cache.Wait()
	return out, nil
}

// Save writes spectra and evicts their cached metadata.
func (r *Repo) Save(ctx context.Context, items []spectrum.Spectrum) error {
	recs := make([]db.SpectrumRecord, len(items))
	for i := range items {
		recs[i] = library.SpectrumToRecord(&items[i])
	}
	if err := r.store.PutSpectra(ctx, recs); err != nil {
		return fmt.Errorf("put spectra: %w", err)
	}
	for i := range items {
		r.cache.Del(items[i].ID())
	}
	return nil
}

// Count returns the number of stored spectra.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.CountSpectra(ctx)
	if err != nil {
		return 0, fmt.Errorf("count spectra: %w", err)
	}
	return n, nil
}

// IDsInMassWindow returns library ids with parent mass within ±window of mass.
func (r *Repo) IDsInMassWindow(ctx context.Context, mass, window float64) ([]string, error) {
	if window < 0 {
		return nil, domain.Configf("pipeline.mass_window_da", "must not be negative, got %g", window)
	}
	ids, err := r.store.SpectrumIDsInMassRange(ctx, mass-window, mass+window)
	if err != nil {
		return nil, fmt.Errorf("mass range query: %w", err)
	}
	return ids, nil
}

// entryCost approximates the retained bytes of one entry.
func entryCost(e spectrum.Entry) int64 {
	cost := int64(64 + len(e.ID) + len(e.StructureID))
	for k, v := range e.Fields {
		cost += int64(len(k) + len(v) + 16)
	}
	return cost
}
