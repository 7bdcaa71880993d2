// Package library loads the read-only library snapshot the pipeline runs on.
package library

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
	"github.com/kailas-cloud/ms2rank/internal/identity"
	"github.com/kailas-cloud/ms2rank/internal/vectors"
)

// store is the consumer interface for snapshot loading (ISP).
type store interface {
	ListSpectra(ctx context.Context) ([]db.SpectrumRecord, error)
	LoadEmbeddings(ctx context.Context, space string) (*db.EmbeddingSet, error)
	ListNeighbors(ctx context.Context) (map[string][]db.Neighbor, error)
}

// Options selects what a snapshot contains.
type Options struct {
	PreselectionSpace string
	RescoringSpace    string
	NeighborK         int
	// InMemoryNeighbors loads the whole neighbor table into the identity
	// index. When false, neighbor lists are looked up in the store per query.
	InMemoryNeighbors bool
}

// Snapshot is the immutable library state shared by concurrent queries.
type Snapshot struct {
	Index        *identity.Index
	Preselection *vectors.Store
	Rescoring    *vectors.Store

	entries map[string]spectrum.Entry
	ids     []string
}

// Entry returns the structure-id and parent mass of one library spectrum.
// Metadata fields are not retained; they are served by the spectra repository.
func (s *Snapshot) Entry(id string) (spectrum.Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// IDs returns every library spectrum id, sorted.
func (s *Snapshot) IDs() []string { return s.ids }

// Len returns the number of library spectra.
func (s *Snapshot) Len() int { return len(s.ids) }

// Repo reads library state from a db.Store.
type Repo struct {
	store  store
	logger *zap.Logger
}

// New creates a library repository.
func New(s store, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{store: s, logger: logger}
}

// Load reads spectra, both embedding spaces and optionally the neighbor table.
// Every library spectrum must have exactly one vector in each space.
func (r *Repo) Load(ctx context.Context, opts Options) (*Snapshot, error) {
	if opts.PreselectionSpace == "" || opts.RescoringSpace == "" {
		return nil, domain.Configf("library.spaces", "both embedding spaces are required")
	}
	if opts.PreselectionSpace == opts.RescoringSpace {
		return nil, domain.Configf("library.spaces", "preselection and rescoring spaces must differ, both are %q", opts.PreselectionSpace)
	}

	records, err := r.store.ListSpectra(ctx)
	if err != nil {
		return nil, fmt.Errorf("list spectra: %w", err)
	}
	if len(records) == 0 {
		return nil, domain.NewInsufficientLibrary(0, 1)
	}

	snap := &Snapshot{
		entries: make(map[string]spectrum.Entry, len(records)),
		ids:     make([]string, 0, len(records)),
	}
	entries := make([]spectrum.Entry, 0, len(records))
	for i := range records {
		e := RecordToEntry(&records[i])
		e.Fields = nil
		snap.entries[e.ID] = e
		snap.ids = append(snap.ids, e.ID)
		entries = append(entries, e)
	}
	sort.Strings(snap.ids)

	snap.Preselection, err = r.loadSpace(ctx, opts.PreselectionSpace, snap.ids)
	if err != nil {
		return nil, err
	}
	snap.Rescoring, err = r.loadSpace(ctx, opts.RescoringSpace, snap.ids)
	if err != nil {
		return nil, err
	}

	var neighbors map[string][]structure.Neighbor
	if opts.InMemoryNeighbors {
		stored, err := r.store.ListNeighbors(ctx)
		if err != nil {
			return nil, fmt.Errorf("list neighbors: %w", err)
		}
		neighbors = NeighborsFromRecords(stored)
	}

	snap.Index, err = identity.Build(entries, neighbors, opts.NeighborK)
	if err != nil {
		return nil, fmt.Errorf("build identity index: %w", err)
	}

	r.logger.Info("Library loaded",
		zap.Int("spectra", snap.Len()),
		zap.Int("structures", len(snap.Index.Structures())),
		zap.String("preselection_space", opts.PreselectionSpace),
		zap.Int("preselection_dim", snap.Preselection.Dim()),
		zap.String("rescoring_space", opts.RescoringSpace),
		zap.Int("rescoring_dim", snap.Rescoring.Dim()),
		zap.Bool("in_memory_neighbors", opts.InMemoryNeighbors),
	)
	return snap, nil
}

func (r *Repo) loadSpace(ctx context.Context, space string, ids []string) (*vectors.Store, error) {
	set, err := r.store.LoadEmbeddings(ctx, space)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, domain.NewNotFound("embedding space", space)
		}
		return nil, fmt.Errorf("load embeddings %s: %w", space, err)
	}

	have := make(map[string]struct{}, len(set.IDs))
	for _, id := range set.IDs {
		have[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			return nil, fmt.Errorf("space %s: %w", space, domain.NewNotFound("embedding", id))
		}
	}
	if len(set.IDs) != len(ids) {
		return nil, fmt.Errorf("space %s has %d vectors for %d spectra", space, len(set.IDs), len(ids))
	}

	store, err := vectors.NewStore(space, set.Dim, set.IDs, set.Vectors)
	if err != nil {
		return nil, fmt.Errorf("space %s: %w", space, err)
	}
	return store, nil
}
