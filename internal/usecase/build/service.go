// Package build ingests library spectra, their embeddings and the structural
// similarity table into a store.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
	"github.com/kailas-cloud/ms2rank/internal/identity"
)

// ErrLibraryNotEmpty is returned when the store already holds spectra and
// the build was not forced.
var ErrLibraryNotEmpty = errors.New("library is not empty")

// Space pairs an embedding space name with the model that fills it.
type Space struct {
	Name     string
	Embedder domain.Embedder
}

// Options controls one build.
type Options struct {
	NeighborK int
	// Force writes into a non-empty library.
	Force bool
}

// Report summarizes a build.
type Report struct {
	RunID      string
	Results    []Result
	Written    int
	Structures int
	Pairs      int
}

// Service writes a library.
type Service struct {
	spectra   SpectrumWriter
	vectors   EmbeddingWriter
	neighbors NeighborWriter
	spaces    []Space
	logger    *zap.Logger
}

// New creates a builder over at least one embedding space.
func New(spectra SpectrumWriter, vectors EmbeddingWriter, neighbors NeighborWriter, spaces []Space, logger *zap.Logger) (*Service, error) {
	if len(spaces) == 0 {
		return nil, domain.NewConfigurationError("embedding", "at least one embedding space is required")
	}
	seen := make(map[string]bool, len(spaces))
	for _, sp := range spaces {
		if sp.Name == "" || sp.Embedder == nil {
			return nil, domain.NewConfigurationError("embedding", "space name and embedder are required")
		}
		if seen[sp.Name] {
			return nil, domain.Configf("embedding", "duplicate space %q", sp.Name)
		}
		seen[sp.Name] = true
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{spectra: spectra, vectors: vectors, neighbors: neighbors, spaces: spaces, logger: logger}, nil
}

// Build normalizes and embeds the spectra, then writes spectra, every
// embedding space, the top-k neighbor table and the pairwise similarities.
// Spectra that fail are reported per item and left out of the library.
func (s *Service) Build(ctx context.Context, items []spectrum.Spectrum, pairs []structure.Pair, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	table, err := identity.NeighborTable(pairs, opts.NeighborK)
	if err != nil {
		return nil, fmt.Errorf("neighbor table: %w", err)
	}
	return s.build(ctx, items, table, pairs, opts)
}

// BuildFromMatrix is Build with the structural similarities given as a dense
// symmetric matrix whose rows and columns follow ids. The upper triangle is
// stored as pairwise similarities.
func (s *Service) BuildFromMatrix(ctx context.Context, items []spectrum.Spectrum, ids []string, m mat.Matrix, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	table, err := identity.NeighborTableFromMatrix(ids, m, opts.NeighborK)
	if err != nil {
		return nil, fmt.Errorf("neighbor table: %w", err)
	}
	pairs, err := identity.MatrixPairs(ids, m)
	if err != nil {
		return nil, fmt.Errorf("similarity pairs: %w", err)
	}
	return s.build(ctx, items, table, pairs, opts)
}

func (o Options) withDefaults() Options {
	if o.NeighborK <= 0 {
		o.NeighborK = domain.DefaultPipeline().NeighborK
	}
	return o
}

func (s *Service) build(ctx context.Context, items []spectrum.Spectrum, table map[string][]structure.Neighbor, pairs []structure.Pair, opts Options) (*Report, error) {
	existing, err := s.spectra.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count spectra: %w", err)
	}
	if existing > 0 && !opts.Force {
		return nil, fmt.Errorf("%d spectra stored: %w", existing, ErrLibraryNotEmpty)
	}

	runID := uuid.NewString()
	start := time.Now()
	results := make([]Result, len(items))

	valid, validIdx := s.prepare(items, results)

	vecs := make([][][]float32, len(s.spaces))
	for i, sp := range s.spaces {
		vecs[i] = s.embedAll(ctx, sp, valid, validIdx, results)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keep := make([]spectrum.Spectrum, 0, len(valid))
	keepIdx := make([]int, 0, len(valid))
	for j, i := range validIdx {
		if results[i].Status() == StatusError {
			continue
		}
		keep = append(keep, valid[j])
		keepIdx = append(keepIdx, j)
	}

	if err := s.write(ctx, keep, keepIdx, vecs); err != nil {
		return nil, err
	}
	if err := s.neighbors.Save(ctx, table); err != nil {
		return nil, fmt.Errorf("save neighbors: %w", err)
	}
	if err := s.neighbors.SaveSimilarities(ctx, pairs); err != nil {
		return nil, fmt.Errorf("save similarities: %w", err)
	}

	for j, i := range validIdx {
		if results[i].Status() == "" {
			results[i] = NewOK(valid[j].ID())
		}
	}

	report := &Report{
		RunID:      runID,
		Results:    results,
		Written:    len(keep),
		Structures: len(table),
		Pairs:      len(pairs),
	}
	s.logger.Info("library_build",
		zap.String("run_id", runID),
		zap.Int("spectra", len(items)),
		zap.Int("written", report.Written),
		zap.Int("failed", len(items)-report.Written),
		zap.Int("structures", report.Structures),
		zap.Int("pairs", report.Pairs),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// prepare rejects duplicate ids and scales intensities to a maximum of 1.
func (s *Service) prepare(items []spectrum.Spectrum, results []Result) ([]spectrum.Spectrum, []int) {
	valid := make([]spectrum.Spectrum, 0, len(items))
	validIdx := make([]int, 0, len(items))
	seen := make(map[string]int, len(items))
	for i := range items {
		id := items[i].ID()
		if first, dup := seen[id]; dup {
			results[i] = NewError(id, fmt.Errorf("duplicate spectrum id (first at %d)", first))
			continue
		}
		seen[id] = i
		valid = append(valid, items[i].Normalized())
		validIdx = append(validIdx, i)
	}
	return valid, validIdx
}

// embedAll embeds every valid spectrum in one space. A failed batch is
// retried per spectrum so that only the offending items are reported.
func (s *Service) embedAll(ctx context.Context, sp Space, valid []spectrum.Spectrum, validIdx []int, results []Result) [][]float32 {
	out := make([][]float32, len(valid))
	if be, ok := sp.Embedder.(domain.BatchEmbedder); ok && len(valid) > 0 {
		vecs, err := be.BatchEmbed(ctx, valid)
		if err == nil && len(vecs) == len(valid) {
			for j, v := range vecs {
				out[j] = v
				s.checkDim(sp, v, valid[j].ID(), validIdx[j], results)
			}
			return out
		}
		s.logger.Warn("Batch embedding failed, retrying per spectrum",
			zap.String("space", sp.Name),
			zap.Int("batch_size", len(valid)),
			zap.Error(err),
		)
	}

	for j := range valid {
		if results[validIdx[j]].Status() == StatusError {
			continue
		}
		v, err := sp.Embedder.Embed(ctx, valid[j])
		if err != nil {
			results[validIdx[j]] = NewError(valid[j].ID(), fmt.Errorf("embed %s: %w", sp.Name, err))
			continue
		}
		out[j] = v
		s.checkDim(sp, v, valid[j].ID(), validIdx[j], results)
	}
	return out
}

func (s *Service) checkDim(sp Space, v []float32, id string, idx int, results []Result) {
	if len(v) != sp.Embedder.Dimensions() && results[idx].Status() != StatusError {
		results[idx] = NewError(id, domain.NewDimensionMismatch(sp.Name, id, sp.Embedder.Dimensions(), len(v)))
	}
}

func (s *Service) write(ctx context.Context, keep []spectrum.Spectrum, keepIdx []int, vecs [][][]float32) error {
	if len(keep) == 0 {
		return nil
	}
	if err := s.spectra.Save(ctx, keep); err != nil {
		return fmt.Errorf("save spectra: %w", err)
	}
	ids := make([]string, len(keep))
	for i := range keep {
		ids[i] = keep[i].ID()
	}
	for si, sp := range s.spaces {
		rows := make([][]float32, len(keepIdx))
		for i, j := range keepIdx {
			rows[i] = vecs[si][j]
		}
		if err := s.vectors.PutEmbeddings(ctx, sp.Name, ids, rows); err != nil {
			return fmt.Errorf("save %s embeddings: %w", sp.Name, err)
		}
	}
	return nil
}
