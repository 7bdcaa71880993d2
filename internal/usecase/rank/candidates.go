package rank

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/metrics"
	"github.com/kailas-cloud/ms2rank/internal/usecase/features"
	"github.com/kailas-cloud/ms2rank/internal/vectors"
)

type candidateSet struct {
	rows               []feature.Row
	preselectionScores map[string]float64
}

// librarySeries exposes one query's full preselection-space scores by spectrum id.
type librarySeries struct {
	store  *vectors.Store
	scores []float64
}

func (l librarySeries) Score(id string) (float64, bool) {
	p, ok := l.store.Position(id)
	if !ok {
		return 0, false
	}
	return l.scores[p], true
}

func (s *Service) candidates(ctx context.Context, q *spectrum.Spectrum, n int, keep bool) (*candidateSet, error) {
	preVec, err := s.embed(ctx, s.preEmbed, s.snapshot.Preselection, q)
	if err != nil {
		return nil, err
	}
	resVec, err := s.embed(ctx, s.resEmbed, s.snapshot.Rescoring, q)
	if err != nil {
		return nil, err
	}

	all, err := s.snapshot.Preselection.Scores([][]float32{preVec})
	if err != nil {
		return nil, fmt.Errorf("preselection scores: %w", err)
	}
	series := librarySeries{store: s.snapshot.Preselection, scores: all[0]}

	out := &candidateSet{rows: []feature.Row{}}
	if keep {
		out.preselectionScores = make(map[string]float64, len(all[0]))
		for i, id := range s.snapshot.Preselection.IDs() {
			out.preselectionScores[id] = all[0][i]
		}
	}

	ids, scores := s.snapshot.Preselection.IDs(), all[0]
	if s.cfg.MassWindow > 0 && q.ParentMass() > 0 {
		ids, scores, err = s.restrictToMassWindow(ctx, q.ParentMass(), series)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			s.logger.Debug("No library spectra in mass window",
				zap.String("query_id", q.ID()),
				zap.Float64("parent_mass", q.ParentMass()),
			)
			metrics.PreselectedCandidates.Observe(0)
			return out, nil
		}
	}

	selected, err := s.preselector.Select(ids, scores, n)
	if err != nil {
		return nil, err
	}
	metrics.PreselectedCandidates.Observe(float64(len(selected)))

	cands := make([]features.Candidate, len(selected))
	candIDs := make([]string, len(selected))
	structures := make([]string, 0, len(selected))
	for i, c := range selected {
		entry, ok := s.snapshot.Entry(c.SpectrumID)
		if !ok {
			return nil, domain.NewNotFound("spectrum", c.SpectrumID)
		}
		cands[i] = features.Candidate{
			SpectrumID:        c.SpectrumID,
			StructureID:       entry.StructureID,
			ParentMass:        entry.ParentMass,
			PreselectionScore: c.Score,
		}
		candIDs[i] = c.SpectrumID
		if entry.StructureID == "" {
			metrics.CandidateSkipsTotal.WithLabelValues(ReasonUnannotated).Inc()
			continue
		}
		structures = append(structures, entry.StructureID)
	}

	agg, err := s.aggregator.Aggregate(ctx, series, structures)
	if err != nil {
		return nil, err
	}
	for _, sk := range agg.Skipped {
		metrics.CandidateSkipsTotal.WithLabelValues(sk.Reason).Inc()
		s.logger.Debug("Structure signals zero-filled",
			zap.String("query_id", q.ID()),
			zap.String("structure_id", sk.StructureID),
			zap.String("reason", sk.Reason),
			zap.Error(sk.Err),
		)
	}

	rescored, err := s.snapshot.Rescoring.ScoreIDs(resVec, candIDs)
	if err != nil {
		return nil, fmt.Errorf("rescoring scores: %w", err)
	}
	for i := range cands {
		cands[i].RescoringScore = rescored[i]
	}

	out.rows = s.features.Build(q.ParentMass(), cands, agg.Signals)
	return out, nil
}

func (s *Service) embed(ctx context.Context, e domain.Embedder, store *vectors.Store, q *spectrum.Spectrum) ([]float32, error) {
	vec, err := e.Embed(ctx, *q)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", store.Space(), err)
	}
	if len(vec) != store.Dim() {
		return nil, domain.NewDimensionMismatch(store.Space(), q.ID(), store.Dim(), len(vec))
	}
	return vec, nil
}

// restrictToMassWindow keeps the library spectra the store reports inside the
// window, paired with their preselection scores.
func (s *Service) restrictToMassWindow(ctx context.Context, mass float64, series librarySeries) ([]string, []float64, error) {
	inWindow, err := s.massWindow.IDsInMassWindow(ctx, mass, s.cfg.MassWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("mass window: %w", err)
	}
	ids := make([]string, 0, len(inWindow))
	scores := make([]float64, 0, len(inWindow))
	for _, id := range inWindow {
		score, ok := series.Score(id)
		if !ok {
			continue
		}
		ids = append(ids, id)
		scores = append(scores, score)
	}
	return ids, scores, nil
}
