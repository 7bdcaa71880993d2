// Package training extracts labeled feature rows for fitting ranking models.
package training

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

// Row is a feature row labeled with the structural similarity between the
// query's and the candidate's structure-id.
type Row struct {
	QueryID          string
	QueryStructureID string
	Features         feature.Row
	Label            float64
}

// Report lists extracted rows and the queries left out for lacking a structure-id.
type Report struct {
	Rows    []Row
	Skipped []string
}

// Service extracts training data.
type Service struct {
	features     FeatureSource
	similarities SimilarityLookup
	logger       *zap.Logger
}

// New creates a training data extractor.
func New(features FeatureSource, similarities SimilarityLookup, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{features: features, similarities: similarities, logger: logger}
}

// Extract builds feature rows for every annotated query. Candidate labels
// default to 0 when no similarity is stored for the pair; identical
// structure-ids score 1.
func (s *Service) Extract(ctx context.Context, queries []spectrum.Spectrum, n int) (*Report, error) {
	report := &Report{Rows: []Row{}}
	annotated := make([]spectrum.Spectrum, 0, len(queries))
	for i := range queries {
		if queries[i].StructureID() == "" {
			report.Skipped = append(report.Skipped, queries[i].ID())
			continue
		}
		annotated = append(annotated, queries[i])
	}
	if len(report.Skipped) > 0 {
		s.logger.Warn("Unannotated queries skipped", zap.Int("count", len(report.Skipped)))
	}
	if len(annotated) == 0 {
		return report, nil
	}

	tables, err := s.features.FeatureRows(ctx, annotated, n)
	if err != nil {
		return nil, fmt.Errorf("feature rows: %w", err)
	}

	for qi, rows := range tables {
		q := &annotated[qi]
		for _, r := range rows {
			label, err := s.label(ctx, q.StructureID(), r.StructureID)
			if err != nil {
				return nil, fmt.Errorf("label %s/%s: %w", q.ID(), r.SpectrumID, err)
			}
			report.Rows = append(report.Rows, Row{
				QueryID:          q.ID(),
				QueryStructureID: q.StructureID(),
				Features:         r,
				Label:            label,
			})
		}
	}

	s.logger.Info("training_extract",
		zap.Int("queries", len(annotated)),
		zap.Int("rows", len(report.Rows)),
	)
	return report, nil
}

func (s *Service) label(ctx context.Context, query, candidate string) (float64, error) {
	if candidate == "" {
		return 0, nil
	}
	if query == candidate {
		return 1, nil
	}
	v, err := s.similarities.Similarity(ctx, query, candidate)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}
