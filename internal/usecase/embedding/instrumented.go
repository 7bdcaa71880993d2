// Package embedding wraps query embedders with per-space metrics and logging.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/metrics"
)

// DefaultMaxBatchSize caps the spectra passed to one inner BatchEmbed call.
const DefaultMaxBatchSize = 256

// InstrumentedEmbedder records request counts and latency for one embedding space.
type InstrumentedEmbedder struct {
	inner        domain.Embedder
	space        string
	maxBatchSize int
	logger       *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. maxBatchSize <= 0 uses DefaultMaxBatchSize.
func NewInstrumentedEmbedder(inner domain.Embedder, space string, maxBatchSize int, logger *zap.Logger) *InstrumentedEmbedder {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &InstrumentedEmbedder{
		inner:        inner,
		space:        space,
		maxBatchSize: maxBatchSize,
		logger:       logger,
	}
}

// Dimensions returns the inner embedder's dimensionality.
func (p *InstrumentedEmbedder) Dimensions() int { return p.inner.Dimensions() }

// Embed delegates to the inner embedder.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, s spectrum.Spectrum) ([]float32, error) {
	start := time.Now()
	vec, err := p.inner.Embed(ctx, s)
	duration := time.Since(start)
	p.observe(duration, err)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("space", p.space),
			zap.String("spectrum_id", s.ID()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, fmt.Errorf("embed %s: %w", p.space, err)
	}

	p.logger.Debug("Embedding request completed",
		zap.String("space", p.space),
		zap.String("spectrum_id", s.ID()),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(vec)),
	)
	return vec, nil
}

// BatchEmbed splits the spectra into chunks of at most maxBatchSize.
func (p *InstrumentedEmbedder) BatchEmbed(ctx context.Context, spectra []spectrum.Spectrum) ([][]float32, error) {
	if len(spectra) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	out := make([][]float32, 0, len(spectra))
	for offset := 0; offset < len(spectra); offset += p.maxBatchSize {
		end := min(offset+p.maxBatchSize, len(spectra))
		chunk := spectra[offset:end]

		chunkStart := time.Now()
		vecs, err := p.embedInner(ctx, chunk)
		p.observe(time.Since(chunkStart), err)
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.String("space", p.space),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("batch embed %s: %w", p.space, err)
		}
		out = append(out, vecs...)
	}

	p.logger.Debug("Batch embedding completed",
		zap.String("space", p.space),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(spectra)),
	)
	return out, nil
}

// HealthCheck delegates when the inner embedder supports it.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s embedder: %w", p.space, err)
		}
	}
	return nil
}

func (p *InstrumentedEmbedder) embedInner(ctx context.Context, spectra []spectrum.Spectrum) ([][]float32, error) {
	if be, ok := p.inner.(domain.BatchEmbedder); ok {
		vecs, err := be.BatchEmbed(ctx, spectra)
		if err != nil {
			return nil, fmt.Errorf("inner batch embed: %w", err)
		}
		if len(vecs) != len(spectra) {
			return nil, fmt.Errorf("inner batch embed: expected %d vectors, got %d", len(spectra), len(vecs))
		}
		return vecs, nil
	}
	vecs, err := domain.BatchFallback(ctx, p.inner, spectra)
	if err != nil {
		return nil, fmt.Errorf("inner batch fallback: %w", err)
	}
	return vecs, nil
}

func (p *InstrumentedEmbedder) observe(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(p.space, status).Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(p.space).Observe(d.Seconds())
}
