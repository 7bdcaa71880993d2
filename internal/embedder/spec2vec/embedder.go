// Package spec2vec embeds spectra as intensity-weighted sums of pretrained
// peak word vectors.
package spec2vec

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

const (
	defaultDecimals       = 2
	defaultIntensityPower = 0.5
	defaultAllowedMissing = 10.0
	defaultLossFrom       = 5.0
	defaultLossTo         = 200.0
)

// Config holds the document and weighting settings.
type Config struct {
	// Decimals is the m/z precision of peak words.
	Decimals       int
	IntensityPower float64
	// AllowedMissingPercentage bounds the weighted share of words absent
	// from the vocabulary.
	AllowedMissingPercentage float64
	// AddLosses adds "loss@" words for precursor_mz minus peak m/z.
	AddLosses bool
	LossFrom  float64
	LossTo    float64
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Decimals == 0 {
		c.Decimals = defaultDecimals
	}
	if c.IntensityPower == 0 {
		c.IntensityPower = defaultIntensityPower
	}
	if c.AllowedMissingPercentage == 0 {
		c.AllowedMissingPercentage = defaultAllowedMissing
	}
	if c.LossFrom == 0 && c.LossTo == 0 {
		c.LossFrom, c.LossTo = defaultLossFrom, defaultLossTo
	}
}

// MissingWordsError reports a spectrum whose unknown words carry too much intensity.
type MissingWordsError struct {
	SpectrumID string
	Percentage float64
	Allowed    float64
}

func (e *MissingWordsError) Error() string {
	return fmt.Sprintf("spectrum %q: %.1f%% of weighted peaks missing from vocabulary (allowed %.1f%%)",
		e.SpectrumID, e.Percentage, e.Allowed)
}

// Embedder computes spec2vec vectors.
type Embedder struct {
	cfg   Config
	vocab *Vocabulary
}

// NewEmbedder creates an embedder over a loaded vocabulary.
func NewEmbedder(vocab *Vocabulary, cfg Config) (*Embedder, error) {
	if vocab == nil {
		return nil, domain.NewConfigurationError("embedding.spec2vec.path", "vocabulary is required")
	}
	cfg.ApplyDefaults()
	switch {
	case cfg.Decimals < 0:
		return nil, domain.Configf("embedding.spec2vec.decimals", "must not be negative, got %d", cfg.Decimals)
	case cfg.AllowedMissingPercentage < 0 || cfg.AllowedMissingPercentage > 100:
		return nil, domain.Configf("embedding.spec2vec.allowed_missing_percentage",
			"must be within [0, 100], got %g", cfg.AllowedMissingPercentage)
	case cfg.AddLosses && cfg.LossTo <= cfg.LossFrom:
		return nil, domain.Configf("embedding.spec2vec.loss_to", "must exceed loss_from (%g)", cfg.LossFrom)
	}
	return &Embedder{cfg: cfg, vocab: vocab}, nil
}

// Dimensions returns the word vector length.
func (e *Embedder) Dimensions() int { return e.vocab.Dim() }

// Embed sums the vectors of the spectrum's words weighted by intensity^power.
func (e *Embedder) Embed(ctx context.Context, s spectrum.Spectrum) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words, weights := e.Document(&s)
	vec := make([]float32, e.vocab.Dim())
	var total, missing float64
	for i, w := range words {
		weight := math.Pow(weights[i], e.cfg.IntensityPower)
		total += weight
		wv, ok := e.vocab.Lookup(w)
		if !ok {
			missing += weight
			continue
		}
		for j, x := range wv {
			vec[j] += float32(weight) * x
		}
	}

	if total > 0 {
		pct := 100 * missing / (total + 1e-9)
		if pct > e.cfg.AllowedMissingPercentage {
			return nil, &MissingWordsError{SpectrumID: s.ID(), Percentage: pct, Allowed: e.cfg.AllowedMissingPercentage}
		}
	}
	return vec, nil
}

// Document returns the spectrum's words and their max-normalized intensities.
func (e *Embedder) Document(s *spectrum.Spectrum) ([]string, []float64) {
	norm := s.Normalized()
	peaks := norm.Peaks()
	words := make([]string, 0, len(peaks))
	weights := make([]float64, 0, len(peaks))
	for _, p := range peaks {
		words = append(words, "peak@"+strconv.FormatFloat(p.MZ, 'f', e.cfg.Decimals, 64))
		weights = append(weights, p.Intensity)
	}

	if !e.cfg.AddLosses {
		return words, weights
	}
	precursor, ok := precursorMZ(&norm)
	if !ok {
		return words, weights
	}
	for _, p := range peaks {
		loss := precursor - p.MZ
		if loss < e.cfg.LossFrom || loss > e.cfg.LossTo {
			continue
		}
		words = append(words, "loss@"+strconv.FormatFloat(loss, 'f', e.cfg.Decimals, 64))
		weights = append(weights, p.Intensity)
	}
	return words, weights
}

func precursorMZ(s *spectrum.Spectrum) (float64, bool) {
	raw, ok := s.Get(spectrum.KeyPrecursorMZ)
	if !ok {
		return 0, false
	}
	mz, err := strconv.ParseFloat(raw, 64)
	if err != nil || mz <= 0 {
		return 0, false
	}
	return mz, true
}
