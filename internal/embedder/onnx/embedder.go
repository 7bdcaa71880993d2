// Package onnx embeds binned spectra through a pretrained ONNX network.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/embedder/binned"
	"github.com/kailas-cloud/ms2rank/internal/onnxrt"
)

// Config describes the network and its input grid.
type Config struct {
	ModelPath         string
	SharedLibraryPath string
	InputName         string
	OutputName        string
	// Dimensions is the embedding length; 0 reads it from the model.
	Dimensions int
	Binning    binned.Config
}

var errClosed = errors.New("onnx embedder is closed")

// Embedder runs float32 [N, bins] -> [N, dim] inference.
type Embedder struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	bins    *binned.Embedder
	dim     int
	closed  bool
}

// NewEmbedder opens the model.
func NewEmbedder(cfg *Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, domain.NewConfigurationError("embedding.onnx.model_path", "is required")
	}
	if cfg.Dimensions < 0 {
		return nil, domain.Configf("embedding.onnx.dimensions", "must not be negative, got %d", cfg.Dimensions)
	}
	bins, err := binned.NewEmbedder(cfg.Binning)
	if err != nil {
		return nil, err
	}

	if err := onnxrt.Acquire(cfg.SharedLibraryPath); err != nil {
		return nil, domain.Configf("ranking.onnxruntime_path", "%v", err)
	}
	e, err := open(cfg, bins)
	if err != nil {
		_ = onnxrt.Release()
		return nil, err
	}
	return e, nil
}

func open(cfg *Config, bins *binned.Embedder) (*Embedder, error) {
	in, out := cfg.InputName, cfg.OutputName
	if in == "" || out == "" {
		declIn, declOut, err := onnxrt.IONames(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("load onnx embedder: %w", err)
		}
		if in == "" {
			in = declIn
		}
		if out == "" {
			out = declOut
		}
	}

	dim := cfg.Dimensions
	if dim == 0 {
		w, err := onnxrt.OutputWidth(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("load onnx embedder: %w", err)
		}
		if w == 0 {
			return nil, domain.NewConfigurationError("embedding.onnx.dimensions",
				"model output width is dynamic and must be configured")
		}
		dim = w
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{in}, []string{out}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session for %s: %w", cfg.ModelPath, err)
	}
	return &Embedder{session: session, bins: bins, dim: dim}, nil
}

// Dimensions returns the embedding length.
func (e *Embedder) Dimensions() int { return e.dim }

// Embed vectorizes one spectrum.
func (e *Embedder) Embed(ctx context.Context, s spectrum.Spectrum) ([]float32, error) {
	out, err := e.BatchEmbed(ctx, []spectrum.Spectrum{s})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// BatchEmbed runs one inference over all spectra.
func (e *Embedder) BatchEmbed(ctx context.Context, spectra []spectrum.Spectrum) ([][]float32, error) {
	if len(spectra) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width := e.bins.Dimensions()
	n := int64(len(spectra))
	input, err := ort.NewTensor(ort.NewShape(n, int64(width)), inputMatrix(e.bins, spectra))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(n, int64(e.dim)))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errClosed
	}
	err = e.session.Run([]ort.Value{input}, []ort.Value{output})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	return splitRows(output.GetData(), len(spectra), e.dim), nil
}

// HealthCheck reports whether the session is usable.
func (e *Embedder) HealthCheck(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	return nil
}

// Close destroys the session and releases the runtime reference.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.session.Destroy(); err != nil {
		_ = onnxrt.Release()
		return fmt.Errorf("destroy onnx session: %w", err)
	}
	return onnxrt.Release()
}

// inputMatrix lays the binned spectra out row-major.
func inputMatrix(b *binned.Embedder, spectra []spectrum.Spectrum) []float32 {
	data := make([]float32, 0, len(spectra)*b.Dimensions())
	for i := range spectra {
		data = append(data, b.Vector(&spectra[i])...)
	}
	return data
}

// splitRows copies a row-major [n, dim] buffer into per-row slices.
func splitRows(raw []float32, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		row := make([]float32, dim)
		copy(row, raw[i*dim:(i+1)*dim])
		out[i] = row
	}
	return out
}
