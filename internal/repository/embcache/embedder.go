// Package embcache caches query embeddings in the store's key-value space.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

const cacheKeyPrefix = "emb_cache:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedEmbedder caches embeddings keyed by space and peak content.
type CachedEmbedder struct {
	inner      domain.Embedder
	space      string
	store      store
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.Embedder,
	space string,
	s store,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	return &CachedEmbedder{
		inner:      inner,
		space:      space,
		store:      s,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Dimensions returns the inner embedder's dimensionality.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Embed returns a cached embedding or calls the inner embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, s spectrum.Spectrum) ([]float32, error) {
	key := c.cacheKey(&s)

	if vec, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return vec, nil
	}

	c.incCache("miss")

	vec, err := c.inner.Embed(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("embed spectrum %s: %w", s.ID(), err)
	}

	c.putToCache(ctx, key, vec)
	return vec, nil
}

// BatchEmbed serves hits from the cache and sends only misses to the inner
// embedder, in one batch call when it supports batching.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, spectra []spectrum.Spectrum) ([][]float32, error) {
	if len(spectra) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(spectra))
	keys := make([]string, len(spectra))
	var missIdx []int
	var misses []spectrum.Spectrum

	for i := range spectra {
		keys[i] = c.cacheKey(&spectra[i])
		if vec, ok := c.getFromCache(ctx, keys[i]); ok {
			c.incCache("hit")
			out[i] = vec
			continue
		}
		c.incCache("miss")
		missIdx = append(missIdx, i)
		misses = append(misses, spectra[i])
	}

	if len(misses) == 0 {
		return out, nil
	}

	var vecs [][]float32
	var err error
	if be, ok := c.inner.(domain.BatchEmbedder); ok {
		vecs, err = be.BatchEmbed(ctx, misses)
	} else {
		vecs, err = domain.BatchFallback(ctx, c.inner, misses)
	}
	if err != nil {
		return nil, fmt.Errorf("batch embed: %w", err)
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("batch embed: %d vectors for %d spectra", len(vecs), len(misses))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		c.putToCache(ctx, keys[i], vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// cacheKey hashes the space name, the parent mass and every peak.
func (c *CachedEmbedder) cacheKey(s *spectrum.Spectrum) string {
	h := sha256.New()
	h.Write([]byte(c.space))
	h.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(s.ParentMass()))
	h.Write(buf[:])
	for _, p := range s.Peaks() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.MZ))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Intensity))
		h.Write(buf[:])
	}
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := db.DecodeVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if len(vec) != c.inner.Dimensions() {
		c.logger.Warn("Cached embedding has wrong dimensionality",
			zap.String("key", key), zap.Int("got", len(vec)), zap.Int("want", c.inner.Dimensions()))
		return nil, false
	}

	return vec, true
}

func (c *CachedEmbedder) putToCache(ctx context.Context, key string, vec []float32) {
	if err := c.store.Set(ctx, key, db.EncodeVector(vec)); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}
