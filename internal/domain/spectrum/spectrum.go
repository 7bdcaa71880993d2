// Package spectrum holds the immutable MS2 spectrum value object.
package spectrum

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

// Well-known metadata keys.
const (
	KeySpectrumID   = "spectrum_id"
	KeyInChIKey     = "inchikey"
	KeyStructureID  = "structure_id"
	KeyParentMass   = "parent_mass"
	KeyPrecursorMZ  = "precursor_mz"
	KeyCompoundName = "compound_name"
	KeySmiles       = "smiles"
)

// Peak is one (m/z, intensity) pair.
type Peak struct {
	MZ        float64
	Intensity float64
}

// Spectrum is an MS2 spectrum (immutable value object).
// Peaks are kept sorted by ascending m/z.
type Spectrum struct {
	id          string
	structureID string
	parentMass  float64
	peaks       []Peak
	metadata    map[string]string
}

// New validates peaks and metadata and creates a Spectrum.
// The spectrum id is required. The structure-id is taken from "structure_id"
// when present, otherwise derived from the first 14 characters of "inchikey".
// Parent mass falls back to "precursor_mz"; 0 means unknown.
func New(peaks []Peak, metadata map[string]string) (Spectrum, error) {
	id := strings.TrimSpace(metadata[KeySpectrumID])
	if id == "" {
		return Spectrum{}, fmt.Errorf("spectrum id is required (metadata key %q)", KeySpectrumID)
	}

	for i, p := range peaks {
		if math.IsNaN(p.MZ) || math.IsInf(p.MZ, 0) || p.MZ <= 0 {
			return Spectrum{}, fmt.Errorf("spectrum %q: peak %d has invalid m/z %v", id, i, p.MZ)
		}
		if math.IsNaN(p.Intensity) || math.IsInf(p.Intensity, 0) || p.Intensity < 0 {
			return Spectrum{}, fmt.Errorf("spectrum %q: peak %d has invalid intensity %v", id, i, p.Intensity)
		}
	}

	mass, err := parentMassFrom(metadata)
	if err != nil {
		return Spectrum{}, fmt.Errorf("spectrum %q: %w", id, err)
	}

	sorted := make([]Peak, len(peaks))
	copy(sorted, peaks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MZ < sorted[j].MZ })

	return Spectrum{
		id:          id,
		structureID: structureIDFrom(metadata),
		parentMass:  mass,
		peaks:       sorted,
		metadata:    cloneMap(metadata),
	}, nil
}

// ID returns the unique spectrum identifier.
func (s *Spectrum) ID() string { return s.id }

// StructureID returns the 14-character structure-id, or "" when unannotated.
func (s *Spectrum) StructureID() string { return s.structureID }

// ParentMass returns the parent mass in Da, 0 when unknown.
func (s *Spectrum) ParentMass() float64 { return s.parentMass }

// Peaks returns the peaks sorted by m/z. Callers must not modify the slice.
func (s *Spectrum) Peaks() []Peak { return s.peaks }

// Get returns a metadata value.
func (s *Spectrum) Get(key string) (string, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

// Metadata returns a copy of the metadata mapping.
func (s *Spectrum) Metadata() map[string]string { return cloneMap(s.metadata) }

// Entry returns the peak-free library entry view of the spectrum.
func (s *Spectrum) Entry() Entry {
	return Entry{ID: s.id, StructureID: s.structureID, ParentMass: s.parentMass, Fields: cloneMap(s.metadata)}
}

// WithPeaks returns a copy with the given peaks (re-sorted by m/z).
func (s *Spectrum) WithPeaks(peaks []Peak) Spectrum {
	sorted := make([]Peak, len(peaks))
	copy(sorted, peaks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MZ < sorted[j].MZ })
	return Spectrum{
		id: s.id, structureID: s.structureID, parentMass: s.parentMass,
		peaks: sorted, metadata: s.metadata,
	}
}

// Normalized returns a copy with intensities scaled so that the highest peak is 1.
// A spectrum without positive intensities is returned unchanged.
func (s *Spectrum) Normalized() Spectrum {
	maxIntensity := 0.0
	for _, p := range s.peaks {
		maxIntensity = max(maxIntensity, p.Intensity)
	}
	if maxIntensity == 0 {
		return *s
	}
	peaks := make([]Peak, len(s.peaks))
	for i, p := range s.peaks {
		peaks[i] = Peak{MZ: p.MZ, Intensity: p.Intensity / maxIntensity}
	}
	return Spectrum{
		id: s.id, structureID: s.structureID, parentMass: s.parentMass,
		peaks: peaks, metadata: s.metadata,
	}
}

// Entry is the library metadata of one spectrum, without peaks.
type Entry struct {
	ID          string
	StructureID string
	ParentMass  float64 // 0 when unknown
	Fields      map[string]string
}

func parentMassFrom(metadata map[string]string) (float64, error) {
	for _, key := range []string{KeyParentMass, KeyPrecursorMZ} {
		raw := strings.TrimSpace(metadata[key])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0, fmt.Errorf("invalid %s %q", key, raw)
		}
		return v, nil
	}
	return 0, nil
}

func structureIDFrom(metadata map[string]string) string {
	if id := strings.TrimSpace(metadata[KeyStructureID]); structure.Valid(id) {
		return id
	}
	return structure.FromInChIKey(metadata[KeyInChIKey])
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
