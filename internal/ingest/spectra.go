// Package ingest decodes spectra and structural similarity tables from their
// interchange formats.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

// Keys holding the peak list; every other key of a record is metadata.
const (
	KeyPeaks     = "peaks"
	KeyPeaksJSON = "peaks_json"
)

// Record is one spectrum in JSON form: a flat object with a peak list of
// [mz, intensity] pairs under "peaks" (or "peaks_json") and scalar metadata.
type Record struct {
	Peaks    [][2]float64
	Metadata map[string]string
}

// Rejected describes a record that could not become a spectrum.
type Rejected struct {
	Index int
	ID    string
	Err   error
}

// UnmarshalJSON decodes a flat record. Numbers and booleans are kept in their
// JSON text form, nulls and nested objects are ignored.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	r.Metadata = make(map[string]string, len(raw))
	for key, value := range raw {
		if key == KeyPeaks || key == KeyPeaksJSON {
			peaks, err := decodePeaks(value)
			if err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			r.Peaks = peaks
			continue
		}
		if s, ok := scalar(value); ok {
			r.Metadata[key] = s
		}
	}
	return nil
}

// MarshalJSON writes the record back in the flat form.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		out[k] = v
	}
	peaks := r.Peaks
	if peaks == nil {
		peaks = [][2]float64{}
	}
	out[KeyPeaks] = peaks
	return json.Marshal(out)
}

// Spectrum validates the record and creates a spectrum.
func (r *Record) Spectrum() (spectrum.Spectrum, error) {
	peaks := make([]spectrum.Peak, len(r.Peaks))
	for i, p := range r.Peaks {
		peaks[i] = spectrum.Peak{MZ: p[0], Intensity: p[1]}
	}
	return spectrum.New(peaks, r.Metadata)
}

// FromSpectrum converts a spectrum to its JSON record.
func FromSpectrum(s *spectrum.Spectrum) Record {
	peaks := make([][2]float64, len(s.Peaks()))
	for i, p := range s.Peaks() {
		peaks[i] = [2]float64{p.MZ, p.Intensity}
	}
	meta := s.Metadata()
	if meta == nil {
		meta = map[string]string{}
	}
	meta[spectrum.KeySpectrumID] = s.ID()
	return Record{Peaks: peaks, Metadata: meta}
}

// Spectra converts records, collecting the ones that fail validation
// (for example a missing spectrum id) instead of aborting.
func Spectra(records []Record) ([]spectrum.Spectrum, []Rejected) {
	out := make([]spectrum.Spectrum, 0, len(records))
	var rejected []Rejected
	for i := range records {
		s, err := records[i].Spectrum()
		if err != nil {
			rejected = append(rejected, Rejected{Index: i, ID: records[i].Metadata[spectrum.KeySpectrumID], Err: err})
			continue
		}
		out = append(out, s)
	}
	return out, rejected
}

// ReadSpectra decodes a JSON array of records.
func ReadSpectra(r io.Reader) ([]spectrum.Spectrum, []Rejected, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, nil, fmt.Errorf("decode spectra: %w", err)
	}
	spectra, rejected := Spectra(records)
	return spectra, rejected, nil
}

// WriteSpectra encodes spectra as a JSON array of records.
func WriteSpectra(w io.Writer, spectra []spectrum.Spectrum) error {
	records := make([]Record, len(spectra))
	for i := range spectra {
		records[i] = FromSpectrum(&spectra[i])
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode spectra: %w", err)
	}
	return nil
}

func decodePeaks(raw json.RawMessage) ([][2]float64, error) {
	// peaks_json is sometimes stored as a JSON string holding the array.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}
	var peaks [][2]float64
	if err := json.Unmarshal(raw, &peaks); err != nil {
		return nil, err
	}
	return peaks, nil
}

func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case 'n', '{', '[':
		return "", false
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}
