package library

import (
	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

// RecordToEntry converts a stored record to its peak-free library entry.
func RecordToEntry(rec *db.SpectrumRecord) spectrum.Entry {
	return spectrum.Entry{
		ID:          rec.ID,
		StructureID: rec.StructureID,
		ParentMass:  rec.ParentMass,
		Fields:      rec.Metadata,
	}
}

// SpectrumToRecord converts a spectrum to its stored form.
func SpectrumToRecord(s *spectrum.Spectrum) db.SpectrumRecord {
	src := s.Peaks()
	peaks := make([]db.Peak, len(src))
	for i, p := range src {
		peaks[i] = db.Peak{MZ: p.MZ, Intensity: p.Intensity}
	}
	return db.SpectrumRecord{
		ID:          s.ID(),
		StructureID: s.StructureID(),
		ParentMass:  s.ParentMass(),
		Peaks:       peaks,
		Metadata:    s.Metadata(),
	}
}

// NeighborsFromRecords converts a stored neighbor table.
func NeighborsFromRecords(stored map[string][]db.Neighbor) map[string][]structure.Neighbor {
	out := make(map[string][]structure.Neighbor, len(stored))
	for id, list := range stored {
		out[id] = neighborsFromRecord(list)
	}
	return out
}

func neighborsFromRecord(list []db.Neighbor) []structure.Neighbor {
	out := make([]structure.Neighbor, len(list))
	for i, n := range list {
		out[i] = structure.Neighbor{ID: n.ID, Similarity: n.Similarity}
	}
	return out
}

// NeighborsToRecords converts a neighbor table to its stored form.
func NeighborsToRecords(table map[string][]structure.Neighbor) map[string][]db.Neighbor {
	out := make(map[string][]db.Neighbor, len(table))
	for id, list := range table {
		recs := make([]db.Neighbor, len(list))
		for i, n := range list {
			recs[i] = db.Neighbor{ID: n.ID, Similarity: n.Similarity}
		}
		out[id] = recs
	}
	return out
}
