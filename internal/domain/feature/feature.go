// Package feature defines the candidate feature row and its fixed column order.
package feature

// Column names in the order the ranking model was trained with.
// Reordering is a breaking change for serialized models and for CSV consumers.
const (
	ColPreselectionScore       = "preselection_score"
	ColRescoringScore          = "rescoring_score"
	ColStructureScore          = "structure_score"
	ColStructureCount          = "structure_spectrum_count"
	ColNeighbourhoodScore      = "neighbourhood_score"
	ColNeighbourhoodCount      = "neighbourhood_spectrum_count"
	ColNeighbourhoodSimilarity = "neighbourhood_average_similarity"
	ColMassSimilarity          = "mass_similarity"
	ColParentMass              = "parent_mass_normalized"
)

// Normalization constants.
const (
	CountScale = 100.0
	MassScale  = 1000.0
)

// Columns lists every feature column in model order.
var Columns = []string{
	ColPreselectionScore,
	ColRescoringScore,
	ColStructureScore,
	ColStructureCount,
	ColNeighbourhoodScore,
	ColNeighbourhoodCount,
	ColNeighbourhoodSimilarity,
	ColMassSimilarity,
	ColParentMass,
}

// NumColumns is the width of a feature row.
const NumColumns = 9

// Row holds the signals of one (query, candidate) pair.
// Undefined signals are 0.
type Row struct {
	SpectrumID  string
	StructureID string
	ParentMass  float64 // candidate parent mass, Da

	// QueryParentMass feeds the normalized mass column; the model was fit on
	// the query's mass rather than the candidate's.
	QueryParentMass float64

	PreselectionScore float64
	RescoringScore    float64

	StructureScore float64
	StructureCount int

	NeighbourhoodScore      float64
	NeighbourhoodCount      int
	NeighbourhoodSimilarity float64

	MassSimilarity float64
}

// Values returns the normalized feature vector in Columns order.
func (r *Row) Values() []float64 {
	return []float64{
		r.PreselectionScore,
		r.RescoringScore,
		r.StructureScore,
		float64(r.StructureCount) / CountScale,
		r.NeighbourhoodScore,
		float64(r.NeighbourhoodCount) / CountScale,
		r.NeighbourhoodSimilarity,
		r.MassSimilarity,
		r.QueryParentMass / MassScale,
	}
}

// Matrix flattens rows into a feature matrix, one row per candidate.
func Matrix(rows []Row) [][]float64 {
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = rows[i].Values()
	}
	return out
}
