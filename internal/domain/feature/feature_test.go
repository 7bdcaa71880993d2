package feature

import "testing"

func TestColumns_WidthMatchesValues(t *testing.T) {
	if len(Columns) != NumColumns {
		t.Fatalf("expected %d columns, got %d", NumColumns, len(Columns))
	}
	r := Row{}
	if got := len(r.Values()); got != NumColumns {
		t.Fatalf("expected %d values, got %d", NumColumns, got)
	}
}

func TestValues_Normalization(t *testing.T) {
	r := Row{
		PreselectionScore:       0.9,
		RescoringScore:          0.8,
		StructureScore:          0.7,
		StructureCount:          3,
		NeighbourhoodScore:      0.6,
		NeighbourhoodCount:      50,
		NeighbourhoodSimilarity: 0.4,
		MassSimilarity:          0.64,
		ParentMass:              260,
		QueryParentMass:         250,
	}
	want := []float64{0.9, 0.8, 0.7, 0.03, 0.6, 0.5, 0.4, 0.64, 0.25}
	got := r.Values()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %s: expected %v, got %v", Columns[i], want[i], got[i])
		}
	}
}

func TestMatrix_PreservesOrder(t *testing.T) {
	rows := []Row{{PreselectionScore: 0.1}, {PreselectionScore: 0.2}}
	m := Matrix(rows)
	if len(m) != 2 || m[0][0] != 0.1 || m[1][0] != 0.2 {
		t.Fatalf("unexpected matrix: %v", m)
	}
}
