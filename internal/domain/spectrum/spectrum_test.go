package spectrum

import (
	"strings"
	"testing"
)

func TestNew_SortsPeaksAndDerivesStructure(t *testing.T) {
	s, err := New(
		[]Peak{{MZ: 300, Intensity: 0.2}, {MZ: 100, Intensity: 1}, {MZ: 200, Intensity: 0.5}},
		map[string]string{
			KeySpectrumID: "CCMSLIB00000001760",
			KeyInChIKey:   "SCYRNRIZFGMUSB-STOGWRBBSA-N",
			KeyParentMass: "907.0",
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID() != "CCMSLIB00000001760" {
		t.Errorf("unexpected id %q", s.ID())
	}
	if s.StructureID() != "SCYRNRIZFGMUSB" {
		t.Errorf("expected structure SCYRNRIZFGMUSB, got %q", s.StructureID())
	}
	if s.ParentMass() != 907.0 {
		t.Errorf("expected parent mass 907, got %v", s.ParentMass())
	}
	peaks := s.Peaks()
	for i := 1; i < len(peaks); i++ {
		if peaks[i].MZ < peaks[i-1].MZ {
			t.Fatalf("peaks not sorted: %v", peaks)
		}
	}
}

func TestNew_ExplicitStructureIDWins(t *testing.T) {
	s, err := New(nil, map[string]string{
		KeySpectrumID:  "s1",
		KeyStructureID: "ABCDEFGHIJKLMN",
		KeyInChIKey:    "SCYRNRIZFGMUSB-STOGWRBBSA-N",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.StructureID() != "ABCDEFGHIJKLMN" {
		t.Errorf("unexpected structure %q", s.StructureID())
	}
}

func TestNew_PrecursorFallback(t *testing.T) {
	s, err := New(nil, map[string]string{KeySpectrumID: "s1", KeyPrecursorMZ: "928.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ParentMass() != 928.5 {
		t.Errorf("expected 928.5, got %v", s.ParentMass())
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		peaks   []Peak
		meta    map[string]string
		wantErr string
	}{
		{"missing id", nil, map[string]string{}, "spectrum id is required"},
		{"bad mz", []Peak{{MZ: -1, Intensity: 1}}, map[string]string{KeySpectrumID: "s"}, "invalid m/z"},
		{"bad intensity", []Peak{{MZ: 10, Intensity: -1}}, map[string]string{KeySpectrumID: "s"}, "invalid intensity"},
		{"bad mass", nil, map[string]string{KeySpectrumID: "s", KeyParentMass: "heavy"}, "invalid parent_mass"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.peaks, tc.meta)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %q", tc.wantErr, err.Error())
			}
		})
	}
}

func TestNormalized_ReturnsNewInstance(t *testing.T) {
	s, err := New([]Peak{{MZ: 100, Intensity: 50}, {MZ: 200, Intensity: 200}}, map[string]string{KeySpectrumID: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n := s.Normalized()
	if n.Peaks()[1].Intensity != 1 || n.Peaks()[0].Intensity != 0.25 {
		t.Errorf("unexpected normalized peaks: %v", n.Peaks())
	}
	if s.Peaks()[1].Intensity != 200 {
		t.Error("original spectrum was mutated")
	}
}

func TestMetadata_IsCopy(t *testing.T) {
	meta := map[string]string{KeySpectrumID: "s", KeyCompoundName: "caffeine"}
	s, err := New(nil, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta[KeyCompoundName] = "changed"
	if v, _ := s.Get(KeyCompoundName); v != "caffeine" {
		t.Errorf("spectrum shares caller map, got %q", v)
	}
	m := s.Metadata()
	m[KeyCompoundName] = "changed again"
	if v, _ := s.Get(KeyCompoundName); v != "caffeine" {
		t.Errorf("Metadata() leaked internal map, got %q", v)
	}
}
