package ingest

import (
	"strings"
	"testing"
)

func TestReadMatrix(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"header only", "AAAAAAAAAAAAAA,BBBBBBBBBBBBBB,CCCCCCCCCCCCCC\n" +
			"1,0.068,0.106\n0.068,1,0.045\n0.106,0.045,1\n"},
		{"row labels", ",AAAAAAAAAAAAAA,BBBBBBBBBBBBBB,CCCCCCCCCCCCCC-DDDDDDDDDD-N\n" +
			"AAAAAAAAAAAAAA,1,0.068,0.106\nBBBBBBBBBBBBBB,0.068,1,0.045\nCCCCCCCCCCCCCC,0.106,0.045,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ReadMatrix(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(m.IDs) != 3 || m.IDs[2] != "CCCCCCCCCCCCCC" {
				t.Fatalf("unexpected ids %v", m.IDs)
			}
			if r, c := m.Values.Dims(); r != 3 || c != 3 {
				t.Fatalf("expected 3x3, got %dx%d", r, c)
			}
			if got := m.Values.At(0, 2); got != 0.106 {
				t.Errorf("A-C: expected 0.106, got %v", got)
			}
			if got := m.Values.At(2, 1); got != 0.045 {
				t.Errorf("C-B: expected 0.045, got %v", got)
			}
		})
	}
}

func TestReadMatrix_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no ids", ",\n"},
		{"duplicate id", "AAAAAAAAAAAAAA,AAAAAAAAAAAAAA\n1,0\n0,1\n"},
		{"missing row", "AAAAAAAAAAAAAA,BBBBBBBBBBBBBB\n1,0.5\n"},
		{"extra row", "AAAAAAAAAAAAAA\n1\n1\n"},
		{"short row", "AAAAAAAAAAAAAA,BBBBBBBBBBBBBB\n1\n0.5,1\n"},
		{"bad value", "AAAAAAAAAAAAAA,BBBBBBBBBBBBBB\n1,high\n0.5,1\n"},
		{"row label mismatch", ",AAAAAAAAAAAAAA,BBBBBBBBBBBBBB\nBBBBBBBBBBBBBB,1,0.5\nAAAAAAAAAAAAAA,0.5,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadMatrix(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
