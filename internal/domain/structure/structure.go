// Package structure holds structure-id helpers and structural similarity types.
package structure

import "strings"

// IDLength is the number of InChIKey characters that form a structure-id
// (the connectivity block).
const IDLength = 14

// FromInChIKey returns the structure-id of an InChIKey, or "" when the key is too
// short to carry one.
func FromInChIKey(inchikey string) string {
	k := strings.TrimSpace(inchikey)
	if len(k) < IDLength {
		return ""
	}
	id := k[:IDLength]
	if !Valid(id) {
		return ""
	}
	return id
}

// Valid reports whether id looks like a structure-id: 14 upper-case letters.
func Valid(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, r := range id {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Neighbor is one entry of a structure's nearest-neighbor list.
type Neighbor struct {
	ID         string
	Similarity float64
}

// Pair is a precomputed structural similarity between two structure-ids.
type Pair struct {
	A          string
	B          string
	Similarity float64
}
