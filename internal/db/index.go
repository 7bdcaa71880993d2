package db

import (
	"errors"
	"fmt"
)

// IndexFieldType enumerates the FT field types the spectrum index uses.
type IndexFieldType int

const (
	// IndexFieldNumeric supports range queries (parent-mass windows).
	IndexFieldNumeric IndexFieldType = iota
	// IndexFieldTag supports exact-match lookups (structure-ids).
	IndexFieldTag
)

// IndexField is one field of a hash-backed FT index.
// Numeric fields may be sortable; tag fields are always case-sensitive.
type IndexField struct {
	Name     string
	Type     IndexFieldType
	Sortable bool
}

// NumericField returns a NUMERIC field.
func NumericField(name string, sortable bool) IndexField {
	return IndexField{Name: name, Type: IndexFieldNumeric, Sortable: sortable}
}

// TagField returns a case-sensitive TAG field.
func TagField(name string) IndexField {
	return IndexField{Name: name, Type: IndexFieldTag}
}

// IndexDefinition is an FT index over hashes under Prefixes.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []IndexField
}

// NewIndexDefinition validates and returns an index definition.
func NewIndexDefinition(name string, prefixes []string, fields ...IndexField) (*IndexDefinition, error) {
	idx := &IndexDefinition{Name: name, Prefixes: prefixes, Fields: fields}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Validate checks that the index definition is well-formed.
func (idx *IndexDefinition) Validate() error {
	if idx.Name == "" {
		return errors.New("index name is required")
	}
	if !IsValidIdentifier(idx.Name) {
		return fmt.Errorf("index name %q contains invalid characters", idx.Name)
	}
	if len(idx.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	seen := make(map[string]struct{}, len(idx.Fields))
	for i, f := range idx.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d: name is required", i)
		}
		if f.Type != IndexFieldNumeric && f.Type != IndexFieldTag {
			return fmt.Errorf("field %q: unknown type %d", f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// IsValidIdentifier returns true if s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == ':' || r == '-':
		default:
			return false
		}
	}
	return true
}
