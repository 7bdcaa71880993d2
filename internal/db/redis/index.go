package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// Indexed spectrum hash fields.
const (
	fieldSpectrumID  = "spectrum_id"
	fieldStructureID = "structure_id"
	fieldParentMass  = "parent_mass"
	fieldPeaks       = "peaks"
	fieldMetadata    = "metadata"
)

func (s *Store) spectrumIndex() (*db.IndexDefinition, error) {
	return db.NewIndexDefinition(s.indexName(), []string{s.spectrumPrefix()},
		db.NumericField(fieldParentMass, true),
		db.TagField(fieldStructureID),
	)
}

// ensureIndex creates the spectrum mass index; an existing index is kept.
func (s *Store) ensureIndex(ctx context.Context) error {
	def, err := s.spectrumIndex()
	if err != nil {
		return err
	}
	err = s.createIndex(ctx, def)
	if errors.Is(err, db.ErrIndexExists) {
		return nil
	}
	return err
}

// createIndex creates an FT index from the given definition.
func (s *Store) createIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// buildCreateArgs renders FT.CREATE arguments for a hash index.
func buildCreateArgs(idx *db.IndexDefinition) ([]string, error) {
	if err := idx.Validate(); err != nil {
		return nil, err //nolint:wrapcheck // validation errors are self-describing
	}

	args := []string{idx.Name, "ON", "HASH"}
	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}

	args = append(args, "SCHEMA")
	for _, f := range idx.Fields {
		args = append(args, f.Name)
		if f.Type == db.IndexFieldTag {
			args = append(args, "TAG", "CASESENSITIVE")
			continue
		}
		args = append(args, "NUMERIC")
		if f.Sortable {
			args = append(args, "SORTABLE")
		}
	}
	return args, nil
}
