package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

const selectSpectrumFields = `spectrum_id, structure_id, parent_mass, peaks_json, metadata_json`

// maxParams keeps IN lists below SQLite's bound-parameter limit.
const maxParams = 500

type scanner interface {
	Scan(dest ...any) error
}

func scanSpectrum(row scanner) (db.SpectrumRecord, error) {
	var (
		rec          db.SpectrumRecord
		peaksJSON    string
		metadataJSON string
	)
	if err := row.Scan(&rec.ID, &rec.StructureID, &rec.ParentMass, &peaksJSON, &metadataJSON); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(peaksJSON), &rec.Peaks); err != nil {
		return rec, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("peaks of %s: %w", rec.ID, err)}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
		return rec, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("metadata of %s: %w", rec.ID, err)}
	}
	return rec, nil
}

// GetSpectrum retrieves one spectrum by id.
func (s *Store) GetSpectrum(ctx context.Context, id string) (*db.SpectrumRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectSpectrumFields+` FROM spectra WHERE spectrum_id = ?`, id)
	rec, err := scanSpectrum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, wrapQuery(err)
	}
	return &rec, nil
}

// GetSpectra fetches records in chunks and returns them in ids order.
func (s *Store) GetSpectra(ctx context.Context, ids []string) ([]db.SpectrumRecord, error) {
	found := make(map[string]db.SpectrumRecord, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := `SELECT ` + selectSpectrumFields + ` FROM spectra WHERE spectrum_id IN (` + placeholders(len(chunk)) + `)`
		if err := s.queryInto(ctx, query, args, found); err != nil {
			return nil, err
		}
	}

	out := make([]db.SpectrumRecord, len(ids))
	for i, id := range ids {
		rec, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("spectrum %s: %w", id, db.ErrKeyNotFound)
		}
		out[i] = rec
	}
	return out, nil
}

func (s *Store) queryInto(ctx context.Context, query string, args []any, into map[string]db.SpectrumRecord) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return &db.Error{Op: db.OpQuery, Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanSpectrum(rows)
		if err != nil {
			return wrapQuery(err)
		}
		into[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return &db.Error{Op: db.OpQuery, Err: err}
	}
	return nil
}

// ListSpectra returns every spectrum sorted by id.
func (s *Store) ListSpectra(ctx context.Context) ([]db.SpectrumRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectSpectrumFields+` FROM spectra ORDER BY spectrum_id`)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	defer rows.Close()

	var out []db.SpectrumRecord
	for rows.Next() {
		rec, err := scanSpectrum(rows)
		if err != nil {
			return nil, wrapQuery(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return out, nil
}

// PutSpectra inserts or replaces records in one transaction.
func (s *Store) PutSpectra(ctx context.Context, records []db.SpectrumRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO spectra (spectrum_id, structure_id, parent_mass, peaks_json, metadata_json)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return &db.Error{Op: db.OpInsert, Err: err}
		}
		defer stmt.Close()

		for _, rec := range records {
			if rec.ID == "" {
				return fmt.Errorf("put spectrum: empty id")
			}
			peaks := rec.Peaks
			if peaks == nil {
				peaks = []db.Peak{}
			}
			peaksJSON, err := json.Marshal(peaks)
			if err != nil {
				return fmt.Errorf("marshaling peaks for %s: %w", rec.ID, err)
			}
			meta := rec.Metadata
			if meta == nil {
				meta = map[string]string{}
			}
			metaJSON, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("marshaling metadata for %s: %w", rec.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, rec.ID, rec.StructureID, rec.ParentMass,
				string(peaksJSON), string(metaJSON)); err != nil {
				return &db.Error{Op: db.OpInsert, Err: fmt.Errorf("spectrum %s: %w", rec.ID, err)}
			}
		}
		return nil
	})
}

// CountSpectra returns the number of stored spectra.
func (s *Store) CountSpectra(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spectra`).Scan(&n); err != nil {
		return 0, &db.Error{Op: db.OpQuery, Err: err}
	}
	return n, nil
}

// SpectrumIDsInMassRange uses the parent_mass index. Unknown masses (0) never match.
func (s *Store) SpectrumIDsInMassRange(ctx context.Context, lo, hi float64) ([]string, error) {
	if lo > hi {
		return nil, fmt.Errorf("invalid mass range [%g, %g]", lo, hi)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT spectrum_id FROM spectra
		WHERE parent_mass > 0 AND parent_mass BETWEEN ? AND ?
		ORDER BY spectrum_id
	`, lo, hi)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &db.Error{Op: db.OpQuery, Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return ids, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func wrapQuery(err error) error {
	var dbErr *db.Error
	if errors.As(err, &dbErr) {
		return err
	}
	return &db.Error{Op: db.OpQuery, Err: err}
}
