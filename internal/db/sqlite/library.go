package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// LoadEmbeddings returns every vector of a space sorted by spectrum id.
func (s *Store) LoadEmbeddings(ctx context.Context, space string) (*db.EmbeddingSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT spectrum_id, dim, vector FROM embeddings
		WHERE space = ? ORDER BY spectrum_id
	`, space)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	defer rows.Close()

	set := &db.EmbeddingSet{Space: space}
	for rows.Next() {
		var (
			id   string
			dim  int
			blob []byte
		)
		if err := rows.Scan(&id, &dim, &blob); err != nil {
			return nil, &db.Error{Op: db.OpQuery, Err: err}
		}
		vec, err := db.DecodeVector(blob)
		if err != nil {
			return nil, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("embedding %s/%s: %w", space, id, err)}
		}
		if len(vec) != dim {
			return nil, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("embedding %s/%s: %d values, dim %d", space, id, len(vec), dim)}
		}
		set.Dim = dim
		set.IDs = append(set.IDs, id)
		set.Vectors = append(set.Vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	if len(set.IDs) == 0 {
		return nil, fmt.Errorf("embedding space %s: %w", space, db.ErrKeyNotFound)
	}
	return set, nil
}

// PutEmbeddings stores vectors; every vector of a space must share one length.
func (s *Store) PutEmbeddings(ctx context.Context, space string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("put embeddings: %d ids for %d vectors", len(ids), len(vectors))
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		dim, err := spaceDim(ctx, tx, space)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO embeddings (space, spectrum_id, dim, vector)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return &db.Error{Op: db.OpInsert, Err: err}
		}
		defer stmt.Close()

		for i, id := range ids {
			v := vectors[i]
			if dim > 0 && dim != len(v) {
				return fmt.Errorf("put embeddings: space %s has dim %d, got %d for %s", space, dim, len(v), id)
			}
			dim = len(v)
			if _, err := stmt.ExecContext(ctx, space, id, dim, db.EncodeVector(v)); err != nil {
				return &db.Error{Op: db.OpInsert, Err: fmt.Errorf("embedding %s/%s: %w", space, id, err)}
			}
		}
		return nil
	})
}

// spaceDim returns the stored dimension of a space, 0 when the space is empty.
func spaceDim(ctx context.Context, tx *sql.Tx, space string) (int, error) {
	var dim int
	err := tx.QueryRowContext(ctx, `SELECT dim FROM embeddings WHERE space = ? LIMIT 1`, space).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &db.Error{Op: db.OpQuery, Err: err}
	}
	return dim, nil
}

// GetNeighbors returns one stored neighbor list.
func (s *Store) GetNeighbors(ctx context.Context, structureID string) ([]db.Neighbor, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT neighbors_json FROM neighbors WHERE structure_id = ?`, structureID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return decodeNeighbors(structureID, raw)
}

// ListNeighbors returns every stored neighbor list.
func (s *Store) ListNeighbors(ctx context.Context) (map[string][]db.Neighbor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT structure_id, neighbors_json FROM neighbors`)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	defer rows.Close()

	out := make(map[string][]db.Neighbor)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, &db.Error{Op: db.OpQuery, Err: err}
		}
		list, err := decodeNeighbors(id, raw)
		if err != nil {
			return nil, err
		}
		out[id] = list
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return out, nil
}

// PutNeighbors replaces the given neighbor lists.
func (s *Store) PutNeighbors(ctx context.Context, lists map[string][]db.Neighbor) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO neighbors (structure_id, neighbors_json) VALUES (?, ?)`)
		if err != nil {
			return &db.Error{Op: db.OpInsert, Err: err}
		}
		defer stmt.Close()

		for id, list := range lists {
			if list == nil {
				list = []db.Neighbor{}
			}
			raw, err := json.Marshal(list)
			if err != nil {
				return fmt.Errorf("marshaling neighbors of %s: %w", id, err)
			}
			if _, err := stmt.ExecContext(ctx, id, string(raw)); err != nil {
				return &db.Error{Op: db.OpInsert, Err: fmt.Errorf("neighbors of %s: %w", id, err)}
			}
		}
		return nil
	})
}

func decodeNeighbors(id, raw string) ([]db.Neighbor, error) {
	var list []db.Neighbor
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("neighbors of %s: %w", id, err)}
	}
	return list, nil
}

// GetSimilarity returns the similarity of a structure pair in either order.
func (s *Store) GetSimilarity(ctx context.Context, a, b string) (float64, error) {
	if b < a {
		a, b = b, a
	}
	var v float64
	err := s.db.QueryRowContext(ctx,
		`SELECT similarity FROM similarities WHERE structure_a = ? AND structure_b = ?`, a, b).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, db.ErrKeyNotFound
	}
	if err != nil {
		return 0, &db.Error{Op: db.OpQuery, Err: err}
	}
	return v, nil
}

// PutSimilarities stores pairwise similarities with the pair ordered.
func (s *Store) PutSimilarities(ctx context.Context, pairs []db.SimilarityPair) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO similarities (structure_a, structure_b, similarity)
			VALUES (?, ?, ?)
		`)
		if err != nil {
			return &db.Error{Op: db.OpInsert, Err: err}
		}
		defer stmt.Close()

		for _, p := range pairs {
			a, b := p.A, p.B
			if b < a {
				a, b = b, a
			}
			if _, err := stmt.ExecContext(ctx, a, b, p.Similarity); err != nil {
				return &db.Error{Op: db.OpInsert, Err: fmt.Errorf("similarity %s: %w", db.PairKey(a, b), err)}
			}
		}
		return nil
	})
}
