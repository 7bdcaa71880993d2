package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// rangePageSize bounds one FT.SEARCH page of the mass range query.
const rangePageSize = 1000

func encodeSpectrum(rec db.SpectrumRecord) (map[string]string, error) {
	peaks := rec.Peaks
	if peaks == nil {
		peaks = []db.Peak{}
	}
	peaksJSON, err := json.Marshal(peaks)
	if err != nil {
		return nil, fmt.Errorf("marshaling peaks for %s: %w", rec.ID, err)
	}
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata for %s: %w", rec.ID, err)
	}
	return map[string]string{
		fieldSpectrumID:  rec.ID,
		fieldStructureID: rec.StructureID,
		fieldParentMass:  strconv.FormatFloat(rec.ParentMass, 'g', -1, 64),
		fieldPeaks:       string(peaksJSON),
		fieldMetadata:    string(metaJSON),
	}, nil
}

func decodeSpectrum(fields map[string]string) (db.SpectrumRecord, error) {
	rec := db.SpectrumRecord{
		ID:          fields[fieldSpectrumID],
		StructureID: fields[fieldStructureID],
	}
	if v := fields[fieldParentMass]; v != "" {
		mass, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rec, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("parent mass of %s: %w", rec.ID, err)}
		}
		rec.ParentMass = mass
	}
	if v := fields[fieldPeaks]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Peaks); err != nil {
			return rec, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("peaks of %s: %w", rec.ID, err)}
		}
	}
	if v := fields[fieldMetadata]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Metadata); err != nil {
			return rec, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("metadata of %s: %w", rec.ID, err)}
		}
	}
	return rec, nil
}

// GetSpectrum reads one spectrum hash.
func (s *Store) GetSpectrum(ctx context.Context, id string) (*db.SpectrumRecord, error) {
	fields, err := s.hgetAll(ctx, s.spectrumKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, db.ErrKeyNotFound
	}
	rec, err := decodeSpectrum(fields)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetSpectra reads spectrum hashes in one round-trip, in ids order.
func (s *Store) GetSpectra(ctx context.Context, ids []string) ([]db.SpectrumRecord, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.spectrumKey(id)
	}
	hashes, err := s.hgetAllMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]db.SpectrumRecord, len(ids))
	for i, fields := range hashes {
		if len(fields) == 0 {
			return nil, fmt.Errorf("spectrum %s: %w", ids[i], db.ErrKeyNotFound)
		}
		rec, err := decodeSpectrum(fields)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// ListSpectra scans every spectrum key and returns records sorted by id.
func (s *Store) ListSpectra(ctx context.Context) ([]db.SpectrumRecord, error) {
	keys, err := s.scan(ctx, s.spectrumPrefix()+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = strings.TrimPrefix(key, s.spectrumPrefix())
	}
	sort.Strings(ids)
	return s.GetSpectra(ctx, ids)
}

// PutSpectra writes spectrum hashes and makes sure the mass index exists.
func (s *Store) PutSpectra(ctx context.Context, records []db.SpectrumRecord) error {
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}
	items := make([]hashItem, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("put spectrum: empty id")
		}
		fields, err := encodeSpectrum(rec)
		if err != nil {
			return err
		}
		items[i] = hashItem{key: s.spectrumKey(rec.ID), fields: fields}
	}
	return s.hsetMulti(ctx, items)
}

// CountSpectra reads the index document count; no index means no spectra.
func (s *Store) CountSpectra(ctx context.Context) (int, error) {
	cmd := s.b().Arbitrary("FT.SEARCH").Args(s.indexName(), "*", "LIMIT", "0", "0").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name", "no such index") {
			return 0, nil
		}
		return 0, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

// SpectrumIDsInMassRange pages through FT.SEARCH on the parent_mass index.
// Unknown masses (0) never match.
func (s *Store) SpectrumIDsInMassRange(ctx context.Context, lo, hi float64) ([]string, error) {
	if lo > hi {
		return nil, fmt.Errorf("invalid mass range [%g, %g]", lo, hi)
	}
	query := buildMassQuery(lo, hi)

	var ids []string
	for offset := 0; ; offset += rangePageSize {
		cmd := s.b().Arbitrary("FT.SEARCH").Args(
			s.indexName(), query, "NOCONTENT",
			"LIMIT", strconv.Itoa(offset), strconv.Itoa(rangePageSize),
			"DIALECT", "2",
		).Build()
		raw, err := s.do(ctx, cmd).ToArray()
		if err != nil {
			if isRedisErr(err, "unknown index name", "no such index") {
				return nil, nil
			}
			return nil, &db.Error{Op: db.OpSearch, Err: err}
		}
		total, keys, err := parseKeysResult(raw)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, s.spectrumPrefix()))
		}
		if len(keys) == 0 || offset+rangePageSize >= total {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func buildMassQuery(lo, hi float64) string {
	minBound := strconv.FormatFloat(lo, 'g', -1, 64)
	if lo <= 0 {
		minBound = "(0"
	}
	return fmt.Sprintf("@%s:[%s %s]", fieldParentMass, minBound, strconv.FormatFloat(hi, 'g', -1, 64))
}

// parseKeysResult parses a NOCONTENT reply: [total, key1, key2, ...].
func parseKeysResult(raw []rueidis.RedisMessage) (int, []string, error) {
	if len(raw) == 0 {
		return 0, nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, nil, fmt.Errorf("parse total: %w", err)
	}
	keys := make([]string, 0, len(raw)-1)
	for _, msg := range raw[1:] {
		key, err := msg.ToString()
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return int(total), keys, nil
}
