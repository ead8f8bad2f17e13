package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/derivscript/internal/pricing"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a run id has no matching row.
var ErrNotFound = errors.New("store: run not found")

// Store is the run-history repository: one row per pricing call, the
// response msgpack-encoded rather than JSON (spec's domain stack:
// "smaller than JSON, round-trips Go structs without tags").
type Store struct {
	db *DB
}

// New wraps an already-opened DB.
func New(db *DB) *Store { return &Store{db: db} }

// Record is one run_history row, with the response already decoded.
type Record struct {
	ID            string
	CreatedAt     time.Time
	RequestHash   string
	PriceVariable string
	Price         *float64
	Response      *pricing.Response
}

// Summary is a Record without the decoded response blob, for listing.
type Summary struct {
	ID            string
	CreatedAt     time.Time
	RequestHash   string
	PriceVariable string
	Price         *float64
}

// HashRequest derives a stable identifier for a request's market/script
// data, letting internal/schedule detect whether a saved script's last
// priced inputs have actually changed before re-running a full batch.
func HashRequest(req pricing.Request) (string, error) {
	canon, err := msgpack.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("store: hashing request: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// SaveRun persists one pricing call's request hash and response, returning
// the generated run id.
func (s *Store) SaveRun(ctx context.Context, req pricing.Request, resp *pricing.Response) (string, error) {
	hash, err := HashRequest(req)
	if err != nil {
		return "", err
	}
	blob, err := msgpack.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("store: encoding response: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO run_history (id, created_at, request_hash, price_var, price, response)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), hash, req.PriceVariable, resp.Price, blob,
	)
	if err != nil {
		return "", fmt.Errorf("store: inserting run: %w", err)
	}
	return id, nil
}

// GetRun loads one run_history row by id, decoding its response blob.
func (s *Store) GetRun(ctx context.Context, id string) (*Record, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT id, created_at, request_hash, price_var, price, response FROM run_history WHERE id = ?`, id)

	var (
		createdAtStr string
		priceVar     sql.NullString
		price        sql.NullFloat64
		blob         []byte
		rec          Record
	)
	if err := row.Scan(&rec.ID, &createdAtStr, &rec.RequestHash, &priceVar, &price, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scanning run %s: %w", id, err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("store: parsing created_at for run %s: %w", id, err)
	}
	rec.CreatedAt = createdAt
	if priceVar.Valid {
		rec.PriceVariable = priceVar.String
	}
	if price.Valid {
		p := price.Float64
		rec.Price = &p
	}

	var resp pricing.Response
	if err := msgpack.Unmarshal(blob, &resp); err != nil {
		return nil, fmt.Errorf("store: decoding response for run %s: %w", id, err)
	}
	rec.Response = &resp
	return &rec, nil
}

// ListRuns returns the most recent limit runs' summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, created_at, request_hash, price_var, price FROM run_history
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s            Summary
			createdAtStr string
			priceVar     sql.NullString
			price        sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &createdAtStr, &s.RequestHash, &priceVar, &price); err != nil {
			return nil, fmt.Errorf("store: scanning run row: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("store: parsing created_at: %w", err)
		}
		s.CreatedAt = createdAt
		if priceVar.Valid {
			s.PriceVariable = priceVar.String
		}
		if price.Valid {
			p := price.Float64
			s.Price = &p
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
