package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore appends every snapshot as a JSONB row; Load reads the newest.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Save(ctx context.Context, s State) error {
	b, err := json.Marshal(s.normalize())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO ride_snapshots(state, taken_at) VALUES($1, now())`, b)
	return err
}

func (p *PostgresStore) Load(ctx context.Context) (State, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT state FROM ride_snapshots ORDER BY id DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return EmptyState(), nil
	}
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s.normalize(), nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }
