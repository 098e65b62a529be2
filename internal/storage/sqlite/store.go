// Package sqlite is the durable storage.Store backed by a pure-Go SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/pkg/principal"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store implements storage.Store on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite handles concurrent writers poorly.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the database file path.
func (s *Store) DBPath() string {
	return s.dbPath
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Store) Group(ctx context.Context, name string, owner principal.ID) ([]byte, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM group_records WHERE name = ? AND owner = ?`,
		name, string(owner)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	return record, nil
}

func (s *Store) PutGroup(ctx context.Context, name string, owner principal.ID, record []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_records (name, owner, record, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name, owner) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		name, string(owner), record, now())
	if err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}
	return nil
}

func (s *Store) Groups(ctx context.Context) ([]storage.GroupEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, owner, record FROM group_records ORDER BY name, owner`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var out []storage.GroupEntry
	for rows.Next() {
		var (
			e     storage.GroupEntry
			owner string
		)
		if err := rows.Scan(&e.Name, &owner, &e.Record); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		e.Owner = principal.ID(owner)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) User(ctx context.Context, id principal.ID) ([]byte, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM user_records WHERE id = ?`, string(id)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return record, nil
}

func (s *Store) PutUser(ctx context.Context, id principal.ID, record []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_records (id, record, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		string(id), record, now())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) Users(ctx context.Context) ([]storage.UserEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM user_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []storage.UserEntry
	for rows.Next() {
		var (
			e  storage.UserEntry
			id string
		)
		if err := rows.Scan(&id, &e.Record); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		e.ID = principal.ID(id)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Config(ctx context.Context) ([]byte, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM issuer_config WHERE id = 1`).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	return record, nil
}

func (s *Store) PutConfig(ctx context.Context, record []byte) error {
	if record == nil {
		record = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issuer_config (id, record, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		record, now())
	if err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
