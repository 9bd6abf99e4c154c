// Package sqlstore implements store.Store on database/sql for SQLite and Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

var _ store.Store = (*Store)(nil)

type dialect struct {
	driver     string
	migrations []string
	forUpdate  string
	postgres   bool
}

var (
	sqliteDialect = dialect{
		driver: "sqlite3",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				locked_name TEXT,
				transcript TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS facts (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				owner_name TEXT NOT NULL,
				content TEXT NOT NULL,
				is_private BOOLEAN NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_facts_owner ON facts(owner_name, content)`,
		},
	}

	postgresDialect = dialect{
		driver: "pgx",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				locked_name TEXT,
				transcript TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS facts (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				owner_name TEXT NOT NULL,
				content TEXT NOT NULL,
				is_private BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_facts_owner ON facts(owner_name, content)`,
		},
		forUpdate: " FOR UPDATE",
		postgres:  true,
	}
)

// Store persists sessions and facts in two tables.
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQLite opens (and migrates) a SQLite database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*Store, error) {
	return open(ctx, sqliteDialect, dsn)
}

// OpenPostgres opens (and migrates) a Postgres database through pgx.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	return open(ctx, postgresDialect, dsn)
}

func open(ctx context.Context, d dialect, dsn string) (*Store, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if !d.postgres {
		// SQLite allows a single writer; serialising through one connection also
		// keeps ":memory:" databases shared across calls.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// rebind rewrites "?" placeholders to "$n" for Postgres.
func (s *Store) rebind(query string) string {
	if !s.dialect.postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FindSession retrieves a session by token.
func (s *Store) FindSession(ctx context.Context, token string) (*chat.Session, error) {
	return s.findSession(ctx, s.db, token, "")
}

func (s *Store) findSession(ctx context.Context, q querier, token, suffix string) (*chat.Session, error) {
	var (
		session    chat.Session
		lockedName sql.NullString
		transcript string
	)
	err := q.QueryRowContext(ctx,
		s.rebind(`SELECT token, locked_name, transcript, created_at, updated_at FROM sessions WHERE token = ?`+suffix),
		token,
	).Scan(&session.VisitorToken, &lockedName, &transcript, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session.LockedName = lockedName.String
	if err := json.Unmarshal([]byte(transcript), &session.Transcript); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &session, nil
}

// UpsertSession replaces the transcript; the locked name is kept once set.
func (s *Store) UpsertSession(ctx context.Context, token string, transcript []chat.Turn, lockedName string) (*chat.Session, error) {
	encoded, err := encodeTranscript(transcript)
	if err != nil {
		return nil, err
	}

	name := sql.NullString{String: lockedName, Valid: lockedName != ""}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (token, locked_name, transcript, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			transcript = excluded.transcript,
			locked_name = COALESCE(sessions.locked_name, excluded.locked_name),
			updated_at = excluded.updated_at`),
		token, name, encoded, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert session: %w", err)
	}

	session, err := s.findSession(ctx, tx, token, "")
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return session, nil
}

// AppendTurn pushes a turn onto an existing transcript.
func (s *Store) AppendTurn(ctx context.Context, token string, turn chat.Turn) (*chat.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session, err := s.findSession(ctx, tx, token, s.dialect.forUpdate)
	if err != nil {
		return nil, err
	}

	session.Transcript = append(session.Transcript, turn)
	session.UpdatedAt = s.now()

	encoded, err := encodeTranscript(session.Transcript)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET transcript = ?, updated_at = ? WHERE token = ?`),
		encoded, session.UpdatedAt, token,
	); err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE token = ?`), token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// FindFacts returns matching facts in insertion order.
func (s *Store) FindFacts(ctx context.Context, filter store.FactFilter) ([]memory.Fact, error) {
	query := `SELECT id, owner_name, content, is_private, created_at FROM facts WHERE owner_name = ?`
	args := []any{filter.Owner}
	if !filter.IncludePrivate {
		query += ` AND is_private = ?`
		args = append(args, false)
	}
	if filter.Content != nil {
		query += ` AND content = ?`
		args = append(args, *filter.Content)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	var facts []memory.Fact
	for rows.Next() {
		var f memory.Fact
		if err := rows.Scan(&f.ID, &f.OwnerName, &f.Content, &f.IsPrivate, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// FactExists checks for an exact (owner, content) match.
func (s *Store) FactExists(ctx context.Context, owner, content string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(1) FROM facts WHERE owner_name = ? AND content = ?`),
		owner, content,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check fact: %w", err)
	}
	return n > 0, nil
}

// InsertFact stores a fact.
func (s *Store) InsertFact(ctx context.Context, f memory.Fact) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO facts (id, owner_name, content, is_private, created_at) VALUES (?, ?, ?, ?, ?)`),
		f.ID, f.OwnerName, f.Content, f.IsPrivate, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	return nil
}

func encodeTranscript(turns []chat.Turn) (string, error) {
	if turns == nil {
		turns = []chat.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	return string(data), nil
}
