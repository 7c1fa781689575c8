package tokens

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store holds access tokens under user-chosen keys. An empty key selects the
// default token; that only works when exactly one token is stored.
type Store interface {
	Keys(ctx context.Context) ([]string, error)
	AccessToken(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, accessToken string) error
	Delete(ctx context.Context, key string) error
}

const sqliteTokensSchemaV1 = `
CREATE TABLE IF NOT EXISTS access_tokens (
    key TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists access tokens in a SQLite database under the user
// config dir.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// DefaultDSN returns the sqlite DSN under the user config dir, creating the
// directory if needed.
func DefaultDSN() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(configDir, "pandora")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return "file:" + filepath.Join(dir, "pandora.db") + "?_journal_mode=WAL", nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite token store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteTokensSchemaV1); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite token store: migrate")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM access_tokens ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) AccessToken(ctx context.Context, key string) (string, error) {
	if key == "" {
		keys, err := s.Keys(ctx)
		if err != nil {
			return "", err
		}
		switch len(keys) {
		case 0:
			return "", errors.New("no access token stored; add one with `pandora tokens set`")
		case 1:
			key = keys[0]
		default:
			return "", errors.New("multiple token keys stored; select one")
		}
	}

	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM access_tokens WHERE key = ?`, key).Scan(&token)
	if err == sql.ErrNoRows {
		return "", errors.Errorf("no access token stored under key %q", key)
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key, accessToken string) error {
	if key == "" {
		return errors.New("token key must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_tokens (key, token, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET token = excluded.token, updated_at_ms = excluded.updated_at_ms`,
		key, accessToken, time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE key = ?`, key)
	return err
}

// StaticStore serves a single token handed in on the command line or through
// the environment.
type StaticStore struct {
	token string
}

var _ Store = (*StaticStore)(nil)

func NewStaticStore(accessToken string) *StaticStore {
	return &StaticStore{token: accessToken}
}

func (s *StaticStore) Keys(_ context.Context) ([]string, error) {
	return []string{"default"}, nil
}

func (s *StaticStore) AccessToken(_ context.Context, _ string) (string, error) {
	return s.token, nil
}

func (s *StaticStore) Put(_ context.Context, _, _ string) error {
	return errors.New("static token store is read-only")
}

func (s *StaticStore) Delete(_ context.Context, _ string) error {
	return errors.New("static token store is read-only")
}
