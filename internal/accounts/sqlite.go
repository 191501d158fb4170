package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps accounts in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open accounts db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		identifier TEXT PRIMARY KEY,
		tier       TEXT NOT NULL DEFAULT 'free',
		tokens     INTEGER NOT NULL DEFAULT 3 CHECK (tokens >= 0),
		joined_at  INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init accounts schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, acct Account) (Account, bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO accounts (identifier, tier, tokens, joined_at) VALUES (?, ?, ?, ?)",
		acct.Identifier, string(acct.Tier), acct.Tokens, acct.JoinedAt.UnixNano(),
	)
	if err != nil {
		return Account{}, false, fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Account{}, false, err
	}

	stored, err := s.get(ctx, acct.Identifier)
	if err != nil {
		return Account{}, false, err
	}
	return stored, n > 0, nil
}

func (s *SQLiteStore) get(ctx context.Context, id string) (Account, error) {
	var (
		a      Account
		tier   string
		joined int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT identifier, tier, tokens, joined_at FROM accounts WHERE identifier = ?", id,
	).Scan(&a.Identifier, &tier, &a.Tokens, &joined)
	if err != nil {
		return Account{}, fmt.Errorf("select account: %w", err)
	}
	a.Tier = Tier(tier)
	a.JoinedAt = time.Unix(0, joined).UTC()
	return a, nil
}

func (s *SQLiteStore) Save(ctx context.Context, acct Account) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET tier = ?, tokens = ? WHERE identifier = ?",
		string(acct.Tier), acct.Tokens, acct.Identifier,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
