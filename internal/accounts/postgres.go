package accounts

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/muhammadolammi/careerpivot/internal/database"
)

// PostgresStore keeps accounts in Postgres through the generated queries.
// The accounts table comes from sql/schema.
type PostgresStore struct {
	db      *sql.DB
	queries *database.Queries
}

func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("error opening db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error reaching db: %w", err)
	}
	return &PostgresStore{db: db, queries: database.New(db)}, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, acct Account) (Account, bool, error) {
	n, err := s.queries.CreateAccountIfMissing(ctx, database.CreateAccountIfMissingParams{
		Identifier: acct.Identifier,
		Tier:       string(acct.Tier),
		Tokens:     acct.Tokens,
		JoinedAt:   acct.JoinedAt,
	})
	if err != nil {
		return Account{}, false, fmt.Errorf("insert account: %w", err)
	}

	row, err := s.queries.GetAccount(ctx, acct.Identifier)
	if err != nil {
		return Account{}, false, fmt.Errorf("select account: %w", err)
	}
	return fromRow(row), n > 0, nil
}

func (s *PostgresStore) Save(ctx context.Context, acct Account) error {
	err := s.queries.UpdateAccountBalance(ctx, database.UpdateAccountBalanceParams{
		Tier:       string(acct.Tier),
		Tokens:     acct.Tokens,
		Identifier: acct.Identifier,
	})
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func fromRow(row database.Account) Account {
	return Account{
		Identifier: row.Identifier,
		Tier:       Tier(row.Tier),
		Tokens:     row.Tokens,
		JoinedAt:   row.JoinedAt.UTC(),
	}
}
