package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound = errors.New("order not found")
	// ErrStaleCheckout means the pending order was resubmitted meanwhile
	ErrStaleCheckout = errors.New("checkout superseded by a newer submission")
)

type Store struct {
	db              *sqlx.DB
	referencePrefix string
}

// NewStore creates a new database store. Merchant references are
// issued as <referencePrefix>-<sequence>.
func NewStore(databaseURL, referencePrefix string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, referencePrefix: referencePrefix}, nil
}

// Migrate creates the ledger tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection pool
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) formatReference(seq int64) string {
	return fmt.Sprintf("%s-%06d", s.referencePrefix, seq)
}
