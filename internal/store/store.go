package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"branch-ops-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
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

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection pool
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInTx runs fn inside one read-committed transaction. The transaction is
// committed only when fn returns nil; any error or panic rolls it back.
func (s *Store) RunInTx(ctx context.Context, fn func(EntityTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const branchSettingsColumns = `branch_id, total_tables, total_employees,
	kitchen_target_minutes, service_target_minutes, delivery_target_minutes`

// GetBranchSettings retrieves the configuration of one branch
func (s *Store) GetBranchSettings(ctx context.Context, branchID string) (*models.BranchSettings, error) {
	var settings models.BranchSettings
	err := s.db.GetContext(ctx, &settings,
		"SELECT "+branchSettingsColumns+" FROM branch_settings WHERE branch_id = $1", branchID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("branch settings %s: %w", branchID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// ListBranchSettings retrieves the configuration of every branch
func (s *Store) ListBranchSettings(ctx context.Context) ([]models.BranchSettings, error) {
	var settings []models.BranchSettings
	err := s.db.SelectContext(ctx, &settings,
		"SELECT "+branchSettingsColumns+" FROM branch_settings ORDER BY branch_id")
	return settings, err
}
