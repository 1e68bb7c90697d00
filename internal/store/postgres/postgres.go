// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) RecordUsage(ctx context.Context, event *model.UsageEvent) error {
	return queryRecordUsage(ctx, s.db, event)
}

func (s *PostgresStore) SumUsage(ctx context.Context, filter model.UsageFilter) (int64, error) {
	return querySumUsage(ctx, s.db, filter)
}

func (s *PostgresStore) CreateGrant(ctx context.Context, grant *model.TierGrant) error {
	return queryCreateGrant(ctx, s.db, grant)
}

func (s *PostgresStore) LatestGrant(ctx context.Context, userID string) (*model.TierGrant, error) {
	return queryLatestGrant(ctx, s.db, userID)
}

func (s *PostgresStore) DeactivateExpiredGrants(ctx context.Context, now time.Time) (int64, error) {
	return queryDeactivateExpiredGrants(ctx, s.db, now)
}

func (s *PostgresStore) GetBond(ctx context.Context, userID, agentID string) (*model.BondState, error) {
	return queryGetBond(ctx, s.db, userID, agentID)
}

func (s *PostgresStore) PutBond(ctx context.Context, bond *model.BondState) error {
	return queryPutBond(ctx, s.db, bond)
}

func (s *PostgresStore) ListUsage(ctx context.Context, since time.Time, limit int) ([]*model.UsageEvent, error) {
	return queryListUsage(ctx, s.db, since, limit)
}

func (s *PostgresStore) ListGrants(ctx context.Context, userID string) ([]*model.TierGrant, error) {
	return queryListGrants(ctx, s.db, userID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.runTx(ctx, nil, fn)
}

// RunSerializable is RunInTransaction at serializable isolation. The quota
// guard's read-then-decide window is only safe at this level.
func (s *PostgresStore) RunSerializable(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (s *PostgresStore) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Tx using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Tx.
var _ store.Tx = (*txStore)(nil)

func (s *txStore) RecordUsage(ctx context.Context, event *model.UsageEvent) error {
	return queryRecordUsage(ctx, s.tx, event)
}

func (s *txStore) SumUsage(ctx context.Context, filter model.UsageFilter) (int64, error) {
	return querySumUsage(ctx, s.tx, filter)
}

func (s *txStore) CreateGrant(ctx context.Context, grant *model.TierGrant) error {
	return queryCreateGrant(ctx, s.tx, grant)
}

func (s *txStore) LatestGrant(ctx context.Context, userID string) (*model.TierGrant, error) {
	return queryLatestGrant(ctx, s.tx, userID)
}

func (s *txStore) DeactivateExpiredGrants(ctx context.Context, now time.Time) (int64, error) {
	return queryDeactivateExpiredGrants(ctx, s.tx, now)
}

func (s *txStore) GetBond(ctx context.Context, userID, agentID string) (*model.BondState, error) {
	return queryGetBond(ctx, s.tx, userID, agentID)
}

func (s *txStore) PutBond(ctx context.Context, bond *model.BondState) error {
	return queryPutBond(ctx, s.tx, bond)
}

func (s *txStore) ListUsage(ctx context.Context, since time.Time, limit int) ([]*model.UsageEvent, error) {
	return queryListUsage(ctx, s.tx, since, limit)
}

func (s *txStore) ListGrants(ctx context.Context, userID string) ([]*model.TierGrant, error) {
	return queryListGrants(ctx, s.tx, userID)
}
