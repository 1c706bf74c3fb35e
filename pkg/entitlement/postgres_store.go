package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftsaleapp/entitlement/pkg/pg"
)

// postgresStore persists accounts in two tables: an `accounts` row guarded
// by a version column, and an append-only `account_transitions` history.
// CompareAndSet issues a version-predicated UPDATE inside a transaction, so
// losing a race affects zero rows and surfaces as ErrVersionConflict.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the given pgx pool. The schema
// is managed by the goose migrations under migrations/.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("entitlement: pgx pool is required")
	}
	return &postgresStore{pool: pool}
}

const accountColumns = `id, email, tier_id, status, pending_tier_id, downgrade_requested_at,
	effective_since, created_at, updated_at, cancelled_at, version`

func (s *postgresStore) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return s.scanAccount(ctx, row)
}

func (s *postgresStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, normalizeEmail(email))
	return s.scanAccount(ctx, row)
}

func (s *postgresStore) scanAccount(ctx context.Context, row pgx.Row) (*Account, error) {
	var acc Account
	err := row.Scan(
		&acc.ID, &acc.Email, &acc.TierID, &acc.Status, &acc.PendingTierID,
		&acc.DowngradeRequestedAt, &acc.EffectiveSince, &acc.CreatedAt,
		&acc.UpdatedAt, &acc.CancelledAt, &acc.Version,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	if acc.History, err = s.loadHistory(ctx, acc.ID); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *postgresStore) loadHistory(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT from_tier_id, to_tier_id, requested_at, applied_at, reason
		 FROM account_transitions WHERE account_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.FromTierID, &rec.ToTierID, &rec.RequestedAt, &rec.AppliedAt, &rec.Reason); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		history = append(history, rec)
	}
	return history, rows.Err()
}

func (s *postgresStore) Create(ctx context.Context, acc *Account) error {
	if acc.Version == 0 {
		acc.Version = 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		acc.ID, normalizeEmail(acc.Email), acc.TierID, acc.Status, acc.PendingTierID,
		acc.DowngradeRequestedAt, acc.EffectiveSince, acc.CreatedAt,
		acc.UpdatedAt, acc.CancelledAt, acc.Version,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}

	if err := s.appendHistory(ctx, tx, acc.ID, acc.History, 0); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) CompareAndSet(ctx context.Context, acc *Account, expectedVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin compare-and-set: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET tier_id = $2, status = $3, pending_tier_id = $4,
		     downgrade_requested_at = $5, effective_since = $6,
		     updated_at = $7, cancelled_at = $8, version = $9
		 WHERE id = $1 AND version = $10`,
		acc.ID, acc.TierID, acc.Status, acc.PendingTierID,
		acc.DowngradeRequestedAt, acc.EffectiveSince,
		acc.UpdatedAt, acc.CancelledAt, expectedVersion+1, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, acc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check account existence: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}

	// History is append-only: persist only the records beyond what is
	// already stored.
	var stored int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM account_transitions WHERE account_id = $1`, acc.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count transitions: %w", err)
	}
	if err := s.appendHistory(ctx, tx, acc.ID, acc.History, stored); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit compare-and-set: %w", err)
	}
	acc.Version = expectedVersion + 1
	return nil
}

func (s *postgresStore) appendHistory(ctx context.Context, tx pgx.Tx, id uuid.UUID, history []TransitionRecord, from int) error {
	if from >= len(history) {
		return nil
	}
	for _, rec := range history[from:] {
		_, err := tx.Exec(ctx,
			`INSERT INTO account_transitions (account_id, from_tier_id, to_tier_id, requested_at, applied_at, reason)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, rec.FromTierID, rec.ToTierID, rec.RequestedAt, rec.AppliedAt, rec.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}
	return nil
}

func (s *postgresStore) PendingDowngrades(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM accounts WHERE status = $1 AND effective_since <= $2`,
		StatusPendingDowngrade, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query pending downgrades: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending downgrade: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
