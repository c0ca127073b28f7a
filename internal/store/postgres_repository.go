/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL used against the `accounts` and `ledger_entries` tables.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/atm-cli/internal/domain"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

const accountColumns = `id, btrim(name), pin_hash, balance, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.PINHash,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundError("account not found")
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountByName retrieves an account by display name, ignoring case and surrounding spaces.
func (r *PostgresRepository) FindAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(btrim(name)) = lower(btrim($1))`
	return scanAccount(r.db.QueryRow(ctx, query, name))
}

// FindAccountByID retrieves an account by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// CreateAccount inserts a new account record into the database.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (id, name, pin_hash, balance)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + accountColumns
	created, err := scanAccount(r.db.QueryRow(ctx, query,
		account.ID,
		domain.NormalizeName(account.Name),
		account.PINHash,
		account.Balance,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			log.Printf("level=info component=store msg=\"account name taken\" constraint=%s", pgErr.ConstraintName)
			return nil, domain.ConflictError("account name is already taken")
		}
		return nil, err
	}
	return created, nil
}

// UpdateBalance applies delta only when the result stays non-negative.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2 AND balance + $1 >= 0
		RETURNING balance
	`
	var balance int64
	err := r.db.QueryRow(ctx, query, delta, id).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Either the account is gone or the guard rejected the update.
	current, findErr := r.FindAccountByID(ctx, id)
	if findErr != nil {
		return 0, findErr
	}
	return 0, domain.InsufficientFundsError(current.Balance, -delta)
}

// LockAccounts locks the given rows FOR UPDATE in ascending id order so that two
// opposing transfers cannot deadlock. Outside a transaction the locks are released
// immediately, so callers use it from RunAtomic.
func (r *PostgresRepository) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	// Row by row so every argument is a single uuid; the simple protocol used by
	// the pool has no text encoding for uuid arrays.
	for _, id := range sortedIDs(ids) {
		var locked uuid.UUID
		err := r.db.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NotFoundError("account not found")
			}
			return err
		}
	}
	return nil
}

// InsertLedgerEntry appends one immutable ledger row.
func (r *PostgresRepository) InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, account_id, kind, amount, counterparty_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.AccountID,
		string(entry.Kind),
		entry.Amount,
		entry.CounterpartyID,
		entry.Description,
		entry.CreatedAt,
	)
	return err
}

// QueryLedger returns the newest entries for an account with counterparty names resolved.
func (r *PostgresRepository) QueryLedger(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.HistoryItem, error) {
	query := `
		SELECT le.id, le.account_id, le.kind, le.amount, le.counterparty_id, le.description, le.created_at,
			btrim(cp.name)
		FROM ledger_entries le
		LEFT JOIN accounts cp ON cp.id = le.counterparty_id
		WHERE le.account_id = $1
		ORDER BY le.created_at DESC, le.seq DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.HistoryItem
	for rows.Next() {
		var item domain.HistoryItem
		var kind string
		if err := rows.Scan(
			&item.ID,
			&item.AccountID,
			&kind,
			&item.Amount,
			&item.CounterpartyID,
			&item.Description,
			&item.CreatedAt,
			&item.CounterpartyName,
		); err != nil {
			return nil, err
		}
		item.Kind = domain.EntryKind(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// RunAtomic executes fn inside one database transaction. Nested calls join the
// outer transaction.
func (r *PostgresRepository) RunAtomic(ctx context.Context, fn AtomicFunc) error {
	if r.pool == nil {
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresRepository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

var _ Repository = (*PostgresRepository)(nil)
