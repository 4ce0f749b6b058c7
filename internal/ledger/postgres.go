package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/eventra/backend/internal/models"
)

// PostgresStore persists wallets and the transaction log in the `wallets` and
// `wallet_transactions` tables (migrations/0001_wallets.sql).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, available, held, status, version, updated_at
		FROM wallets
		WHERE user_id = $1`, userID).
		Scan(&w.UserID, &w.Balance, &w.Available, &w.Held, &w.Status, &w.Version, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("get wallet", err)
	}
	return &w, nil
}

func (s *PostgresStore) GetTransactionByKey(ctx context.Context, userID, key string) (*models.WalletTransaction, *models.Wallet, error) {
	var t models.WalletTransaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount, balance_after, related_id, note, idempotency_key, created_at
		FROM wallet_transactions
		WHERE user_id = $1 AND idempotency_key = $2`, userID, key).
		Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.RelatedID, &t.Note, &t.IdempotencyKey, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, errKeyNotFound
	}
	if err != nil {
		return nil, nil, wrapStoreErr("get transaction by key", err)
	}
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return &t, w, nil
}

func (s *PostgresStore) Commit(ctx context.Context, wallet *models.Wallet, txn *models.WalletTransaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin", err)
	}
	defer tx.Rollback()

	if wallet.Version == 1 {
		// Lazy creation on first mutation. A concurrent first write loses
		// on the primary key and retries from the read step.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallets (user_id, balance, available, held, status, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			wallet.UserID, wallet.Balance, wallet.Available, wallet.Held, wallet.Status, wallet.Version, wallet.UpdatedAt)
		if isUniqueViolation(err) {
			return errVersionConflict
		}
		if err != nil {
			return wrapStoreErr("insert wallet", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE wallets
			SET balance = $1, available = $2, held = $3, version = $4, updated_at = $5
			WHERE user_id = $6 AND version = $7`,
			wallet.Balance, wallet.Available, wallet.Held, wallet.Version, wallet.UpdatedAt,
			wallet.UserID, wallet.Version-1)
		if err != nil {
			return wrapStoreErr("update wallet", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return wrapStoreErr("update wallet", err)
		}
		if affected == 0 {
			return errVersionConflict
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, user_id, type, amount, balance_after, related_id, note, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.UserID, txn.Type, txn.Amount, txn.BalanceAfter,
		txn.RelatedID, txn.Note, nullable(txn.IdempotencyKey), txn.CreatedAt)
	if isUniqueViolation(err) {
		return errDuplicateKey
	}
	if err != nil {
		return wrapStoreErr("insert transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit", err)
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int, cursor string) ([]models.WalletTransaction, string, error) {
	after, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var rows *sql.Rows
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, type, amount, balance_after, related_id, note, COALESCE(idempotency_key, ''), created_at
			FROM wallet_transactions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, type, amount, balance_after, related_id, note, COALESCE(idempotency_key, ''), created_at
			FROM wallet_transactions
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, after, afterID, limit)
	}
	if err != nil {
		return nil, "", wrapStoreErr("list transactions", err)
	}
	defer rows.Close()

	out := make([]models.WalletTransaction, 0, limit)
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.RelatedID, &t.Note, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, "", wrapStoreErr("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", wrapStoreErr("list transactions", err)
	}

	next := ""
	if len(out) == limit && limit > 0 {
		last := out[len(out)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return out, next, nil
}

// AuditSnapshot reads the wallet and its full history inside one repeatable
// read transaction, so a mutation committing mid-audit cannot make the pair
// disagree.
func (s *PostgresStore) AuditSnapshot(ctx context.Context, userID string) (*models.Wallet, []models.WalletTransaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, wrapStoreErr("begin snapshot", err)
	}
	defer tx.Rollback()

	wallet := &models.Wallet{}
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, balance, available, held, status, version, updated_at
		FROM wallets
		WHERE user_id = $1`, userID).
		Scan(&wallet.UserID, &wallet.Balance, &wallet.Available, &wallet.Held, &wallet.Status, &wallet.Version, &wallet.UpdatedAt)
	if err == sql.ErrNoRows {
		wallet = nil
	} else if err != nil {
		return nil, nil, wrapStoreErr("snapshot wallet", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, type, amount, balance_after, related_id, note, COALESCE(idempotency_key, ''), created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, nil, wrapStoreErr("snapshot transactions", err)
	}
	defer rows.Close()

	var out []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.RelatedID, &t.Note, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, nil, wrapStoreErr("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapStoreErr("snapshot transactions", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, wrapStoreErr("snapshot", err)
	}
	return wallet, out, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, userID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET status = $1, updated_at = $2 WHERE user_id = $3`,
		status, time.Now().UTC(), userID)
	if err != nil {
		return wrapStoreErr("set status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr("set status", err)
	}
	if affected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// nullable maps "" to NULL so the partial unique index on idempotency_key
// ignores keyless rows.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// wrapStoreErr tags connection-level failures as transient so the service can
// retry them with backoff; everything else bubbles up unwrapped.
func wrapStoreErr(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exceptions; 40001/40P01: serialization/deadlock
		return pqErr.Code.Class() == "08" || pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
