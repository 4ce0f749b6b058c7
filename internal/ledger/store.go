package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eventra/backend/internal/models"
)

// Store is the durable backing for wallets and their transaction log. Commit
// must apply the wallet update and the log insert as one atomic unit.
type Store interface {
	// GetWallet returns the wallet row, or ErrWalletNotFound.
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)

	// GetTransactionByKey returns the committed transaction for an
	// idempotency key along with the current wallet, or errKeyNotFound
	// when no such transaction exists.
	GetTransactionByKey(ctx context.Context, userID, key string) (*models.WalletTransaction, *models.Wallet, error)

	// Commit writes the wallet at wallet.Version and appends txn in one
	// transaction. The wallet row must still be at wallet.Version-1 (or be
	// absent when wallet.Version == 1); otherwise errVersionConflict. An
	// idempotency-key collision returns errDuplicateKey.
	Commit(ctx context.Context, wallet *models.Wallet, txn *models.WalletTransaction) error

	// ListTransactions pages the log newest-first. cursor is opaque; empty
	// means start from the newest entry.
	ListTransactions(ctx context.Context, userID string, limit int, cursor string) ([]models.WalletTransaction, string, error)

	// AuditSnapshot returns the wallet row and the full history oldest-first,
	// both read from one consistent snapshot so a concurrent commit cannot
	// tear the pair apart. The wallet is nil when no row exists.
	AuditSnapshot(ctx context.Context, userID string) (*models.Wallet, []models.WalletTransaction, error)

	// SetStatus flips the wallet status without touching balances.
	SetStatus(ctx context.Context, userID, status string) error
}

// encodeCursor packs the page boundary into an opaque token.
func encodeCursor(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor reverses encodeCursor. An empty cursor means "from the top".
func decodeCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	return time.Unix(0, nanos), parts[1], nil
}
