package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eventra/backend/internal/models"
)

// AuditReport compares a wallet row against the replay of its full log.
type AuditReport struct {
	UserID           string `json:"userId"`
	TransactionCount int    `json:"transactionCount"`
	Consistent       bool   `json:"consistent"`
	StoredBalance    int64  `json:"storedBalance"`
	StoredAvailable  int64  `json:"storedAvailable"`
	StoredHeld       int64  `json:"storedHeld"`
	ReplayBalance    int64  `json:"replayBalance"`
	ReplayAvailable  int64  `json:"replayAvailable"`
	ReplayHeld       int64  `json:"replayHeld"`
}

// Replay folds a full transaction history, oldest first, from a zero balance.
// Each entry's BalanceAfter must equal the running balance it produces.
func Replay(txns []models.WalletTransaction) (balance, available, held int64, err error) {
	for i := range txns {
		t := &txns[i]
		w := models.Wallet{Balance: balance, Available: available, Held: held}
		if terr := transition(&w, t.Type, t.Amount, DefaultMaxBalance); terr != nil {
			return 0, 0, 0, fmt.Errorf("replay entry %s (%s): %w", t.ID, t.Type, terr)
		}
		if w.Balance != t.BalanceAfter {
			return 0, 0, 0, fmt.Errorf("%w: entry %s records balanceAfter %d, replay computes %d",
				ErrIntegrity, t.ID, t.BalanceAfter, w.Balance)
		}
		balance, available, held = w.Balance, w.Available, w.Held
	}
	return balance, available, held, nil
}

// VerifyWallet replays the user's history and compares it with the stored
// wallet. On any mismatch the wallet is frozen so no further writes can land
// until an operator reconciles it; the mismatch is never auto-corrected.
func (s *Service) VerifyWallet(ctx context.Context, userID string) (*AuditReport, error) {
	wallet, txns, err := s.store.AuditSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		if len(txns) == 0 {
			return &AuditReport{UserID: userID, Consistent: true}, nil
		}
		return nil, fmt.Errorf("%w: %d log entries but no wallet row", ErrIntegrity, len(txns))
	}

	report := &AuditReport{
		UserID:           userID,
		TransactionCount: len(txns),
		StoredBalance:    wallet.Balance,
		StoredAvailable:  wallet.Available,
		StoredHeld:       wallet.Held,
	}

	balance, available, held, replayErr := Replay(txns)
	report.ReplayBalance = balance
	report.ReplayAvailable = available
	report.ReplayHeld = held

	if replayErr == nil &&
		balance == wallet.Balance && available == wallet.Available && held == wallet.Held {
		report.Consistent = true
		return report, nil
	}

	s.log.Error("ledger integrity violation, freezing wallet",
		zap.String("userId", userID),
		zap.Int64("storedBalance", wallet.Balance),
		zap.Int64("replayBalance", balance),
		zap.Error(replayErr))
	if err := s.store.SetStatus(ctx, userID, models.WalletFrozen); err != nil {
		s.log.Error("failed to freeze wallet", zap.String("userId", userID), zap.Error(err))
	}
	if replayErr != nil {
		return report, replayErr
	}
	return report, fmt.Errorf("%w: stored %d/%d/%d, replay %d/%d/%d",
		ErrIntegrity,
		wallet.Balance, wallet.Available, wallet.Held,
		balance, available, held)
}
