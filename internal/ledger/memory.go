package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/eventra/backend/internal/models"
)

// MemoryStore keeps wallets and their logs behind a single mutex. Used by
// tests and local development; the durability contract belongs to the
// Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]models.Wallet
	txns    map[string][]models.WalletTransaction
	byKey   map[string]models.WalletTransaction // userID+"\x00"+key
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]models.Wallet),
		txns:    make(map[string][]models.WalletTransaction),
		byKey:   make(map[string]models.WalletTransaction),
	}
}

func keyIndex(userID, key string) string { return userID + "\x00" + key }

func (s *MemoryStore) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return &w, nil
}

func (s *MemoryStore) GetTransactionByKey(ctx context.Context, userID, key string) (*models.WalletTransaction, *models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byKey[keyIndex(userID, key)]
	if !ok {
		return nil, nil, errKeyNotFound
	}
	w := s.wallets[userID]
	return &txn, &w, nil
}

func (s *MemoryStore) Commit(ctx context.Context, wallet *models.Wallet, txn *models.WalletTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.wallets[wallet.UserID]
	switch {
	case !exists && wallet.Version != 1:
		return errVersionConflict
	case exists && current.Version != wallet.Version-1:
		return errVersionConflict
	}
	if txn.IdempotencyKey != "" {
		if _, dup := s.byKey[keyIndex(txn.UserID, txn.IdempotencyKey)]; dup {
			return errDuplicateKey
		}
	}

	s.wallets[wallet.UserID] = *wallet
	s.txns[txn.UserID] = append(s.txns[txn.UserID], *txn)
	if txn.IdempotencyKey != "" {
		s.byKey[keyIndex(txn.UserID, txn.IdempotencyKey)] = *txn
	}
	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, userID string, limit int, cursor string) ([]models.WalletTransaction, string, error) {
	after, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.txns[userID]
	out := make([]models.WalletTransaction, 0, limit)
	// log is append-only, so walking backwards yields newest-first
	for i := len(all) - 1; i >= 0; i-- {
		t := all[i]
		if cursor != "" {
			if t.CreatedAt.After(after) || (t.CreatedAt.Equal(after) && t.ID >= afterID) {
				continue
			}
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit && limit > 0 {
		last := out[len(out)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return out, next, nil
}

// AuditSnapshot copies the wallet and history under one lock hold, so a
// commit cannot land between the two.
func (s *MemoryStore) AuditSnapshot(ctx context.Context, userID string) (*models.Wallet, []models.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wallet *models.Wallet
	if w, ok := s.wallets[userID]; ok {
		wallet = &w
	}

	all := s.txns[userID]
	out := make([]models.WalletTransaction, len(all))
	copy(out, all)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return wallet, out, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = status
	s.wallets[userID] = w
	return nil
}

var _ Store = (*MemoryStore)(nil)
