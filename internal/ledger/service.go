package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventra/backend/internal/metrics"
	"github.com/eventra/backend/internal/models"
)

// Config carries the ledger tunables, bound from viper in main.
type Config struct {
	MaxBalance         int64
	MaxRetries         int           // optimistic lock attempts per operation
	RetryBackoff       time.Duration // base for exponential backoff
	PersistenceRetries int           // extra attempts on transient store errors
}

func DefaultConfig() Config {
	return Config{
		MaxBalance:         DefaultMaxBalance,
		MaxRetries:         5,
		RetryBackoff:       10 * time.Millisecond,
		PersistenceRetries: 3,
	}
}

// Publisher receives committed transactions, best-effort, after the database
// commit. Failures must never affect the committed operation.
type Publisher interface {
	PublishTransaction(ctx context.Context, txn models.WalletTransaction) error
}

// Operation is one validated mutating call.
type Operation struct {
	Amount         int64
	RelatedID      string
	Note           string
	IdempotencyKey string
}

// Service validates operations, computes balance transitions and commits them
// atomically against the Store under optimistic versioning.
type Service struct {
	store     Store
	cache     *ResultCache
	publisher Publisher
	log       *zap.Logger
	cfg       Config
}

func NewService(store Store, cache *ResultCache, publisher Publisher, log *zap.Logger, cfg Config) *Service {
	if cfg.MaxBalance <= 0 {
		cfg.MaxBalance = DefaultMaxBalance
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, cache: cache, publisher: publisher, log: log, cfg: cfg}
}

// GetBalance returns the wallet snapshot, lazily presenting a zero wallet for
// users that have never transacted. Nothing is persisted on read.
func (s *Service) GetBalance(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return &models.Wallet{UserID: userID, Status: models.WalletActive, UpdatedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListTransactions pages the caller's log newest-first. limit is clamped to
// [1, 100] with a default of 20.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int, cursor string) ([]models.WalletTransaction, string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListTransactions(ctx, userID, limit, cursor)
}

func (s *Service) Deposit(ctx context.Context, userID string, op Operation) (*models.Wallet, error) {
	return s.apply(ctx, userID, models.TxDeposit, op)
}

func (s *Service) Withdraw(ctx context.Context, userID string, op Operation) (*models.Wallet, error) {
	return s.apply(ctx, userID, models.TxWithdrawal, op)
}

func (s *Service) Hold(ctx context.Context, userID string, op Operation) (*models.Wallet, error) {
	return s.apply(ctx, userID, models.TxHold, op)
}

func (s *Service) Release(ctx context.Context, userID string, op Operation) (*models.Wallet, error) {
	return s.apply(ctx, userID, models.TxRelease, op)
}

func (s *Service) Capture(ctx context.Context, userID string, op Operation) (*models.Wallet, error) {
	return s.apply(ctx, userID, models.TxCapture, op)
}

func (s *Service) Payout(ctx context.Context, userID string, op Operation) (*models.Wallet, error) {
	return s.apply(ctx, userID, models.TxPayout, op)
}

func (s *Service) Refund(ctx context.Context, userID string, op Operation) (*models.Wallet, error) {
	return s.apply(ctx, userID, models.TxRefund, op)
}

// apply runs the read-validate-write cycle for one mutation, retrying from
// the read step on version conflicts until the attempt budget is spent.
func (s *Service) apply(ctx context.Context, userID, txType string, op Operation) (*models.Wallet, error) {
	if op.Amount <= 0 {
		metrics.Operations.WithLabelValues(txType, "validation_error").Inc()
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	key := op.IdempotencyKey
	if key == "" {
		// Derived key: protects the internal retry loop, not caller retries.
		key = uuid.NewString()
	}

	if w, ok := s.cache.Get(ctx, userID, key); ok {
		metrics.Operations.WithLabelValues(txType, "idempotent_replay").Inc()
		return w, nil
	}
	if prior, w, err := s.store.GetTransactionByKey(ctx, userID, key); err == nil {
		s.log.Debug("idempotent replay", zap.String("userId", userID), zap.String("txnId", prior.ID))
		metrics.Operations.WithLabelValues(txType, "idempotent_replay").Inc()
		return w, nil
	} else if !errors.Is(err, errKeyNotFound) {
		return nil, err
	}

	persistenceBudget := s.cfg.PersistenceRetries
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.CASRetries.Inc()
			if err := s.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		wallet, err := s.store.GetWallet(ctx, userID)
		if errors.Is(err, ErrWalletNotFound) {
			wallet = &models.Wallet{UserID: userID, Status: models.WalletActive}
		} else if err != nil {
			if errors.Is(err, ErrPersistence) && persistenceBudget > 0 {
				persistenceBudget--
				attempt-- // transient store errors do not consume the CAS budget
				if berr := s.backoff(ctx, 1); berr != nil {
					return nil, berr
				}
				continue
			}
			metrics.Operations.WithLabelValues(txType, "persistence_error").Inc()
			return nil, err
		}
		if wallet.Status == models.WalletFrozen {
			metrics.Operations.WithLabelValues(txType, "frozen").Inc()
			return nil, fmt.Errorf("%w: user %s pending reconciliation", ErrWalletFrozen, userID)
		}

		next := *wallet
		if err := transition(&next, txType, op.Amount, s.cfg.MaxBalance); err != nil {
			metrics.Operations.WithLabelValues(txType, "rejected").Inc()
			return nil, err
		}
		next.Version++
		next.UpdatedAt = time.Now().UTC()

		txn := &models.WalletTransaction{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           txType,
			Amount:         op.Amount,
			BalanceAfter:   next.Balance,
			RelatedID:      op.RelatedID,
			Note:           op.Note,
			IdempotencyKey: key,
			CreatedAt:      next.UpdatedAt,
		}

		err = s.store.Commit(ctx, &next, txn)
		switch {
		case err == nil:
			metrics.Operations.WithLabelValues(txType, "committed").Inc()
			s.cache.Set(ctx, userID, key, &next)
			s.publish(txn)
			s.log.Info("transaction committed",
				zap.String("userId", userID),
				zap.String("type", txType),
				zap.Int64("amount", op.Amount),
				zap.Int64("balanceAfter", next.Balance),
				zap.String("txnId", txn.ID))
			return &next, nil
		case errors.Is(err, errDuplicateKey):
			// Lost the race against a retry of the same call; the committed
			// row is the result.
			if prior, w, lookupErr := s.store.GetTransactionByKey(ctx, userID, key); lookupErr == nil {
				metrics.Operations.WithLabelValues(txType, "idempotent_replay").Inc()
				s.log.Debug("idempotent replay after race", zap.String("txnId", prior.ID))
				return w, nil
			}
			return nil, fmt.Errorf("%w: duplicate idempotency key lookup failed", ErrPersistence)
		case errors.Is(err, errVersionConflict):
			continue
		case errors.Is(err, ErrPersistence):
			if persistenceBudget > 0 {
				persistenceBudget--
				attempt-- // transient store errors do not consume the CAS budget
				if berr := s.backoff(ctx, 1); berr != nil {
					return nil, berr
				}
				continue
			}
			metrics.Operations.WithLabelValues(txType, "persistence_error").Inc()
			return nil, err
		default:
			return nil, err
		}
	}

	metrics.Operations.WithLabelValues(txType, "conflict").Inc()
	return nil, fmt.Errorf("%w: user %s after %d attempts", ErrConflict, userID, s.cfg.MaxRetries)
}

// transition applies one operation's funds movement in place, enforcing the
// balance == available + held invariant and all precondition checks.
func transition(w *models.Wallet, txType string, amount, maxBalance int64) error {
	switch txType {
	case models.TxDeposit, models.TxRefund:
		if w.Balance > maxBalance-amount {
			return fmt.Errorf("%w: balance would exceed maximum", ErrValidation)
		}
		w.Available += amount
		w.Balance += amount
	case models.TxWithdrawal, models.TxPayout:
		if amount > w.Available {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientFunds, amount, w.Available)
		}
		w.Available -= amount
		w.Balance -= amount
	case models.TxHold:
		if amount > w.Available {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientFunds, amount, w.Available)
		}
		w.Available -= amount
		w.Held += amount
	case models.TxRelease:
		if amount > w.Held {
			return fmt.Errorf("%w: requested %d, held %d", ErrInsufficientHeld, amount, w.Held)
		}
		w.Held -= amount
		w.Available += amount
	case models.TxCapture:
		if amount > w.Held {
			return fmt.Errorf("%w: requested %d, held %d", ErrInsufficientHeld, amount, w.Held)
		}
		w.Held -= amount
		w.Balance -= amount
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, txType)
	}
	return nil
}

func (s *Service) backoff(ctx context.Context, attempt int) error {
	shift := attempt - 1
	if shift > 6 {
		shift = 6 // cap the exponential at 64x base
	}
	delay := s.cfg.RetryBackoff << shift
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish hands the committed transaction to the event publisher without
// blocking the response path.
func (s *Service) publish(txn *models.WalletTransaction) {
	if s.publisher == nil {
		return
	}
	t := *txn
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.PublishTransaction(ctx, t); err != nil {
			s.log.Warn("failed to publish transaction event",
				zap.String("txnId", t.ID), zap.Error(err))
		}
	}()
}
