package ledger

import "errors"

var (
	// ErrValidation covers malformed, non-positive or over-precise amounts
	// and over-limit balances. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds is returned when a withdrawal, payout or hold
	// exceeds the available portion of the balance.
	ErrInsufficientFunds = errors.New("insufficient available funds")

	// ErrInsufficientHeld is returned when a release or capture exceeds the
	// held portion of the balance.
	ErrInsufficientHeld = errors.New("insufficient held funds")

	// ErrConflict is returned once optimistic version retries are exhausted.
	// Safe for the caller to retry with the same idempotency key.
	ErrConflict = errors.New("wallet version conflict")

	// ErrWalletFrozen rejects mutations on a wallet halted for manual
	// reconciliation after an integrity check failed.
	ErrWalletFrozen = errors.New("wallet is frozen")

	// ErrIntegrity marks a mismatch between a wallet and the replay of its
	// transaction log. Fatal for the wallet; writes are halted, never
	// auto-corrected.
	ErrIntegrity = errors.New("wallet does not match transaction log")

	// ErrPersistence wraps transient storage failures after internal retries
	// are exhausted.
	ErrPersistence = errors.New("persistent store unavailable")

	// ErrWalletNotFound is a store-level sentinel; the service turns it into
	// a lazily created zero wallet.
	ErrWalletNotFound = errors.New("wallet not found")

	// errVersionConflict is the store-level CAS failure; the service retries
	// from the read step and only surfaces ErrConflict once the budget is
	// spent.
	errVersionConflict = errors.New("optimistic lock failed")

	// errDuplicateKey signals a concurrent insert with the same idempotency
	// key; the committed row wins and is returned to both callers.
	errDuplicateKey = errors.New("duplicate idempotency key")

	// errKeyNotFound reports that no committed transaction exists for an
	// idempotency key, so the operation is applied fresh.
	errKeyNotFound = errors.New("idempotency key not found")
)
