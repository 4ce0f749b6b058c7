package models

import (
	"time"
)

// Wallet statuses
const (
	WalletActive = "ACTIVE"
	WalletFrozen = "FROZEN"
)

// Transaction types. Direction is implied by the type; Amount is always positive.
const (
	TxDeposit    = "deposit"
	TxWithdrawal = "withdrawal"
	TxHold       = "hold"
	TxRelease    = "release"
	TxCapture    = "capture"
	TxPayout     = "payout"
	TxRefund     = "refund"
)

// Wallet is the per-user balance record. Balance, Available and Held are in
// minor units (cents). Invariant: Balance == Available + Held, all >= 0.
type Wallet struct {
	UserID    string    `json:"userId" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Available int64     `json:"available" db:"available"`
	Held      int64     `json:"held" db:"held"`
	Status    string    `json:"status" db:"status"`
	Version   int64     `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// WalletTransaction is one immutable row of the append-only transaction log.
type WalletTransaction struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"userId" db:"user_id"`
	Type           string    `json:"type" db:"type"`
	Amount         int64     `json:"amount" db:"amount"` // in cents
	BalanceAfter   int64     `json:"balanceAfter" db:"balance_after"`
	RelatedID      string    `json:"relatedId,omitempty" db:"related_id"`
	Note           string    `json:"note,omitempty" db:"note"`
	IdempotencyKey string    `json:"-" db:"idempotency_key"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// Request bodies for the mutating wallet endpoints. One variant per
// operation type so each carries only the fields meaningful for it; Amount is
// a decimal string ("250.00") and precision beyond two decimal places is
// rejected at the boundary.

// DepositRequest credits funds into the available bucket.
type DepositRequest struct {
	Amount string `json:"amount" validate:"required,max=24"`
	Note   string `json:"note,omitempty" validate:"omitempty,max=200"`
}

// WithdrawRequest debits available funds directly.
type WithdrawRequest struct {
	Amount string `json:"amount" validate:"required,max=24"`
	Note   string `json:"note,omitempty" validate:"omitempty,max=200"`
}

// HoldRequest moves available funds to held; RelatedID correlates the hold
// with its later release/capture.
type HoldRequest struct {
	Amount    string `json:"amount" validate:"required,max=24"`
	RelatedID string `json:"relatedId,omitempty" validate:"omitempty,max=64"`
	Note      string `json:"note,omitempty" validate:"omitempty,max=200"`
}

// ReleaseRequest moves held funds back to available.
type ReleaseRequest struct {
	Amount    string `json:"amount" validate:"required,max=24"`
	RelatedID string `json:"relatedId,omitempty" validate:"omitempty,max=64"`
	Note      string `json:"note,omitempty" validate:"omitempty,max=200"`
}

// CaptureRequest consumes held funds permanently.
type CaptureRequest struct {
	Amount    string `json:"amount" validate:"required,max=24"`
	RelatedID string `json:"relatedId,omitempty" validate:"omitempty,max=64"`
	Note      string `json:"note,omitempty" validate:"omitempty,max=200"`
}

// PayoutRequest debits available funds without a prior hold.
type PayoutRequest struct {
	Amount    string `json:"amount" validate:"required,max=24"`
	RelatedID string `json:"relatedId,omitempty" validate:"omitempty,max=64"`
	Note      string `json:"note,omitempty" validate:"omitempty,max=200"`
}

// RefundRequest credits funds back, reversing a prior capture or payout
// identified by RelatedID.
type RefundRequest struct {
	Amount    string `json:"amount" validate:"required,max=24"`
	RelatedID string `json:"relatedId,omitempty" validate:"omitempty,max=64"`
	Note      string `json:"note,omitempty" validate:"omitempty,max=200"`
}
