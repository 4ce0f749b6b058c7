package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/middleware"
	"github.com/eventra/backend/internal/models"
)

// LedgerService is the wallet operation surface the handler needs.
type LedgerService interface {
	GetBalance(ctx context.Context, userID string) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID string, limit int, cursor string) ([]models.WalletTransaction, string, error)
	Deposit(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)
	Withdraw(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)
	Hold(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)
	Release(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)
	Capture(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)
	Payout(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)
	Refund(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)
	VerifyWallet(ctx context.Context, userID string) (*ledger.AuditReport, error)
}

// WalletHandler exposes the wallet API over HTTP.
type WalletHandler struct {
	svc       LedgerService
	validator *ValidationHelper
	log       *zap.Logger
}

func NewWalletHandler(svc LedgerService, log *zap.Logger) *WalletHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WalletHandler{
		svc:       svc,
		validator: NewValidationHelper(),
		log:       log,
	}
}

// GetBalance returns the caller's wallet
// @Summary Get wallet balance
// @Description Returns the caller's balance split into available and held funds
// @Tags wallet
// @Produce json
// @Success 200 {object} models.Wallet
// @Failure 401 {object} ErrorResponse
// @Router /wallet [get]
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	wallet, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactions pages the caller's transaction log
// @Summary List wallet transactions
// @Description Returns the transaction log newest-first with cursor pagination
// @Tags wallet
// @Produce json
// @Param limit query int false "Page size (default 20, max 100)"
// @Param cursor query string false "Opaque cursor from a previous page"
// @Success 200 {object} object{transactions=[]models.WalletTransaction,nextCursor=string}
// @Failure 401 {object} ErrorResponse
// @Router /wallet/transactions [get]
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	txns, next, err := h.svc.ListTransactions(r.Context(), userID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"nextCursor":   next,
		"count":        len(txns),
	})
}

// Audit replays the caller's history against the stored wallet
// @Summary Audit wallet against transaction log
// @Description Replays the full log from zero and compares it with the stored record
// @Tags wallet
// @Produce json
// @Success 200 {object} ledger.AuditReport
// @Failure 409 {object} ledger.AuditReport
// @Router /wallet/audit [get]
func (h *WalletHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	report, err := h.svc.VerifyWallet(r.Context(), userID)
	if err != nil && report == nil {
		h.writeLedgerError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

// Deposit credits available funds
// @Summary Deposit funds
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key; retries with the same key are applied once"
// @Param request body models.DepositRequest true "Amount as a decimal string"
// @Success 200 {object} models.Wallet
// @Failure 400 {object} ErrorResponse
// @Router /wallet/deposit [post]
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req models.DepositRequest
	userID, ok := h.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	h.runMutation(w, r, userID, h.svc.Deposit, req.Amount, "", req.Note)
}

// Withdraw debits available funds
// @Summary Withdraw funds
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body models.WithdrawRequest true "Amount as a decimal string"
// @Success 200 {object} models.Wallet
// @Failure 422 {object} ErrorResponse
// @Router /wallet/withdraw [post]
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawRequest
	userID, ok := h.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	h.runMutation(w, r, userID, h.svc.Withdraw, req.Amount, "", req.Note)
}

// Hold moves funds from available to held
// @Summary Place funds on hold
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body models.HoldRequest true "Amount and optional relatedId"
// @Success 200 {object} models.Wallet
// @Failure 422 {object} ErrorResponse
// @Router /wallet/hold [post]
func (h *WalletHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var req models.HoldRequest
	userID, ok := h.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	h.runMutation(w, r, userID, h.svc.Hold, req.Amount, req.RelatedID, req.Note)
}

// Release moves funds from held back to available
// @Summary Release held funds
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body models.ReleaseRequest true "Amount and optional relatedId"
// @Success 200 {object} models.Wallet
// @Failure 422 {object} ErrorResponse
// @Router /wallet/release [post]
func (h *WalletHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req models.ReleaseRequest
	userID, ok := h.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	h.runMutation(w, r, userID, h.svc.Release, req.Amount, req.RelatedID, req.Note)
}

// Capture consumes held funds permanently
// @Summary Capture held funds
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body models.CaptureRequest true "Amount and optional relatedId"
// @Success 200 {object} models.Wallet
// @Failure 422 {object} ErrorResponse
// @Router /wallet/capture [post]
func (h *WalletHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req models.CaptureRequest
	userID, ok := h.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	h.runMutation(w, r, userID, h.svc.Capture, req.Amount, req.RelatedID, req.Note)
}

// Payout debits available funds without a prior hold
// @Summary Pay out available funds
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body models.PayoutRequest true "Amount and optional relatedId"
// @Success 200 {object} models.Wallet
// @Failure 422 {object} ErrorResponse
// @Router /wallet/payout [post]
func (h *WalletHandler) Payout(w http.ResponseWriter, r *http.Request) {
	var req models.PayoutRequest
	userID, ok := h.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	h.runMutation(w, r, userID, h.svc.Payout, req.Amount, req.RelatedID, req.Note)
}

// Refund credits available funds, reversing a prior capture or payout
// @Summary Refund funds
// @Tags wallet
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body models.RefundRequest true "Amount and optional relatedId"
// @Success 200 {object} models.Wallet
// @Failure 400 {object} ErrorResponse
// @Router /wallet/refund [post]
func (h *WalletHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	userID, ok := h.decodeMutation(w, r, &req)
	if !ok {
		return
	}
	h.runMutation(w, r, userID, h.svc.Refund, req.Amount, req.RelatedID, req.Note)
}

type mutateFunc func(ctx context.Context, userID string, op ledger.Operation) (*models.Wallet, error)

// decodeMutation authenticates the caller and strictly decodes the request
// body into the operation's request variant.
func (h *WalletHandler) decodeMutation(w http.ResponseWriter, r *http.Request, req any) (string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return "", false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return "", false
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return "", false
	}
	return userID, true
}

func (h *WalletHandler) runMutation(w http.ResponseWriter, r *http.Request, userID string, fn mutateFunc, amountStr, relatedID, note string) {
	amount, err := ledger.ParseAmount(amountStr)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	wallet, err := fn(r.Context(), userID, ledger.Operation{
		Amount:         amount,
		RelatedID:      relatedID,
		Note:           note,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// writeLedgerError maps the ledger error taxonomy onto HTTP status codes.
func (h *WalletHandler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientHeld):
		SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, ledger.ErrConflict):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, ledger.ErrWalletFrozen):
		SendErrorResponse(w, err.Error(), http.StatusLocked, nil)
	case errors.Is(err, ledger.ErrPersistence):
		SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
	default:
		h.log.Error("wallet operation failed", zap.Error(err))
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
