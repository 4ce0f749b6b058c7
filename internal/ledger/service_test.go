package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/backend/internal/models"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, nil, Config{
		MaxRetries:   100,
		RetryBackoff: time.Millisecond,
	})
	return svc, store
}

func assertInvariant(t *testing.T, w *models.Wallet) {
	t.Helper()
	assert.Equal(t, w.Balance, w.Available+w.Held, "balance must equal available + held")
	assert.GreaterOrEqual(t, w.Available, int64(0))
	assert.GreaterOrEqual(t, w.Held, int64(0))
}

func TestWalletScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "host-42"

	w, err := svc.Deposit(ctx, user, Operation{Amount: 25000, Note: "initial funding"})
	require.NoError(t, err)
	assert.Equal(t, int64(25000), w.Balance)
	assert.Equal(t, int64(25000), w.Available)
	assert.Equal(t, int64(0), w.Held)
	assertInvariant(t, w)

	w, err = svc.Hold(ctx, user, Operation{Amount: 10000, RelatedID: "stipend-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(25000), w.Balance)
	assert.Equal(t, int64(15000), w.Available)
	assert.Equal(t, int64(10000), w.Held)
	assertInvariant(t, w)

	w, err = svc.Release(ctx, user, Operation{Amount: 5000, RelatedID: "stipend-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(25000), w.Balance)
	assert.Equal(t, int64(20000), w.Available)
	assert.Equal(t, int64(5000), w.Held)
	assertInvariant(t, w)

	w, err = svc.Capture(ctx, user, Operation{Amount: 5000, RelatedID: "stipend-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), w.Balance)
	assert.Equal(t, int64(20000), w.Available)
	assert.Equal(t, int64(0), w.Held)
	assertInvariant(t, w)

	w, err = svc.Withdraw(ctx, user, Operation{Amount: 20000, Note: "payout to bank"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
	assert.Equal(t, int64(0), w.Available)
	assert.Equal(t, int64(0), w.Held)
	assertInvariant(t, w)

	txns, _, err := svc.ListTransactions(ctx, user, 10, "")
	require.NoError(t, err)
	require.Len(t, txns, 5)

	// newest-first listing; balanceAfter matches the running totals above
	wantTypes := []string{models.TxWithdrawal, models.TxCapture, models.TxRelease, models.TxHold, models.TxDeposit}
	wantBalances := []int64{0, 20000, 25000, 25000, 25000}
	for i, txn := range txns {
		assert.Equal(t, wantTypes[i], txn.Type)
		assert.Equal(t, wantBalances[i], txn.BalanceAfter)
	}
}

func TestDepositCreatesWalletLazily(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := store.GetWallet(ctx, "new-user")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	w, err := svc.Deposit(ctx, "new-user", Operation{Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Version)
	assert.Equal(t, models.WalletActive, w.Status)
}

func TestGetBalanceReturnsZeroWalletForUnknownUser(t *testing.T) {
	svc, store := newTestService(t)

	w, err := svc.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
	assert.Equal(t, models.WalletActive, w.Status)

	// read must not persist anything
	_, err = store.GetWallet(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestIdempotentReplay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "vendor-7"

	op := Operation{Amount: 5000, IdempotencyKey: "dep-abc"}
	first, err := svc.Deposit(ctx, user, op)
	require.NoError(t, err)

	second, err := svc.Deposit(ctx, user, op)
	require.NoError(t, err)

	assert.Equal(t, first.Balance, second.Balance)
	assert.Equal(t, int64(5000), second.Balance)

	txns, _, err := svc.ListTransactions(ctx, user, 10, "")
	require.NoError(t, err)
	assert.Len(t, txns, 1, "retried call must not append a second log row")
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "contractor-3"

	_, err := svc.Deposit(ctx, user, Operation{Amount: 1000})
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, user, Operation{Amount: 1001})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	w, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.Balance)
}

func TestHoldEntireAvailable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "owner-9"

	_, err := svc.Deposit(ctx, user, Operation{Amount: 7500})
	require.NoError(t, err)

	w, err := svc.Hold(ctx, user, Operation{Amount: 7500})
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Available)
	assert.Equal(t, int64(7500), w.Held)
	assertInvariant(t, w)
}

func TestReleaseMoreThanHeldLeavesWalletUnchanged(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "owner-10"

	_, err := svc.Deposit(ctx, user, Operation{Amount: 10000})
	require.NoError(t, err)
	before, err := svc.Hold(ctx, user, Operation{Amount: 4000})
	require.NoError(t, err)

	_, err = svc.Release(ctx, user, Operation{Amount: 4001})
	assert.ErrorIs(t, err, ErrInsufficientHeld)

	after, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, before.Balance, after.Balance)
	assert.Equal(t, before.Available, after.Available)
	assert.Equal(t, before.Held, after.Held)
	assert.Equal(t, before.Version, after.Version)
}

func TestCaptureMoreThanHeld(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "owner-11"

	_, err := svc.Deposit(ctx, user, Operation{Amount: 10000})
	require.NoError(t, err)
	_, err = svc.Hold(ctx, user, Operation{Amount: 3000})
	require.NoError(t, err)

	_, err = svc.Capture(ctx, user, Operation{Amount: 3001})
	assert.ErrorIs(t, err, ErrInsufficientHeld)
}

func TestDepositOverMaximumBalance(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, nil, Config{MaxBalance: 10000, MaxRetries: 3, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "rich", Operation{Amount: 9000})
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, "rich", Operation{Amount: 1001})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentHolds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "busy-user"

	_, err := svc.Deposit(ctx, user, Operation{Amount: 10000}) // 100.00 available
	require.NoError(t, err)

	const workers = 10
	const holdAmount = 3000 // only 3 of 10 can fit

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Hold(ctx, user, Operation{Amount: holdAmount})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 3, succeeded)

	w, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), w.Held)
	assert.Equal(t, int64(1000), w.Available)
	assert.Equal(t, int64(10000), w.Balance)
	assertInvariant(t, w)
}

func TestFrozenWalletRejectsMutations(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	user := "frozen-user"

	_, err := svc.Deposit(ctx, user, Operation{Amount: 5000})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, user, models.WalletFrozen))

	_, err = svc.Deposit(ctx, user, Operation{Amount: 100})
	assert.ErrorIs(t, err, ErrWalletFrozen)

	// reads still work
	w, err := svc.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), w.Balance)
}

func TestNonPositiveAmountRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Deposit(context.Background(), "u", Operation{Amount: 0})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Withdraw(context.Background(), "u", Operation{Amount: -5})
	assert.ErrorIs(t, err, ErrValidation)
}

// conflictStore forces every Commit into a version conflict.
type conflictStore struct {
	*MemoryStore
}

func (s *conflictStore) Commit(ctx context.Context, w *models.Wallet, txn *models.WalletTransaction) error {
	return errVersionConflict
}

func TestConflictBudgetExhausted(t *testing.T) {
	store := &conflictStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, nil, nil, nil, Config{MaxRetries: 3, RetryBackoff: time.Millisecond})

	start := time.Now()
	_, err := svc.Deposit(context.Background(), "u", Operation{Amount: 100})
	assert.ErrorIs(t, err, ErrConflict)
	// two backoffs of 1ms and 2ms must have elapsed
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

// flakyReadStore fails the next `failures` wallet reads with a transient error.
type flakyReadStore struct {
	*MemoryStore
	failures int
}

func (s *flakyReadStore) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if s.failures > 0 {
		s.failures--
		return nil, fmt.Errorf("%w: connection reset", ErrPersistence)
	}
	return s.MemoryStore.GetWallet(ctx, userID)
}

func TestTransientReadRetriesSpareConflictBudget(t *testing.T) {
	store := &flakyReadStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, nil, nil, nil, Config{
		MaxRetries:         1,
		RetryBackoff:       time.Millisecond,
		PersistenceRetries: 3,
	})
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "u", Operation{Amount: 500})
	require.NoError(t, err)

	// two transient read failures must ride the persistence budget, leaving
	// the single conflict attempt for the commit
	store.failures = 2
	w, err := svc.Deposit(ctx, "u", Operation{Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.Balance)
}

func TestListTransactionsPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := "pager"

	for i := 0; i < 5; i++ {
		_, err := svc.Deposit(ctx, user, Operation{Amount: 100})
		require.NoError(t, err)
		time.Sleep(time.Millisecond) // distinct createdAt for cursor ordering
	}

	page1, cursor, err := svc.ListTransactions(ctx, user, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)

	page2, cursor2, err := svc.ListTransactions(ctx, user, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEmpty(t, cursor2)

	page3, _, err := svc.ListTransactions(ctx, user, 2, cursor2)
	require.NoError(t, err)
	require.Len(t, page3, 1)

	seen := map[string]bool{}
	for _, p := range [][]models.WalletTransaction{page1, page2, page3} {
		for _, txn := range p {
			assert.False(t, seen[txn.ID], "no entry may appear on two pages")
			seen[txn.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}
