package pool_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/pool"
	"github.com/babylon/engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a pool Service with an in-memory store and chi router.
func newTestEnv(t *testing.T) (*pool.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := pool.NewService(ms, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return svc, ms, r
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance float64) {
	t.Helper()
	u := &model.User{
		ID:             id,
		Username:       id,
		VirtualBalance: d(balance),
		CreatedAt:      time.Now().UTC(),
	}
	if err := ms.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedPool(t *testing.T, svc *pool.Service, feeRate float64) *model.Pool {
	t.Helper()
	rate := d(feeRate)
	p, err := svc.CreatePool(context.Background(), pool.CreatePoolRequest{
		Name:               "Momentum Fund",
		NPCActorID:         "npc-1",
		PerformanceFeeRate: &rate,
	})
	if err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	return p
}

func getUser(t *testing.T, ms *store.MemoryStore, id string) *model.User {
	t.Helper()
	u, err := ms.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u
}

func getPool(t *testing.T, svc *pool.Service, id string) *model.Pool {
	t.Helper()
	p, err := svc.GetPool(context.Background(), id)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	return p
}

func deposit(t *testing.T, svc *pool.Service, poolID, userID string, amount float64) *pool.DepositResult {
	t.Helper()
	res, err := svc.Deposit(context.Background(), pool.DepositRequest{PoolID: poolID, UserID: userID, Amount: d(amount)})
	if err != nil {
		t.Fatalf("deposit %v by %s: %v", amount, userID, err)
	}
	return res
}

// --- Deposit ---

func TestDeposit_SharesAtNAV(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	seedUser(t, ms, "b", 1000)
	p := seedPool(t, svc, 0.2)

	first := deposit(t, svc, p.ID, "a", 100)
	if !first.Deposit.Shares.Equal(d(100)) {
		t.Errorf("first deposit shares = %s, want 100", first.Deposit.Shares)
	}
	second := deposit(t, svc, p.ID, "b", 50)
	if !second.Deposit.Shares.Equal(d(50)) {
		t.Errorf("second deposit shares = %s, want 50", second.Deposit.Shares)
	}

	got := getPool(t, svc, p.ID)
	if !got.TotalValue.Equal(d(150)) || !got.TotalDeposits.Equal(d(150)) || !got.AvailableBalance.Equal(d(150)) {
		t.Errorf("pool aggregates = %s/%s/%s, want 150 each", got.TotalValue, got.TotalDeposits, got.AvailableBalance)
	}
	// NAV per share for the first holder is still 1.00.
	nav := got.TotalValue.Div(first.Deposit.Shares.Add(second.Deposit.Shares))
	if !nav.Equal(d(1)) {
		t.Errorf("NAV per share = %s, want 1", nav)
	}
}

func TestDeposit_AuditAndPoints(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	p := seedPool(t, svc, 0.2)

	res := deposit(t, svc, p.ID, "a", 250)
	if !res.NewBalance.Equal(d(750)) || res.PointsAwarded != 2 {
		t.Errorf("result = %+v", res)
	}

	u := getUser(t, ms, "a")
	if u.ReputationPoints != 2 || !u.TotalDeposited.Equal(d(250)) {
		t.Errorf("user = %+v", u)
	}

	txs, _ := ms.ListBalanceTransactions(context.Background(), "a")
	if len(txs) != 1 {
		t.Fatalf("expected 1 balance transaction, got %d", len(txs))
	}
	bt := txs[0]
	if bt.Type != model.TxPoolDeposit || !bt.Amount.Equal(d(-250)) || !bt.BalanceBefore.Equal(d(1000)) || !bt.BalanceAfter.Equal(d(750)) {
		t.Errorf("balance transaction = %+v", bt)
	}

	pts, _ := ms.ListPointsTransactions(context.Background(), "a")
	if len(pts) != 1 || pts[0].Amount != 2 || pts[0].Ledger != model.LedgerReputation {
		t.Errorf("points transactions = %+v", pts)
	}
}

func TestDeposit_Errors(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 100)
	p := seedPool(t, svc, 0.2)
	closed := seedPool(t, svc, 0.2)
	if _, err := svc.Deactivate(context.Background(), closed.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	tests := []struct {
		name string
		req  pool.DepositRequest
		want error
		kind error
	}{
		{"zero amount", pool.DepositRequest{PoolID: p.ID, UserID: "a", Amount: decimal.Zero}, pool.ErrInvalidAmount, apperr.ErrValidation},
		{"unknown pool", pool.DepositRequest{PoolID: "nope", UserID: "a", Amount: d(10)}, pool.ErrPoolNotFound, apperr.ErrNotFound},
		{"unknown user", pool.DepositRequest{PoolID: p.ID, UserID: "ghost", Amount: d(10)}, pool.ErrUserNotFound, apperr.ErrNotFound},
		{"inactive pool", pool.DepositRequest{PoolID: closed.ID, UserID: "a", Amount: d(10)}, pool.ErrPoolInactive, apperr.ErrInvalidState},
		{"insufficient balance", pool.DepositRequest{PoolID: p.ID, UserID: "a", Amount: d(100.01)}, pool.ErrInsufficientBalance, apperr.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deposit(context.Background(), tt.req)
			if !errors.Is(err, tt.want) || !errors.Is(err, tt.kind) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if u := getUser(t, ms, "a"); !u.VirtualBalance.Equal(d(100)) {
		t.Errorf("failed deposits changed the balance to %s", u.VirtualBalance)
	}
	if deps, _ := ms.ListDeposits(context.Background(), p.ID); len(deps) != 0 {
		t.Errorf("failed deposits left %d rows", len(deps))
	}
}

// --- Withdraw ---

func TestWithdraw_FeeOnProfit(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	p := seedPool(t, svc, 0.2)
	dep := deposit(t, svc, p.ID, "a", 100)

	if _, err := svc.ApplyPnL(context.Background(), p.ID, d(50), true); err != nil {
		t.Fatalf("apply pnl: %v", err)
	}

	res, err := svc.Withdraw(context.Background(), pool.WithdrawRequest{PoolID: p.ID, UserID: "a", DepositID: dep.Deposit.ID})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !res.WithdrawalAmount.Equal(d(140)) || !res.PerformanceFee.Equal(d(10)) {
		t.Errorf("amount/fee = %s/%s, want 140/10", res.WithdrawalAmount, res.PerformanceFee)
	}
	if !res.PnL.Equal(d(40)) || !res.GrossPnL.Equal(d(50)) || !res.OriginalAmount.Equal(d(100)) {
		t.Errorf("pnl = %s gross = %s original = %s", res.PnL, res.GrossPnL, res.OriginalAmount)
	}
	if !res.NewBalance.Equal(d(1040)) {
		t.Errorf("new balance = %s, want 1040", res.NewBalance)
	}
	// 1 point from the deposit, 4 from 40 of net profit.
	if res.ReputationChange != 4 || res.NewReputation != 5 {
		t.Errorf("reputation change/new = %d/%d, want 4/5", res.ReputationChange, res.NewReputation)
	}

	got := getPool(t, svc, p.ID)
	if !got.TotalFeesCollected.Equal(d(10)) {
		t.Errorf("fees collected = %s, want 10", got.TotalFeesCollected)
	}
	if !got.TotalValue.IsZero() || !got.AvailableBalance.IsZero() {
		t.Errorf("pool not drained: %s/%s", got.TotalValue, got.AvailableBalance)
	}

	u := getUser(t, ms, "a")
	if !u.LifetimePnL.Equal(d(40)) || !u.TotalWithdrawn.Equal(d(140)) {
		t.Errorf("user pnl/withdrawn = %s/%s", u.LifetimePnL, u.TotalWithdrawn)
	}
}

func TestWithdraw_LossPaysNoFee(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	p := seedPool(t, svc, 0.2)
	dep := deposit(t, svc, p.ID, "a", 100)

	if _, err := svc.ApplyPnL(context.Background(), p.ID, d(-20), true); err != nil {
		t.Fatalf("apply pnl: %v", err)
	}
	res, err := svc.Withdraw(context.Background(), pool.WithdrawRequest{PoolID: p.ID, UserID: "a", DepositID: dep.Deposit.ID})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !res.WithdrawalAmount.Equal(d(80)) || !res.PerformanceFee.IsZero() {
		t.Errorf("amount/fee = %s/%s, want 80/0", res.WithdrawalAmount, res.PerformanceFee)
	}
	// 1 point from the deposit, -2 for 20 lost, floored at zero.
	if res.ReputationChange != -1 || res.NewReputation != 0 {
		t.Errorf("reputation change/new = %d/%d, want -1/0", res.ReputationChange, res.NewReputation)
	}
}

func TestWithdraw_Twice(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	p := seedPool(t, svc, 0.2)
	dep := deposit(t, svc, p.ID, "a", 100)
	req := pool.WithdrawRequest{PoolID: p.ID, UserID: "a", DepositID: dep.Deposit.ID}

	if _, err := svc.Withdraw(context.Background(), req); err != nil {
		t.Fatalf("first withdraw: %v", err)
	}
	_, err := svc.Withdraw(context.Background(), req)
	if !errors.Is(err, pool.ErrAlreadyWithdrawn) {
		t.Fatalf("second withdraw: got %v, want ErrAlreadyWithdrawn", err)
	}
	if got := getUser(t, ms, "a").VirtualBalance; !got.Equal(d(1000)) {
		t.Errorf("balance = %s, want 1000 (no double credit)", got)
	}
}

func TestWithdraw_InsufficientLiquidityLeavesStateUntouched(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	p := seedPool(t, svc, 0)
	dep := deposit(t, svc, p.ID, "a", 100)

	// All cash is realized away, then open positions mark back up to 120.
	if _, err := svc.ApplyPnL(context.Background(), p.ID, d(-100), true); err != nil {
		t.Fatalf("move cash: %v", err)
	}
	if _, err := svc.ApplyPnL(context.Background(), p.ID, d(120), false); err != nil {
		t.Fatalf("mark: %v", err)
	}
	before := getPool(t, svc, p.ID)

	_, err := svc.Withdraw(context.Background(), pool.WithdrawRequest{PoolID: p.ID, UserID: "a", DepositID: dep.Deposit.ID})
	if !errors.Is(err, pool.ErrInsufficientLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientLiquidity", err)
	}
	if apperr.Code(err) != "INSUFFICIENT_POOL_LIQUIDITY" {
		t.Errorf("code = %s", apperr.Code(err))
	}

	after := getPool(t, svc, p.ID)
	if !after.TotalValue.Equal(before.TotalValue) || !after.AvailableBalance.Equal(before.AvailableBalance) {
		t.Error("pool changed on failed withdrawal")
	}
	stored, _ := ms.GetDeposit(context.Background(), dep.Deposit.ID)
	if !stored.Active() {
		t.Error("deposit must remain open after a liquidity failure")
	}
	if got := getUser(t, ms, "a").VirtualBalance; !got.Equal(d(900)) {
		t.Errorf("balance = %s, want 900", got)
	}
}

func TestWithdraw_FeeCashMustBeLiquid(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	seedUser(t, ms, "b", 1000)
	p := seedPool(t, svc, 0.2)
	dep := deposit(t, svc, p.ID, "a", 100)
	deposit(t, svc, p.ID, "b", 100)
	ctx := context.Background()

	// Cash ends at 140 while each deposit marks to 150: a's payout is 140
	// after a 10 fee, so the payout alone is covered but payout plus fee is not.
	if _, err := svc.ApplyPnL(ctx, p.ID, d(-60), true); err != nil {
		t.Fatalf("realize loss: %v", err)
	}
	if _, err := svc.ApplyPnL(ctx, p.ID, d(160), false); err != nil {
		t.Fatalf("mark: %v", err)
	}
	before := getPool(t, svc, p.ID)
	if !before.AvailableBalance.Equal(d(140)) {
		t.Fatalf("setup cash = %s, want 140", before.AvailableBalance)
	}

	_, err := svc.Withdraw(ctx, pool.WithdrawRequest{PoolID: p.ID, UserID: "a", DepositID: dep.Deposit.ID})
	if !errors.Is(err, pool.ErrInsufficientLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientLiquidity", err)
	}
	after := getPool(t, svc, p.ID)
	if !after.AvailableBalance.Equal(before.AvailableBalance) || !after.TotalFeesCollected.IsZero() {
		t.Errorf("pool changed on failed withdrawal: cash %s fees %s", after.AvailableBalance, after.TotalFeesCollected)
	}

	// Realizing 20 lifts cash to 160, matching a's new current value. The
	// withdrawal then goes through and cash drops by exactly payout plus fee.
	if _, err := svc.ApplyPnL(ctx, p.ID, d(20), true); err != nil {
		t.Fatalf("realize: %v", err)
	}
	cash := getPool(t, svc, p.ID).AvailableBalance
	stored, _ := ms.GetDeposit(ctx, dep.Deposit.ID)
	res, err := svc.Withdraw(ctx, pool.WithdrawRequest{PoolID: p.ID, UserID: "a", DepositID: dep.Deposit.ID})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	got := getPool(t, svc, p.ID)
	if want := cash.Sub(res.WithdrawalAmount).Sub(res.PerformanceFee); !got.AvailableBalance.Equal(want) {
		t.Errorf("cash after withdraw = %s, want %s", got.AvailableBalance, want)
	}
	if !res.WithdrawalAmount.Add(res.PerformanceFee).Equal(stored.CurrentValue) {
		t.Errorf("payout %s + fee %s != current value %s", res.WithdrawalAmount, res.PerformanceFee, stored.CurrentValue)
	}
}

func TestWithdraw_Errors(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	seedUser(t, ms, "b", 1000)
	p := seedPool(t, svc, 0.2)
	other := seedPool(t, svc, 0.2)
	dep := deposit(t, svc, p.ID, "a", 100)

	tests := []struct {
		name string
		req  pool.WithdrawRequest
		want error
	}{
		{"unknown deposit", pool.WithdrawRequest{PoolID: p.ID, UserID: "a", DepositID: "nope"}, pool.ErrDepositNotFound},
		{"other user", pool.WithdrawRequest{PoolID: p.ID, UserID: "b", DepositID: dep.Deposit.ID}, pool.ErrUnauthorized},
		{"other pool", pool.WithdrawRequest{PoolID: other.ID, UserID: "a", DepositID: dep.Deposit.ID}, pool.ErrMismatchedPool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Withdraw(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEndToEnd_TwoDepositorsOneWithdrawal(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "A", 1000)
	seedUser(t, ms, "B", 1000)
	p := seedPool(t, svc, 0.2)

	a := deposit(t, svc, p.ID, "A", 200)
	if !a.Deposit.Shares.Equal(d(200)) {
		t.Errorf("A shares = %s, want 200", a.Deposit.Shares)
	}
	pl := getPool(t, svc, p.ID)
	if !pl.TotalValue.Equal(d(200)) || !pl.AvailableBalance.Equal(d(200)) {
		t.Errorf("after A: %s/%s", pl.TotalValue, pl.AvailableBalance)
	}

	b := deposit(t, svc, p.ID, "B", 100)
	if !b.Deposit.Shares.Equal(d(100)) {
		t.Errorf("B shares = %s, want 100", b.Deposit.Shares)
	}
	pl = getPool(t, svc, p.ID)
	if !pl.TotalValue.Equal(d(300)) || !pl.AvailableBalance.Equal(d(300)) {
		t.Errorf("after B: %s/%s", pl.TotalValue, pl.AvailableBalance)
	}

	pointsBefore := getUser(t, ms, "A").ReputationPoints
	res, err := svc.Withdraw(context.Background(), pool.WithdrawRequest{PoolID: p.ID, UserID: "A", DepositID: a.Deposit.ID})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !res.PerformanceFee.IsZero() || !res.WithdrawalAmount.Equal(d(200)) || !res.PnL.IsZero() {
		t.Errorf("withdraw result = %+v", res)
	}
	if res.ReputationChange != 0 || getUser(t, ms, "A").ReputationPoints != pointsBefore {
		t.Error("flat withdrawal must not change reputation points")
	}

	pl = getPool(t, svc, p.ID)
	if !pl.TotalValue.Equal(d(100)) || !pl.AvailableBalance.Equal(d(100)) {
		t.Errorf("after withdraw: %s/%s, want 100/100", pl.TotalValue, pl.AvailableBalance)
	}
	if got := getUser(t, ms, "A").VirtualBalance; !got.Equal(d(1000)) {
		t.Errorf("A balance = %s, want 1000", got)
	}
}

func TestApplyPnL_MarksDepositsProRata(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedUser(t, ms, "a", 1000)
	seedUser(t, ms, "b", 1000)
	p := seedPool(t, svc, 0.2)
	deposit(t, svc, p.ID, "a", 300)
	deposit(t, svc, p.ID, "b", 100)

	if _, err := svc.ApplyPnL(context.Background(), p.ID, d(40), false); err != nil {
		t.Fatalf("apply pnl: %v", err)
	}

	deps, _ := svc.ListDeposits(context.Background(), p.ID)
	sum := decimal.Zero
	for _, dep := range deps {
		sum = sum.Add(dep.CurrentValue)
		want := dep.Amount.Mul(d(1.1))
		if !dep.CurrentValue.Equal(want) {
			t.Errorf("deposit of %s marked to %s, want %s", dep.Amount, dep.CurrentValue, want)
		}
	}
	pl := getPool(t, svc, p.ID)
	if !pl.TotalValue.Equal(sum) {
		t.Errorf("total value %s != sum of deposits %s", pl.TotalValue, sum)
	}
	if !pl.AvailableBalance.Equal(d(400)) {
		t.Errorf("unrealized mark moved cash: %s", pl.AvailableBalance)
	}
}

// conflictStore fails the first n transactions with store.ErrConflict.
type conflictStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	remaining int
	calls     int
}

func (c *conflictStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	c.mu.Lock()
	c.calls++
	fail := c.remaining > 0
	if fail {
		c.remaining--
	}
	c.mu.Unlock()
	if fail {
		return store.ErrConflict
	}
	return c.MemoryStore.InTx(ctx, fn)
}

func TestDeposit_RetriesConflicts(t *testing.T) {
	cs := &conflictStore{MemoryStore: store.NewMemoryStore(), remaining: 2}
	svc := pool.NewService(cs, nil)
	seedUser(t, cs.MemoryStore, "a", 1000)
	p := seedPool(t, svc, 0.2)

	if _, err := svc.Deposit(context.Background(), pool.DepositRequest{PoolID: p.ID, UserID: "a", Amount: d(10)}); err != nil {
		t.Fatalf("deposit after two conflicts: %v", err)
	}
	if cs.calls != 3 {
		t.Errorf("calls = %d, want 3", cs.calls)
	}
}

func TestDeposit_GivesUpAfterRepeatedConflicts(t *testing.T) {
	cs := &conflictStore{MemoryStore: store.NewMemoryStore(), remaining: 10}
	svc := pool.NewService(cs, nil)
	seedUser(t, cs.MemoryStore, "a", 1000)
	p := seedPool(t, svc, 0.2)

	_, err := svc.Deposit(context.Background(), pool.DepositRequest{PoolID: p.ID, UserID: "a", Amount: d(10)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("got %v, want a conflict error", err)
	}
	if cs.calls != 3 {
		t.Errorf("calls = %d, want 3", cs.calls)
	}
}

func TestDeposit_ConcurrentDepositsAllApply(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	p := seedPool(t, svc, 0.2)
	const n = 20
	for i := 0; i < n; i++ {
		seedUser(t, ms, string(rune('a'+i)), 100)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.Deposit(context.Background(), pool.DepositRequest{PoolID: p.ID, UserID: id, Amount: d(10)}); err != nil {
				t.Errorf("deposit %s: %v", id, err)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	pl := getPool(t, svc, p.ID)
	if !pl.TotalValue.Equal(d(10 * n)) {
		t.Errorf("total value = %s, want %d", pl.TotalValue, 10*n)
	}
}

// --- HTTP ---

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHTTP_DepositWithdraw(t *testing.T) {
	svc, ms, router := newTestEnv(t)
	seedUser(t, ms, "a", 500)
	p := seedPool(t, svc, 0.2)

	w := doJSON(t, router, http.MethodPost, "/api/v1/pools/"+p.ID+"/deposit", map[string]any{"user_id": "a", "amount": "200"})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: status %d body %s", w.Code, w.Body)
	}
	var dres pool.DepositResult
	json.NewDecoder(w.Body).Decode(&dres)
	if !dres.NewBalance.Equal(d(300)) || dres.Deposit.PoolID != p.ID {
		t.Errorf("deposit response = %+v", dres)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/pools/"+p.ID+"/withdraw", map[string]any{"user_id": "a", "deposit_id": dres.Deposit.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: status %d body %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/pools/"+p.ID+"/withdraw", map[string]any{"user_id": "a", "deposit_id": dres.Deposit.ID})
	if w.Code != http.StatusConflict {
		t.Fatalf("second withdraw: status %d, want 409", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["code"] != "ALREADY_WITHDRAWN" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	svc, ms, router := newTestEnv(t)
	seedUser(t, ms, "a", 10)
	p := seedPool(t, svc, 0.2)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing user", "/api/v1/pools/" + p.ID + "/deposit", map[string]any{"amount": "5"}, http.StatusBadRequest, "VALIDATION"},
		{"broke", "/api/v1/pools/" + p.ID + "/deposit", map[string]any{"user_id": "a", "amount": "50"}, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
		{"no pool", "/api/v1/pools/nope/deposit", map[string]any{"user_id": "a", "amount": "5"}, http.StatusNotFound, "NOT_FOUND"},
		{"missing deposit id", "/api/v1/pools/" + p.ID + "/withdraw", map[string]any{"user_id": "a"}, http.StatusBadRequest, "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["code"] != tt.code {
				t.Errorf("code = %q, want %q", body["code"], tt.code)
			}
		})
	}
}

func TestHTTP_CreateAndList(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/pools", map[string]any{"name": "Alpha"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body)
	}
	var p model.Pool
	json.NewDecoder(w.Body).Decode(&p)
	if !p.PerformanceFeeRate.Equal(pool.DefaultPerformanceFeeRate) || !p.IsActive {
		t.Errorf("created pool = %+v", p)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/pools", nil)
	var pools []model.Pool
	json.NewDecoder(w.Body).Decode(&pools)
	if len(pools) != 1 || pools[0].ID != p.ID {
		t.Errorf("list = %+v", pools)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/pools", map[string]any{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank name: status %d, want 400", w.Code)
	}
}
