package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fosgate29/sale-box/pkgs/funds"
)

var (
	owner      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	vaultAcct  = common.HexToAddress("0x1000000000000000000000000000000000000002")
	walletAddr = common.HexToAddress("0x1000000000000000000000000000000000000003")
	alice      = common.HexToAddress("0x2000000000000000000000000000000000000001")
	bob        = common.HexToAddress("0x2000000000000000000000000000000000000002")
	stranger   = common.HexToAddress("0x2000000000000000000000000000000000000003")
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestVault(t *testing.T) (*Vault, *funds.Ledger, *fakeClock) {
	t.Helper()
	ledger := funds.NewLedger()
	clock := newFakeClock()
	v, err := New(Config{
		Owner:                owner,
		Account:              vaultAcct,
		Wallet:               walletAddr,
		InitialAmount:        big.NewInt(1000),
		DisbursementAmount:   big.NewInt(500),
		ClosingDuration:      24 * time.Hour,
		DisbursementInterval: 7 * 24 * time.Hour,
		Ledger:               ledger,
		Now:                  clock.now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v, ledger, clock
}

func fund(t *testing.T, ledger *funds.Ledger, addr common.Address, amount int64) {
	t.Helper()
	if err := ledger.Issue(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("Issue: %v", err)
	}
}

func deposit(t *testing.T, v *Vault, contributor common.Address, amount int64) {
	t.Helper()
	if err := v.Deposit(owner, contributor, big.NewInt(amount)); err != nil {
		t.Fatalf("Deposit(%s, %d): %v", contributor.Hex(), amount, err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	ledger := funds.NewLedger()
	base := Config{
		Owner:              owner,
		Account:            vaultAcct,
		Wallet:             walletAddr,
		InitialAmount:      big.NewInt(1000),
		DisbursementAmount: big.NewInt(500),
		Ledger:             ledger,
	}

	if _, err := New(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base
	cfg.Wallet = common.Address{}
	if _, err := New(cfg); err != ErrZeroAddress {
		t.Fatalf("zero wallet: expected ErrZeroAddress, got %v", err)
	}

	cfg = base
	cfg.InitialAmount = big.NewInt(-1)
	if _, err := New(cfg); err != ErrInvalidAmount {
		t.Fatalf("negative initial amount: expected ErrInvalidAmount, got %v", err)
	}

	cfg = base
	cfg.DisbursementAmount = big.NewInt(0)
	if _, err := New(cfg); err != ErrInvalidAmount {
		t.Fatalf("zero disbursement amount: expected ErrInvalidAmount, got %v", err)
	}

	cfg = base
	cfg.Ledger = nil
	if _, err := New(cfg); err == nil {
		t.Fatal("nil ledger accepted")
	}
}

func TestDepositGating(t *testing.T) {
	v, ledger, _ := newTestVault(t)
	fund(t, ledger, alice, 5000)

	if err := v.Deposit(stranger, alice, big.NewInt(100)); err != ErrNotOwner {
		t.Fatalf("non-owner deposit: expected ErrNotOwner, got %v", err)
	}
	if err := v.Deposit(owner, alice, big.NewInt(0)); err != ErrInvalidAmount {
		t.Fatalf("zero deposit: expected ErrInvalidAmount, got %v", err)
	}
	if err := v.Deposit(owner, alice, big.NewInt(6000)); err != funds.ErrInsufficientBalance {
		t.Fatalf("overdraw deposit: expected ErrInsufficientBalance, got %v", err)
	}

	deposit(t, v, alice, 3000)

	if got := v.Deposited(alice).Int64(); got != 3000 {
		t.Fatalf("Deposited(alice) = %d, want 3000", got)
	}
	if got := v.TotalDeposited().Int64(); got != 3000 {
		t.Fatalf("TotalDeposited = %d, want 3000", got)
	}
	if got := ledger.Balance(vaultAcct).Int64(); got != 3000 {
		t.Fatalf("vault balance = %d, want 3000", got)
	}

	// Deposits accumulate per contributor.
	deposit(t, v, alice, 500)
	if got := v.Deposited(alice).Int64(); got != 3500 {
		t.Fatalf("Deposited(alice) = %d, want 3500", got)
	}
}

func TestDepositRejectedOutsideActive(t *testing.T) {
	v, ledger, _ := newTestVault(t)
	fund(t, ledger, alice, 5000)
	deposit(t, v, alice, 2000)

	if err := v.SaleSuccessful(owner); err != nil {
		t.Fatalf("SaleSuccessful: %v", err)
	}
	if err := v.Deposit(owner, alice, big.NewInt(100)); err != ErrWrongState {
		t.Fatalf("deposit after Success: expected ErrWrongState, got %v", err)
	}
}

func TestRefundsDisabledWhileActiveAndAfterClose(t *testing.T) {
	v, ledger, clock := newTestVault(t)
	fund(t, ledger, alice, 5000)
	deposit(t, v, alice, 2000)

	if _, err := v.Refund(alice); err != ErrWrongState {
		t.Fatalf("refund while Active: expected ErrWrongState, got %v", err)
	}

	if err := v.SaleSuccessful(owner); err != nil {
		t.Fatalf("SaleSuccessful: %v", err)
	}
	if err := v.BeginClosingPeriod(owner); err != nil {
		t.Fatalf("BeginClosingPeriod: %v", err)
	}
	clock.advance(25 * time.Hour)
	if err := v.Close(stranger); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := v.Refund(alice); err != ErrWrongState {
		t.Fatalf("refund after Close: expected ErrWrongState, got %v", err)
	}
	if err := v.EnableRefunds(owner); err != ErrWrongState {
		t.Fatalf("EnableRefunds after Close: expected ErrWrongState, got %v", err)
	}
}

func TestFullRefundAfterFailedSale(t *testing.T) {
	v, ledger, _ := newTestVault(t)
	fund(t, ledger, alice, 5000)
	fund(t, ledger, bob, 5000)
	deposit(t, v, alice, 3000)
	deposit(t, v, bob, 1000)

	if err := v.EnableRefunds(stranger); err != ErrNotOwner {
		t.Fatalf("non-owner EnableRefunds: expected ErrNotOwner, got %v", err)
	}
	if err := v.EnableRefunds(owner); err != nil {
		t.Fatalf("EnableRefunds: %v", err)
	}
	if got := v.State(); got != Refunding {
		t.Fatalf("state = %s, want refunding", got)
	}

	// Sale never succeeded, so the whole pool is refundable 1:1.
	got, err := v.Refund(alice)
	if err != nil {
		t.Fatalf("Refund(alice): %v", err)
	}
	if got.Int64() != 3000 {
		t.Fatalf("alice refund = %d, want 3000", got.Int64())
	}
	if bal := ledger.Balance(alice).Int64(); bal != 5000 {
		t.Fatalf("alice balance = %d, want 5000", bal)
	}

	got, err = v.Refund(bob)
	if err != nil {
		t.Fatalf("Refund(bob): %v", err)
	}
	if got.Int64() != 1000 {
		t.Fatalf("bob refund = %d, want 1000", got.Int64())
	}

	// A second refund is a zero no-op, as is a stranger's.
	got, err = v.Refund(alice)
	if err != nil || got.Sign() != 0 {
		t.Fatalf("repeat refund = (%v, %v), want (0, nil)", got, err)
	}
	got, err = v.Refund(stranger)
	if err != nil || got.Sign() != 0 {
		t.Fatalf("stranger refund = (%v, %v), want (0, nil)", got, err)
	}
}

func TestProRataRefundAfterSuccess(t *testing.T) {
	v, ledger, _ := newTestVault(t)
	fund(t, ledger, alice, 10000)
	fund(t, ledger, bob, 10000)
	deposit(t, v, alice, 6000)
	deposit(t, v, bob, 4000)

	if err := v.SaleSuccessful(owner); err != nil {
		t.Fatalf("SaleSuccessful: %v", err)
	}
	// The initial amount (1000) is carved out of the refundable pool.
	if got := v.Refundable().Int64(); got != 9000 {
		t.Fatalf("Refundable = %d, want 9000", got)
	}

	if err := v.EnableRefunds(owner); err != nil {
		t.Fatalf("EnableRefunds from Success: %v", err)
	}

	// alice: 6000 * 9000 / 10000 = 5400; bob: 4000 * 9000 / 10000 = 3600.
	got, err := v.Refund(alice)
	if err != nil {
		t.Fatalf("Refund(alice): %v", err)
	}
	if got.Int64() != 5400 {
		t.Fatalf("alice refund = %d, want 5400", got.Int64())
	}
	got, err = v.Refund(bob)
	if err != nil {
		t.Fatalf("Refund(bob): %v", err)
	}
	if got.Int64() != 3600 {
		t.Fatalf("bob refund = %d, want 3600", got.Int64())
	}

	// What remains in the vault is exactly the carved-out initial amount.
	if bal := ledger.Balance(vaultAcct).Int64(); bal != 1000 {
		t.Fatalf("vault balance = %d, want 1000", bal)
	}
}

func TestClosingPeriodLifecycle(t *testing.T) {
	v, ledger, clock := newTestVault(t)
	fund(t, ledger, alice, 5000)
	deposit(t, v, alice, 2000)

	if err := v.BeginClosingPeriod(owner); err != ErrWrongState {
		t.Fatalf("closing while Active: expected ErrWrongState, got %v", err)
	}
	if err := v.SaleSuccessful(owner); err != nil {
		t.Fatalf("SaleSuccessful: %v", err)
	}
	if err := v.Close(stranger); err != ErrClosingNotStarted {
		t.Fatalf("close before countdown: expected ErrClosingNotStarted, got %v", err)
	}
	if err := v.BeginClosingPeriod(stranger); err != ErrNotOwner {
		t.Fatalf("non-owner BeginClosingPeriod: expected ErrNotOwner, got %v", err)
	}
	if err := v.BeginClosingPeriod(owner); err != nil {
		t.Fatalf("BeginClosingPeriod: %v", err)
	}
	if err := v.BeginClosingPeriod(owner); err != ErrClosingAlreadyStarted {
		t.Fatalf("repeat BeginClosingPeriod: expected ErrClosingAlreadyStarted, got %v", err)
	}
	wantDeadline := clock.now().Add(24 * time.Hour)
	if got := v.ClosingDeadline(); !got.Equal(wantDeadline) {
		t.Fatalf("ClosingDeadline = %v, want %v", got, wantDeadline)
	}

	if err := v.Close(stranger); err != ErrDeadlineNotReached {
		t.Fatalf("early close: expected ErrDeadlineNotReached, got %v", err)
	}
	clock.advance(24 * time.Hour)
	// Anyone may close once the deadline has passed.
	if err := v.Close(stranger); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := v.State(); got != Closed {
		t.Fatalf("state = %s, want closed", got)
	}
	if err := v.Close(stranger); err != ErrWrongState {
		t.Fatalf("repeat close: expected ErrWrongState, got %v", err)
	}
}

func TestSendFundsToWalletSchedule(t *testing.T) {
	v, ledger, clock := newTestVault(t)
	fund(t, ledger, alice, 5000)
	deposit(t, v, alice, 3000)

	if _, err := v.SendFundsToWallet(); err != ErrWrongState {
		t.Fatalf("payout while Active: expected ErrWrongState, got %v", err)
	}

	if err := v.SaleSuccessful(owner); err != nil {
		t.Fatalf("SaleSuccessful: %v", err)
	}
	if _, err := v.SendFundsToWallet(); err != ErrWrongState {
		t.Fatalf("payout while Success: expected ErrWrongState, got %v", err)
	}
	if err := v.BeginClosingPeriod(owner); err != nil {
		t.Fatalf("BeginClosingPeriod: %v", err)
	}
	clock.advance(24 * time.Hour)
	if err := v.Close(stranger); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// First payout is the initial amount.
	got, err := v.SendFundsToWallet()
	if err != nil {
		t.Fatalf("first SendFundsToWallet: %v", err)
	}
	if got.Int64() != 1000 {
		t.Fatalf("first payout = %d, want 1000", got.Int64())
	}
	if bal := ledger.Balance(walletAddr).Int64(); bal != 1000 {
		t.Fatalf("wallet balance = %d, want 1000", bal)
	}

	// Recurring payouts are interval gated.
	if _, err := v.SendFundsToWallet(); err != ErrDisbursementNotDue {
		t.Fatalf("early recurring payout: expected ErrDisbursementNotDue, got %v", err)
	}
	clock.advance(7 * 24 * time.Hour)
	got, err = v.SendFundsToWallet()
	if err != nil {
		t.Fatalf("second SendFundsToWallet: %v", err)
	}
	if got.Int64() != 500 {
		t.Fatalf("second payout = %d, want 500", got.Int64())
	}

	// Drain the remaining 1500 over three more interval-gated payouts.
	clock.advance(7 * 24 * time.Hour)
	if _, err := v.SendFundsToWallet(); err != nil {
		t.Fatalf("third SendFundsToWallet: %v", err)
	}
	clock.advance(7 * 24 * time.Hour)
	if _, err := v.SendFundsToWallet(); err != nil {
		t.Fatalf("fourth SendFundsToWallet: %v", err)
	}
	clock.advance(7 * 24 * time.Hour)
	got, err = v.SendFundsToWallet()
	if err != nil {
		t.Fatalf("fifth SendFundsToWallet: %v", err)
	}
	if got.Int64() != 500 {
		t.Fatalf("fifth payout = %d, want 500", got.Int64())
	}
	if bal := ledger.Balance(vaultAcct).Int64(); bal != 0 {
		t.Fatalf("vault balance = %d, want 0", bal)
	}

	// Empty vault: the schedule keeps advancing but pays zero.
	clock.advance(7 * 24 * time.Hour)
	got, err = v.SendFundsToWallet()
	if err != nil {
		t.Fatalf("payout from empty vault: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("empty-vault payout = %d, want 0", got.Int64())
	}
}

func TestInitialCarveOutClampsToZero(t *testing.T) {
	v, ledger, _ := newTestVault(t)
	fund(t, ledger, alice, 5000)
	deposit(t, v, alice, 400) // less than the 1000 initial amount

	if err := v.SaleSuccessful(owner); err != nil {
		t.Fatalf("SaleSuccessful: %v", err)
	}
	if got := v.Refundable().Sign(); got != 0 {
		t.Fatalf("Refundable sign = %d, want 0", got)
	}
}

func TestTransferOwnership(t *testing.T) {
	v, _, _ := newTestVault(t)

	if err := v.TransferOwnership(stranger, alice); err != ErrNotOwner {
		t.Fatalf("non-owner transfer: expected ErrNotOwner, got %v", err)
	}
	if err := v.TransferOwnership(owner, common.Address{}); err != ErrZeroAddress {
		t.Fatalf("zero-address transfer: expected ErrZeroAddress, got %v", err)
	}
	if err := v.TransferOwnership(owner, alice); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if got := v.Owner(); got != alice {
		t.Fatalf("Owner = %s, want %s", got.Hex(), alice.Hex())
	}
	// The new owner drives state transitions now.
	if err := v.SaleSuccessful(owner); err != ErrNotOwner {
		t.Fatalf("old owner SaleSuccessful: expected ErrNotOwner, got %v", err)
	}
	if err := v.SaleSuccessful(alice); err != nil {
		t.Fatalf("new owner SaleSuccessful: %v", err)
	}
}
