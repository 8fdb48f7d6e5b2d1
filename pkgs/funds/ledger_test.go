package funds

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	acctA = common.HexToAddress("0x5000000000000000000000000000000000000001")
	acctB = common.HexToAddress("0x5000000000000000000000000000000000000002")
)

func TestBalanceOfUnknownAccountIsZero(t *testing.T) {
	l := NewLedger()
	if got := l.Balance(acctA); got.Sign() != 0 {
		t.Fatalf("Balance = %s, want 0", got)
	}
}

func TestIssue(t *testing.T) {
	l := NewLedger()
	if err := l.Issue(acctA, big.NewInt(0)); err != ErrInvalidAmount {
		t.Fatalf("zero issue: expected ErrInvalidAmount, got %v", err)
	}
	if err := l.Issue(acctA, nil); err != ErrInvalidAmount {
		t.Fatalf("nil issue: expected ErrInvalidAmount, got %v", err)
	}
	if err := l.Issue(acctA, big.NewInt(100)); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := l.Issue(acctA, big.NewInt(50)); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := l.Balance(acctA).Int64(); got != 150 {
		t.Fatalf("Balance = %d, want 150", got)
	}
}

func TestTransfer(t *testing.T) {
	l := NewLedger()
	if err := l.Issue(acctA, big.NewInt(100)); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := l.Transfer(acctA, acctB, big.NewInt(-1)); err != ErrInvalidAmount {
		t.Fatalf("negative transfer: expected ErrInvalidAmount, got %v", err)
	}
	// Zero transfers are a no-op so zero payouts compose.
	if err := l.Transfer(acctA, acctB, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if err := l.Transfer(acctB, acctA, big.NewInt(1)); err != ErrInsufficientBalance {
		t.Fatalf("empty-account transfer: expected ErrInsufficientBalance, got %v", err)
	}
	if err := l.Transfer(acctA, acctB, big.NewInt(101)); err != ErrInsufficientBalance {
		t.Fatalf("overdraw: expected ErrInsufficientBalance, got %v", err)
	}
	// A failed transfer leaves balances untouched.
	if got := l.Balance(acctA).Int64(); got != 100 {
		t.Fatalf("Balance(acctA) = %d, want 100", got)
	}

	if err := l.Transfer(acctA, acctB, big.NewInt(60)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := l.Balance(acctA).Int64(); got != 40 {
		t.Fatalf("Balance(acctA) = %d, want 40", got)
	}
	if got := l.Balance(acctB).Int64(); got != 60 {
		t.Fatalf("Balance(acctB) = %d, want 60", got)
	}
}

func TestBalanceReturnsCopy(t *testing.T) {
	l := NewLedger()
	if err := l.Issue(acctA, big.NewInt(100)); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b := l.Balance(acctA)
	b.SetInt64(0)
	if got := l.Balance(acctA).Int64(); got != 100 {
		t.Fatalf("Balance = %d after mutating the returned copy, want 100", got)
	}
}
