package funds

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Ledger tracks native value balances per address. It stands in for the
// value transfer primitive of the execution environment that invokes the
// sale: contributions are pulled from the contributor's account and payouts
// are pushed back through it.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*big.Int),
	}
}

// Balance returns a copy of the current balance for addr. Unknown
// addresses report zero.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Issue credits addr with amount out of nowhere. The execution environment
// uses it to fund accounts before they interact with the sale.
func (l *Ledger) Issue(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(addr, amount)
	return nil
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op so that zero-value payouts stay composable. The transfer is
// all-or-nothing.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	if b, ok := l.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[addr] = new(big.Int).Set(amount)
}
