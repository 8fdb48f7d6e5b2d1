package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotOwner           = errors.New("caller is not the token owner")
	ErrNotController      = errors.New("caller is not the token controller")
	ErrTransferNotAllowed = errors.New("transfers from this account are not allowed")
	ErrMaxSupplyExceeded  = errors.New("mint would exceed max supply")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient token balance")
	ErrZeroAddress        = errors.New("address must not be the zero address")
)

// Token is the entitlement credit granted to contributors. While the sale
// runs it is controlled: only the controller (the sale) may mint, and only
// transfers originating from the controller are allowed. Supply is capped.
type Token struct {
	mu sync.RWMutex

	owner      common.Address
	controller common.Address

	maxSupply   *big.Int
	totalSupply *big.Int
	balances    map[common.Address]*big.Int

	transfersEnabled bool
}

// New creates a capped token owned by owner and controlled by controller.
func New(owner, controller common.Address, maxSupply *big.Int) (*Token, error) {
	if maxSupply == nil || maxSupply.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return &Token{
		owner:       owner,
		controller:  controller,
		maxSupply:   new(big.Int).Set(maxSupply),
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
	}, nil
}

// Owner returns the current owner.
func (t *Token) Owner() common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owner
}

// Controller returns the current controller.
func (t *Token) Controller() common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.controller
}

// MaxSupply returns the supply cap.
func (t *Token) MaxSupply() *big.Int {
	return new(big.Int).Set(t.maxSupply)
}

// TotalSupply returns the minted supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf returns the balance of addr.
func (t *Token) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TransferOwnership hands the token to a new owner. Owner only.
func (t *Token) TransferOwnership(caller, newOwner common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	t.owner = newOwner
	return nil
}

// SetController rotates the controller. Only the current controller may do
// this; the sale uses it to release control when it ends.
func (t *Token) SetController(caller, newController common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.controller {
		return ErrNotController
	}
	t.controller = newController
	return nil
}

// TransferAllowed reports whether from may move tokens. While the token is
// controlled only the controller may originate transfers; once transfers
// are enabled anyone may.
func (t *Token) TransferAllowed(from, to common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transfersEnabled || from == t.controller
}

// EnableTransfers lifts the controlled-transfer restriction permanently.
// Controller only; the sale calls it when it ends.
func (t *Token) EnableTransfers(caller common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.controller {
		return ErrNotController
	}
	t.transfersEnabled = true
	return nil
}

// Mint creates amount tokens for to. Controller only; the minted total
// never exceeds MaxSupply.
func (t *Token) Mint(caller, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.controller {
		return ErrNotController
	}

	newSupply := new(big.Int).Add(t.totalSupply, amount)
	if newSupply.Cmp(t.maxSupply) > 0 {
		return ErrMaxSupplyExceeded
	}

	t.totalSupply = newSupply
	t.credit(to, amount)

	log.WithFields(log.Fields{
		"to":     to.Hex(),
		"amount": amount.String(),
	}).Debug("Minted tokens")
	return nil
}

// Transfer moves tokens between accounts, subject to TransferAllowed.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.transfersEnabled && from != t.controller {
		return ErrTransferNotAllowed
	}

	b, ok := t.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	b.Sub(b, amount)
	t.credit(to, amount)
	return nil
}

func (t *Token) credit(addr common.Address, amount *big.Int) {
	if b, ok := t.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[addr] = new(big.Int).Set(amount)
}
