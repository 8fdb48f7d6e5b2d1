package disbursement

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/fosgate29/sale-box/pkgs/events"
	"github.com/fosgate29/sale-box/pkgs/metrics"
)

var (
	ErrNotOwner       = errors.New("caller is not the registry owner")
	ErrPastUnlockTime = errors.New("unlock time must be in the future")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrZeroAddress    = errors.New("address must not be the zero address")
	ErrMissingAsset   = errors.New("registry requires a held asset")
)

// Asset is the held asset the registry releases. Both the native funds
// ledger and the entitlement token satisfy it.
type Asset interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// Disbursement is a single scheduled tranche.
type Disbursement struct {
	UnlockTime time.Time
	Amount     *big.Int
}

// Registry holds a per-beneficiary schedule of time-locked tranches of a
// held asset. Tranches are appended in any order and never removed; a
// withdrawal sweeps every matured tranche not yet accounted for in the
// beneficiary's withdrawn total.
type Registry struct {
	mu sync.Mutex

	owner   common.Address
	account common.Address // account the asset is held under
	asset   Asset

	disbursements map[common.Address][]Disbursement
	withdrawn     map[common.Address]*big.Int

	emitter *events.Emitter
	now     func() time.Time
}

// Config carries the registry parameters.
type Config struct {
	Owner   common.Address
	Account common.Address
	Asset   Asset
	Emitter *events.Emitter
	Now     func() time.Time
}

// New creates an empty registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.Asset == nil {
		return nil, ErrMissingAsset
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		owner:         cfg.Owner,
		account:       cfg.Account,
		asset:         cfg.Asset,
		disbursements: make(map[common.Address][]Disbursement),
		withdrawn:     make(map[common.Address]*big.Int),
		emitter:       cfg.Emitter,
		now:           cfg.Now,
	}, nil
}

// SetupDisbursement appends a tranche for beneficiary maturing at
// unlockTime. Owner only; the unlock time must be strictly in the future.
// Repeated calls for the same beneficiary accumulate.
func (r *Registry) SetupDisbursement(caller, beneficiary common.Address, amount *big.Int, unlockTime time.Time) error {
	if beneficiary == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrNotOwner
	}
	if !unlockTime.After(r.now()) {
		return ErrPastUnlockTime
	}

	r.disbursements[beneficiary] = append(r.disbursements[beneficiary], Disbursement{
		UnlockTime: unlockTime,
		Amount:     new(big.Int).Set(amount),
	})

	r.emitter.Emit(events.EventDisbursementScheduled, events.SeverityInfo, map[string]interface{}{
		"beneficiary": beneficiary.Hex(),
		"amount":      amount.String(),
		"unlockTime":  unlockTime.Unix(),
	})
	log.WithFields(log.Fields{
		"beneficiary": beneficiary.Hex(),
		"amount":      amount.String(),
		"unlockTime":  unlockTime,
	}).Info("Disbursement scheduled")
	return nil
}

// Withdraw pays caller the sum of all matured tranches not yet withdrawn.
// Tranches that have not matured are skipped, not rejected, and remain
// claimable later. Calling with nothing newly matured is a zero no-op.
// The withdrawn total is updated before the asset leaves the registry.
func (r *Registry) Withdraw(caller common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	matured := new(big.Int)
	for _, d := range r.disbursements[caller] {
		if !d.UnlockTime.After(now) {
			matured.Add(matured, d.Amount)
		}
	}

	already := r.withdrawnOf(caller)
	due := new(big.Int).Sub(matured, already)
	if due.Sign() <= 0 {
		return new(big.Int), nil
	}

	r.withdrawn[caller] = matured

	if err := r.asset.Transfer(r.account, caller, due); err != nil {
		r.withdrawn[caller] = already
		return nil, err
	}

	metrics.DisbursementsPaid.Inc()
	r.emitter.Emit(events.EventDisbursementWithdrawn, events.SeverityInfo, map[string]interface{}{
		"beneficiary": caller.Hex(),
		"amount":      due.String(),
	})
	return due, nil
}

// Disbursements returns a copy of the tranche list for beneficiary.
func (r *Registry) Disbursements(beneficiary common.Address) []Disbursement {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.disbursements[beneficiary]
	out := make([]Disbursement, len(list))
	for i, d := range list {
		out[i] = Disbursement{UnlockTime: d.UnlockTime, Amount: new(big.Int).Set(d.Amount)}
	}
	return out
}

// WithdrawnAmount returns how much beneficiary has already withdrawn.
func (r *Registry) WithdrawnAmount(beneficiary common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.withdrawnOf(beneficiary))
}

// Owner returns the current owner.
func (r *Registry) Owner() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// Account returns the account the held asset sits under.
func (r *Registry) Account() common.Address {
	return r.account
}

// TransferOwnership hands the registry to a new owner. Owner only.
func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	r.owner = newOwner
	return nil
}

func (r *Registry) withdrawnOf(beneficiary common.Address) *big.Int {
	if w, ok := r.withdrawn[beneficiary]; ok {
		return w
	}
	return new(big.Int)
}
