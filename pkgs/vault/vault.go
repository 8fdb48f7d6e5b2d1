package vault

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/fosgate29/sale-box/pkgs/events"
	"github.com/fosgate29/sale-box/pkgs/funds"
	"github.com/fosgate29/sale-box/pkgs/metrics"
)

// State is the vault lifecycle state.
type State int

const (
	Active State = iota
	Success
	Refunding
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Success:
		return "success"
	case Refunding:
		return "refunding"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrNotOwner              = errors.New("caller is not the vault owner")
	ErrWrongState            = errors.New("operation not allowed in current vault state")
	ErrClosingAlreadyStarted = errors.New("closing period already started")
	ErrClosingNotStarted     = errors.New("closing period has not been started")
	ErrDeadlineNotReached    = errors.New("closing deadline has not passed")
	ErrDisbursementNotDue    = errors.New("disbursement interval has not elapsed")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrZeroAddress           = errors.New("address must not be the zero address")
)

// DefaultDisbursementInterval is the gap required between wallet payouts.
const DefaultDisbursementInterval = 28 * 24 * time.Hour

// Config carries the immutable vault parameters.
type Config struct {
	Owner   common.Address // the sale that drives the vault
	Account common.Address // the vault's own funds account
	Wallet  common.Address // beneficiary wallet paid after closing

	InitialAmount        *big.Int // first payout, carved out of refundable at Success
	DisbursementAmount   *big.Int // recurring payout after the first
	ClosingDuration      time.Duration
	DisbursementInterval time.Duration // defaults to DefaultDisbursementInterval

	Ledger  *funds.Ledger
	Emitter *events.Emitter
	Now     func() time.Time
}

// Vault escrows the contributed funds. It starts Active and moves through
// Success, Refunding or Closed exactly once each; no transition is ever
// reversed. Deposits are accepted only while Active.
type Vault struct {
	mu sync.Mutex

	owner   common.Address
	account common.Address
	wallet  common.Address

	state          State
	totalDeposited *big.Int
	refundable     *big.Int
	deposits       map[common.Address]*big.Int

	closingDuration time.Duration
	closingStarted  bool
	closingDeadline time.Time

	initialAmount        *big.Int
	disbursementAmount   *big.Int
	disbursementInterval time.Duration
	initialPaid          bool
	lastDisbursement     time.Time

	ledger  *funds.Ledger
	emitter *events.Emitter
	now     func() time.Time
}

// New creates an Active vault.
func New(cfg Config) (*Vault, error) {
	if cfg.Wallet == (common.Address{}) || cfg.Owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.InitialAmount == nil || cfg.InitialAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if cfg.DisbursementAmount == nil || cfg.DisbursementAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if cfg.Ledger == nil {
		return nil, errors.New("vault requires a funds ledger")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DisbursementInterval <= 0 {
		cfg.DisbursementInterval = DefaultDisbursementInterval
	}

	return &Vault{
		owner:                cfg.Owner,
		account:              cfg.Account,
		wallet:               cfg.Wallet,
		state:                Active,
		totalDeposited:       new(big.Int),
		refundable:           new(big.Int),
		deposits:             make(map[common.Address]*big.Int),
		closingDuration:      cfg.ClosingDuration,
		initialAmount:        new(big.Int).Set(cfg.InitialAmount),
		disbursementAmount:   new(big.Int).Set(cfg.DisbursementAmount),
		disbursementInterval: cfg.DisbursementInterval,
		ledger:               cfg.Ledger,
		emitter:              cfg.Emitter,
		now:                  cfg.Now,
	}, nil
}

// Deposit records a contribution for contributor, pulling the funds into
// the vault account. Owner only, Active only.
func (v *Vault) Deposit(caller, contributor common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrNotOwner
	}
	if v.state != Active {
		return ErrWrongState
	}

	if err := v.ledger.Transfer(contributor, v.account, amount); err != nil {
		return err
	}

	v.creditDeposit(contributor, amount)
	v.totalDeposited.Add(v.totalDeposited, amount)
	v.refundable.Add(v.refundable, amount)
	return nil
}

// SaleSuccessful marks the sale as having met its threshold. The initial
// wallet disbursement is carved out of the refundable pool immediately,
// even though nothing is transferred until after closing. Owner only.
func (v *Vault) SaleSuccessful(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrNotOwner
	}
	if v.state != Active {
		return ErrWrongState
	}

	v.refundable.Sub(v.refundable, v.initialAmount)
	if v.refundable.Sign() < 0 {
		v.refundable.SetInt64(0)
	}
	v.setState(Success)
	return nil
}

// EnableRefunds switches the vault to Refunding. Valid from Active (sale
// failed outright) or Success (later default). Owner only.
func (v *Vault) EnableRefunds(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrNotOwner
	}
	if v.state != Active && v.state != Success {
		return ErrWrongState
	}
	v.setState(Refunding)
	return nil
}

// BeginClosingPeriod starts the one-time closing countdown. Owner only,
// Success only, callable once.
func (v *Vault) BeginClosingPeriod(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrNotOwner
	}
	if v.state != Success {
		return ErrWrongState
	}
	if v.closingStarted {
		return ErrClosingAlreadyStarted
	}
	v.closingStarted = true
	v.closingDeadline = v.now().Add(v.closingDuration)

	log.WithField("deadline", v.closingDeadline).Info("Vault closing period started")
	return nil
}

// Close moves the vault to Closed once the closing deadline has passed.
// Permissionless.
func (v *Vault) Close(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Success {
		return ErrWrongState
	}
	if !v.closingStarted {
		return ErrClosingNotStarted
	}
	if v.now().Before(v.closingDeadline) {
		return ErrDeadlineNotReached
	}
	v.setState(Closed)
	return nil
}

// Refund pays contributor their pro-rata share of the refundable pool:
// deposits[contributor] * refundable / totalDeposited. Permissionless,
// Refunding only. A contributor with no deposit is a safe zero no-op.
// Accounting is cleared before the funds leave the vault.
func (v *Vault) Refund(contributor common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Refunding {
		return nil, ErrWrongState
	}

	deposited, ok := v.deposits[contributor]
	if !ok || deposited.Sign() == 0 {
		return new(big.Int), nil
	}
	if v.totalDeposited.Sign() == 0 {
		return new(big.Int), nil
	}

	amount := new(big.Int).Mul(deposited, v.refundable)
	amount.Div(amount, v.totalDeposited)

	v.deposits[contributor] = new(big.Int)

	if err := v.ledger.Transfer(v.account, contributor, amount); err != nil {
		// Restore the deposit so the refund can be retried.
		v.deposits[contributor] = deposited
		return nil, err
	}

	metrics.RefundsPaid.Inc()
	metrics.AddWei(metrics.RefundedWei, amount)
	v.emitter.Emit(events.EventRefundPaid, events.SeverityInfo, map[string]interface{}{
		"contributor": contributor.Hex(),
		"amount":      amount.String(),
	})

	log.WithFields(log.Fields{
		"contributor": contributor.Hex(),
		"amount":      amount.String(),
	}).Info("Refund paid")
	return amount, nil
}

// SendFundsToWallet pays the beneficiary wallet. The first call after
// closing pays the initial amount; every later call pays the recurring
// disbursement amount, gated by the disbursement interval. If the vault
// balance is short the payout is capped at what is available; the schedule
// still advances. Permissionless, Closed only.
func (v *Vault) SendFundsToWallet() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Closed {
		return nil, ErrWrongState
	}

	now := v.now()
	var scheduled *big.Int
	if !v.initialPaid {
		scheduled = v.initialAmount
	} else {
		if now.Before(v.lastDisbursement.Add(v.disbursementInterval)) {
			return nil, ErrDisbursementNotDue
		}
		scheduled = v.disbursementAmount
	}

	pay := new(big.Int).Set(scheduled)
	if balance := v.ledger.Balance(v.account); balance.Cmp(pay) < 0 {
		log.WithFields(log.Fields{
			"scheduled": scheduled.String(),
			"available": balance.String(),
		}).Warn("Vault balance short of scheduled disbursement, paying available")
		pay.Set(balance)
	}

	v.initialPaid = true
	v.lastDisbursement = now

	if err := v.ledger.Transfer(v.account, v.wallet, pay); err != nil {
		return nil, err
	}

	metrics.DisbursementsPaid.Inc()
	v.emitter.Emit(events.EventFundsSentToWallet, events.SeverityInfo, map[string]interface{}{
		"wallet": v.wallet.Hex(),
		"amount": pay.String(),
	})
	return pay, nil
}

// TransferOwnership hands the vault to a new owner. Owner only.
func (v *Vault) TransferOwnership(caller, newOwner common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	v.owner = newOwner
	return nil
}

// State returns the current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Owner returns the current owner.
func (v *Vault) Owner() common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owner
}

// Wallet returns the beneficiary wallet.
func (v *Vault) Wallet() common.Address {
	return v.wallet
}

// Account returns the vault's funds account.
func (v *Vault) Account() common.Address {
	return v.account
}

// ClosingDuration returns the configured closing countdown length.
func (v *Vault) ClosingDuration() time.Duration {
	return v.closingDuration
}

// ClosingDeadline returns the deadline set by BeginClosingPeriod, or the
// zero time if the closing period has not started.
func (v *Vault) ClosingDeadline() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closingDeadline
}

// TotalDeposited returns the cumulative deposited amount.
func (v *Vault) TotalDeposited() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalDeposited)
}

// Refundable returns the refundable pool.
func (v *Vault) Refundable() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.refundable)
}

// Deposited returns the amount deposited for contributor.
func (v *Vault) Deposited(contributor common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d, ok := v.deposits[contributor]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

func (v *Vault) creditDeposit(contributor common.Address, amount *big.Int) {
	if d, ok := v.deposits[contributor]; ok {
		d.Add(d, amount)
		return
	}
	v.deposits[contributor] = new(big.Int).Set(amount)
}

// setState applies a transition. Callers hold the lock.
func (v *Vault) setState(next State) {
	prev := v.state
	v.state = next
	metrics.VaultState.Set(float64(next))
	v.emitter.Emit(events.EventVaultStateChanged, events.SeverityInfo, map[string]interface{}{
		"from": prev.String(),
		"to":   next.String(),
	})
	log.WithFields(log.Fields{"from": prev.String(), "to": next.String()}).Info("Vault state changed")
}
