package sale

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"

	"github.com/fosgate29/sale-box/pkgs/disbursement"
	"github.com/fosgate29/sale-box/pkgs/events"
	"github.com/fosgate29/sale-box/pkgs/funds"
	"github.com/fosgate29/sale-box/pkgs/metrics"
	"github.com/fosgate29/sale-box/pkgs/token"
	"github.com/fosgate29/sale-box/pkgs/vault"
	"github.com/fosgate29/sale-box/pkgs/whitelist"
)

// Stage is the sale lifecycle stage. Transitions only move forward.
type Stage int

const (
	Freeze Stage = iota
	InProgress
	Ended
)

// String returns the stage identifier used in read state and events.
func (s Stage) String() string {
	switch s {
	case Freeze:
		return "freeze"
	case InProgress:
		return "saleInProgress"
	case Ended:
		return "saleEnded"
	}
	return "unknown"
}

var (
	ErrNotOwner              = errors.New("caller is not the sale owner")
	ErrWrongStage            = errors.New("operation not allowed in current sale stage")
	ErrBelowMinContribution  = errors.New("contribution below minimum")
	ErrNotWhitelisted        = errors.New("attestation rejected")
	ErrCapExceedsTotal       = errors.New("sale cap snapshot exceeds total sale cap")
	ErrCapReached            = errors.New("nothing can be admitted under the current caps")
	ErrEndTimeAlreadySet     = errors.New("end time has already been set")
	ErrEndTimeInPast         = errors.New("end time must be in the future")
	ErrNothingContributed    = errors.New("participant has no contribution")
	ErrAlreadyAllocated      = errors.New("tokens already allocated for participant")
	ErrAllocationUnavailable = errors.New("token allocation is not available")
	ErrInvalidConfig         = errors.New("invalid sale configuration")
)

// DisbursementPlan reserves a time-locked token grant (team, advisors)
// funded out of the max supply before the sale opens.
type DisbursementPlan struct {
	Beneficiary common.Address
	Amount      *big.Int
	Delay       time.Duration // measured from sale creation
}

// Config carries the campaign parameters, supplied once at construction.
type Config struct {
	Owner common.Address

	TotalSaleCap    *big.Int
	MinContribution *big.Int
	MinThreshold    *big.Int
	MaxTokens       *big.Int

	Wallet                  common.Address
	ClosingDuration         time.Duration
	VaultInitialAmount      *big.Int
	VaultDisbursementAmount *big.Int
	DisbursementInterval    time.Duration

	StartTime time.Time

	Disbursements []DisbursementPlan

	Whitelist *whitelist.Whitelist
	Ledger    *funds.Ledger
	Emitter   *events.Emitter
	Now       func() time.Time
}

// Sale is the staged contribution ledger. It admits whitelisted
// contributions against the live caps, escrows them in its vault, and on
// ending either settles the vault for success or enables refunds, after
// which contributors can claim their proportional token allocation.
//
// The sale exclusively owns its vault, token and disbursement registry;
// the whitelist is referenced, not owned, and its admin rotates
// independently of the sale stage.
type Sale struct {
	mu sync.Mutex

	owner   common.Address
	account common.Address // the sale's own identity towards owned components

	totalSaleCap    *big.Int
	minContribution *big.Int
	minThreshold    *big.Int
	maxTokens       *big.Int
	tokensForSale   *big.Int

	stage          Stage
	stageStart     map[Stage]time.Time
	startTime      time.Time
	endTime        time.Time
	endTimeSet     bool
	weiContributed *big.Int

	tokensPerWei *big.Int // nil until the sale ends with contributions
	allocated    map[common.Address]bool

	trustedVault        *vault.Vault
	trustedToken        *token.Token
	disbursementHandler *disbursement.Registry
	wl                  *whitelist.Whitelist

	ledger  *funds.Ledger
	emitter *events.Emitter
	now     func() time.Time
}

// New creates a sale in the Freeze stage and wires up its vault, token and
// disbursement registry. The component accounts are derived from the owner
// so a campaign's addresses are fixed for its lifetime.
func New(cfg Config) (*Sale, error) {
	if cfg.Owner == (common.Address{}) || cfg.Wallet == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner and wallet are required", ErrInvalidConfig)
	}
	if cfg.TotalSaleCap == nil || cfg.TotalSaleCap.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total sale cap must be positive", ErrInvalidConfig)
	}
	if cfg.MinContribution == nil || cfg.MinContribution.Sign() < 0 {
		return nil, fmt.Errorf("%w: min contribution must not be negative", ErrInvalidConfig)
	}
	if cfg.MinThreshold == nil || cfg.MinThreshold.Sign() < 0 {
		return nil, fmt.Errorf("%w: min threshold must not be negative", ErrInvalidConfig)
	}
	if cfg.MaxTokens == nil || cfg.MaxTokens.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive", ErrInvalidConfig)
	}
	if cfg.Whitelist == nil {
		return nil, fmt.Errorf("%w: whitelist is required", ErrInvalidConfig)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: funds ledger is required", ErrInvalidConfig)
	}
	if cfg.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	account := deriveAccount(cfg.Owner, "sale")

	trustedToken, err := token.New(account, account, cfg.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create sale token: %w", err)
	}

	trustedVault, err := vault.New(vault.Config{
		Owner:                account,
		Account:              deriveAccount(cfg.Owner, "vault"),
		Wallet:               cfg.Wallet,
		InitialAmount:        cfg.VaultInitialAmount,
		DisbursementAmount:   cfg.VaultDisbursementAmount,
		ClosingDuration:      cfg.ClosingDuration,
		DisbursementInterval: cfg.DisbursementInterval,
		Ledger:               cfg.Ledger,
		Emitter:              cfg.Emitter,
		Now:                  cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sale vault: %w", err)
	}

	handler, err := disbursement.New(disbursement.Config{
		Owner:   account,
		Account: deriveAccount(cfg.Owner, "disbursements"),
		Asset:   trustedToken,
		Emitter: cfg.Emitter,
		Now:     cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create disbursement handler: %w", err)
	}

	s := &Sale{
		owner:               cfg.Owner,
		account:             account,
		totalSaleCap:        new(big.Int).Set(cfg.TotalSaleCap),
		minContribution:     new(big.Int).Set(cfg.MinContribution),
		minThreshold:        new(big.Int).Set(cfg.MinThreshold),
		maxTokens:           new(big.Int).Set(cfg.MaxTokens),
		tokensForSale:       new(big.Int).Set(cfg.MaxTokens),
		stage:               Freeze,
		stageStart:          map[Stage]time.Time{Freeze: cfg.Now()},
		startTime:           cfg.StartTime,
		weiContributed:      new(big.Int),
		allocated:           make(map[common.Address]bool),
		trustedVault:        trustedVault,
		trustedToken:        trustedToken,
		disbursementHandler: handler,
		wl:                  cfg.Whitelist,
		ledger:              cfg.Ledger,
		emitter:             cfg.Emitter,
		now:                 cfg.Now,
	}
	s.stageStart[InProgress] = cfg.StartTime

	if err := s.setupDisbursements(cfg.Disbursements); err != nil {
		return nil, err
	}

	metrics.SaleStage.Set(float64(Freeze))
	log.WithFields(log.Fields{
		"owner":     cfg.Owner.Hex(),
		"totalCap":  cfg.TotalSaleCap.String(),
		"startTime": cfg.StartTime,
		"maxTokens": cfg.MaxTokens.String(),
	}).Info("Sale created")
	return s, nil
}

// setupDisbursements mints the reserved grants into the registry account
// and schedules their tranches. The reserved total is subtracted from the
// tokens available to contributors.
func (s *Sale) setupDisbursements(plans []DisbursementPlan) error {
	base := s.now()
	for _, p := range plans {
		if err := s.trustedToken.Mint(s.account, s.disbursementHandler.Account(), p.Amount); err != nil {
			return fmt.Errorf("failed to reserve disbursement grant: %w", err)
		}
		if err := s.disbursementHandler.SetupDisbursement(s.account, p.Beneficiary, p.Amount, base.Add(p.Delay)); err != nil {
			return fmt.Errorf("failed to schedule disbursement: %w", err)
		}
		s.tokensForSale.Sub(s.tokensForSale, p.Amount)
	}
	if s.tokensForSale.Sign() <= 0 && len(plans) > 0 {
		return fmt.Errorf("%w: disbursement grants consume the whole supply", ErrInvalidConfig)
	}
	return nil
}

// ConditionalTransitions evaluates the stage conditions and advances the
// stage if one has been met. Every mutating operation runs it first; it is
// also a public maintenance call.
func (s *Sale) ConditionalTransitions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditionalTransitions()
}

func (s *Sale) conditionalTransitions() {
	now := s.now()

	if s.stage == Freeze && !now.Before(s.startTime) {
		s.setStage(InProgress, now)
	}
	if s.stage == InProgress {
		capReached := s.weiContributed.Cmp(s.totalSaleCap) >= 0
		timeReached := s.endTimeSet && !now.Before(s.endTime)
		if capReached || timeReached {
			s.setStage(Ended, now)
			s.onSaleEnded()
		}
	}
}

// setStage records a forward transition. Callers hold the lock.
func (s *Sale) setStage(next Stage, now time.Time) {
	prev := s.stage
	s.stage = next
	if _, ok := s.stageStart[next]; !ok {
		s.stageStart[next] = now
	}
	metrics.SaleStage.Set(float64(next))
	s.emitter.Emit(events.EventStageTransition, events.SeverityInfo, map[string]interface{}{
		"from": prev.String(),
		"to":   next.String(),
	})
	log.WithFields(log.Fields{"from": prev.String(), "to": next.String()}).Info("Sale stage changed")
}

// onSaleEnded settles the campaign: fixes the token ratio, finalizes the
// vault for success or refunding, releases token transfers and hands the
// owned components back to the sale owner. Callers hold the lock.
func (s *Sale) onSaleEnded() {
	if s.weiContributed.Sign() > 0 {
		s.tokensPerWei = new(big.Int).Div(s.tokensForSale, s.weiContributed)
	}

	if s.weiContributed.Cmp(s.minThreshold) >= 0 {
		if err := s.trustedVault.SaleSuccessful(s.account); err != nil {
			log.Errorf("Failed to mark vault successful: %v", err)
		}
	} else {
		if err := s.trustedVault.EnableRefunds(s.account); err != nil {
			log.Errorf("Failed to enable vault refunds: %v", err)
		}
	}

	if err := s.trustedToken.EnableTransfers(s.account); err != nil {
		log.Errorf("Failed to enable token transfers: %v", err)
	}
	if err := s.trustedToken.TransferOwnership(s.account, s.owner); err != nil {
		log.Errorf("Failed to hand back token ownership: %v", err)
	}
	if err := s.trustedVault.TransferOwnership(s.account, s.owner); err != nil {
		log.Errorf("Failed to hand back vault ownership: %v", err)
	}
	if err := s.disbursementHandler.TransferOwnership(s.account, s.owner); err != nil {
		log.Errorf("Failed to hand back disbursement handler ownership: %v", err)
	}

	succeeded := s.weiContributed.Cmp(s.minThreshold) >= 0
	s.emitter.Emit(events.EventSaleEnded, events.SeverityInfo, map[string]interface{}{
		"weiContributed": s.weiContributed.String(),
		"succeeded":      succeeded,
	})
	log.WithFields(log.Fields{
		"weiContributed": s.weiContributed.String(),
		"succeeded":      succeeded,
	}).Info("Sale ended")
}

// Contribute admits a contribution from caller carrying amount, authorized
// by an admin attestation over (caller, contributionLimit, saleCap). Only
// what fits under the live caps is admitted; the rest never leaves the
// caller, so their net outflow equals exactly the accepted amount.
// Returns the accepted and excess amounts.
func (s *Sale) Contribute(caller common.Address, amount, contributionLimit, saleCap *big.Int, sig []byte) (accepted, excess *big.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conditionalTransitions()

	if s.stage != InProgress {
		metrics.ContributionsRejected.WithLabelValues("wrong_stage").Inc()
		return nil, nil, ErrWrongStage
	}
	if amount == nil || amount.Cmp(s.minContribution) < 0 {
		metrics.ContributionsRejected.WithLabelValues("below_minimum").Inc()
		return nil, nil, ErrBelowMinContribution
	}
	if !s.wl.CheckWhitelisted(caller, contributionLimit, saleCap, sig) {
		metrics.ContributionsRejected.WithLabelValues("not_whitelisted").Inc()
		return nil, nil, ErrNotWhitelisted
	}
	if saleCap.Cmp(s.totalSaleCap) > 0 {
		metrics.ContributionsRejected.WithLabelValues("cap_exceeds_total").Inc()
		return nil, nil, ErrCapExceedsTotal
	}

	remainingCap := new(big.Int).Sub(saleCap, s.weiContributed)
	remainingLimit := new(big.Int).Sub(contributionLimit, s.trustedVault.Deposited(caller))

	allowed := remainingCap
	if remainingLimit.Cmp(allowed) < 0 {
		allowed = remainingLimit
	}
	if allowed.Sign() <= 0 {
		metrics.ContributionsRejected.WithLabelValues("cap_reached").Inc()
		return nil, nil, ErrCapReached
	}

	accepted = new(big.Int).Set(amount)
	if allowed.Cmp(accepted) < 0 {
		accepted = new(big.Int).Set(allowed)
	}
	excess = new(big.Int).Sub(amount, accepted)

	// The deposit pulls only the accepted amount from the caller; the
	// excess is never taken, which is the refund.
	if err := s.trustedVault.Deposit(s.account, caller, accepted); err != nil {
		metrics.ContributionsRejected.WithLabelValues("deposit_failed").Inc()
		return nil, nil, fmt.Errorf("vault deposit failed: %w", err)
	}

	s.weiContributed.Add(s.weiContributed, accepted)

	metrics.ContributionsAccepted.Inc()
	metrics.SetWei(metrics.WeiContributed, s.weiContributed)
	s.emitter.Emit(events.EventContributionReceived, events.SeverityInfo, map[string]interface{}{
		"participant": caller.Hex(),
		"value":       accepted.String(),
		"excess":      excess.String(),
	})
	log.WithFields(log.Fields{
		"participant": caller.Hex(),
		"value":       accepted.String(),
		"excess":      excess.String(),
	}).Info("Contribution received")

	// Reaching the cap ends the sale on the same call.
	s.conditionalTransitions()

	return accepted, excess, nil
}

// SetEndTime fixes the sale end time. Owner only, callable once, only
// while the sale is in progress, and the time must be in the future.
func (s *Sale) SetEndTime(caller common.Address, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conditionalTransitions()

	if s.stage != InProgress {
		return ErrWrongStage
	}
	if caller != s.owner {
		return ErrNotOwner
	}
	if s.endTimeSet {
		return ErrEndTimeAlreadySet
	}
	if !t.After(s.now()) {
		return ErrEndTimeInPast
	}

	s.endTime = t
	s.endTimeSet = true
	s.stageStart[Ended] = t

	log.WithField("endTime", t).Info("Sale end time set")
	return nil
}

// EndSale ends the sale immediately. Owner only, only while in progress.
func (s *Sale) EndSale(caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conditionalTransitions()

	if s.stage != InProgress {
		return ErrWrongStage
	}
	if caller != s.owner {
		return ErrNotOwner
	}

	now := s.now()
	s.stageStart[Ended] = now
	s.setStage(Ended, now)
	s.onSaleEnded()
	return nil
}

// AllocateTokens grants participant their proportional token entitlement:
// contribution * tokensPerWei. Callable by anyone, but it succeeds at most
// once per participant and only after the sale has ended with a non-zero
// contribution total. Returns the granted amount.
func (s *Sale) AllocateTokens(participant common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conditionalTransitions()

	if s.stage != Ended {
		return nil, ErrWrongStage
	}
	if s.tokensPerWei == nil {
		return nil, ErrAllocationUnavailable
	}
	if s.allocated[participant] {
		return nil, ErrAlreadyAllocated
	}

	contribution := s.trustedVault.Deposited(participant)
	if contribution.Sign() == 0 {
		return nil, ErrNothingContributed
	}

	amount := new(big.Int).Mul(contribution, s.tokensPerWei)
	s.allocated[participant] = true

	if err := s.trustedToken.Mint(s.account, participant, amount); err != nil {
		s.allocated[participant] = false
		return nil, fmt.Errorf("token mint failed: %w", err)
	}

	metrics.TokensAllocated.Inc()
	s.emitter.Emit(events.EventTokensAllocated, events.SeverityInfo, map[string]interface{}{
		"participant": participant.Hex(),
		"amount":      amount.String(),
	})
	log.WithFields(log.Fields{
		"participant": participant.Hex(),
		"amount":      amount.String(),
	}).Info("Tokens allocated")
	return amount, nil
}

// TransferOwnership hands the sale to a new owner. Owner only; rejected
// once the sale has ended.
func (s *Sale) TransferOwnership(caller, newOwner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conditionalTransitions()

	if s.stage == Ended {
		return ErrWrongStage
	}
	if caller != s.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: new owner must not be the zero address", ErrInvalidConfig)
	}
	s.owner = newOwner
	return nil
}

// Stage returns the recorded stage. It does not advance lazy transitions;
// call ConditionalTransitions first for the effective stage.
func (s *Sale) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// CurrentStageID returns the recorded stage identifier.
func (s *Sale) CurrentStageID() string {
	return s.Stage().String()
}

// StageStartTime returns the start time recorded or scheduled for stage.
func (s *Sale) StageStartTime(stage Stage) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.stageStart[stage]
	return t, ok
}

// WeiContributed returns the admitted contribution total.
func (s *Sale) WeiContributed() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.weiContributed)
}

// TokensPerWei returns the allocation ratio, or nil before the sale ends
// or when nothing was contributed.
func (s *Sale) TokensPerWei() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokensPerWei == nil {
		return nil
	}
	return new(big.Int).Set(s.tokensPerWei)
}

// TokensForSale returns the supply available to contributors.
func (s *Sale) TokensForSale() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.tokensForSale)
}

// TotalSaleCap returns the global cap.
func (s *Sale) TotalSaleCap() *big.Int { return new(big.Int).Set(s.totalSaleCap) }

// MinContribution returns the minimum accepted contribution.
func (s *Sale) MinContribution() *big.Int { return new(big.Int).Set(s.minContribution) }

// MinThreshold returns the success threshold.
func (s *Sale) MinThreshold() *big.Int { return new(big.Int).Set(s.minThreshold) }

// MaxTokens returns the token supply cap.
func (s *Sale) MaxTokens() *big.Int { return new(big.Int).Set(s.maxTokens) }

// Owner returns the current sale owner.
func (s *Sale) Owner() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Account returns the sale's own component-facing identity.
func (s *Sale) Account() common.Address { return s.account }

// StartTime returns the scheduled start of the in-progress stage.
func (s *Sale) StartTime() time.Time { return s.startTime }

// EndTime returns the end time and whether one has been set.
func (s *Sale) EndTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime, s.endTimeSet
}

// Allocated reports whether participant has received their allocation.
func (s *Sale) Allocated(participant common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated[participant]
}

// Vault returns the sale's escrow vault.
func (s *Sale) Vault() *vault.Vault { return s.trustedVault }

// Token returns the sale's entitlement token.
func (s *Sale) Token() *token.Token { return s.trustedToken }

// DisbursementHandler returns the sale's disbursement registry.
func (s *Sale) DisbursementHandler() *disbursement.Registry { return s.disbursementHandler }

// Whitelist returns the referenced authorization gate.
func (s *Sale) Whitelist() *whitelist.Whitelist { return s.wl }

// deriveAccount produces a fixed component account address for a campaign.
func deriveAccount(owner common.Address, label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256(owner.Bytes(), []byte(label))[12:])
}
