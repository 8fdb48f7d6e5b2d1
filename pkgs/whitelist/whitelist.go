package whitelist

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotAdmin     = errors.New("caller is not the whitelist admin")
	ErrZeroAddress  = errors.New("address must not be the zero address")
	ErrBadSignature = errors.New("signature must be 65 bytes")
)

// SignatureLength is the expected r||s||v signature size.
const SignatureLength = 65

// Whitelist is the authorization gate for contributions. The admin signs
// attestations off-line binding a contributor address to a contribution
// limit and a sale cap snapshot; CheckWhitelisted recovers the signer and
// checks it against the current admin. A deny-list overrides any otherwise
// valid attestation.
type Whitelist struct {
	mu        sync.RWMutex
	admin     common.Address
	blacklist map[common.Address]struct{}
}

// New creates a whitelist governed by admin.
func New(admin common.Address) (*Whitelist, error) {
	if admin == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	return &Whitelist{
		admin:     admin,
		blacklist: make(map[common.Address]struct{}),
	}, nil
}

// Admin returns the current whitelist admin.
func (w *Whitelist) Admin() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.admin
}

// ChangeAdmin rotates the admin. Only the current admin may call it and
// the new admin must not be the zero address.
func (w *Whitelist) ChangeAdmin(caller, newAdmin common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if caller != w.admin {
		return ErrNotAdmin
	}
	if newAdmin == (common.Address{}) {
		return ErrZeroAddress
	}

	log.WithFields(log.Fields{
		"old": w.admin.Hex(),
		"new": newAdmin.Hex(),
	}).Info("Whitelist admin changed")

	w.admin = newAdmin
	return nil
}

// AddToBlacklist deny-lists a contributor. Idempotent, admin only.
func (w *Whitelist) AddToBlacklist(caller, contributor common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if caller != w.admin {
		return ErrNotAdmin
	}
	w.blacklist[contributor] = struct{}{}
	log.Debugf("Blacklisted contributor %s", contributor.Hex())
	return nil
}

// RemoveFromBlacklist lifts a deny-listing. Idempotent, admin only.
func (w *Whitelist) RemoveFromBlacklist(caller, contributor common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if caller != w.admin {
		return ErrNotAdmin
	}
	delete(w.blacklist, contributor)
	log.Debugf("Removed contributor %s from blacklist", contributor.Hex())
	return nil
}

// IsBlacklisted reports whether contributor is currently deny-listed.
func (w *Whitelist) IsBlacklisted(contributor common.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.blacklist[contributor]
	return ok
}

// CheckWhitelisted verifies an attestation for contributor. It is a pure
// predicate: any structurally invalid input, a signer other than the
// current admin, or a deny-listed contributor yields false, never an
// error, so callers can treat every bad combination uniformly.
func (w *Whitelist) CheckWhitelisted(contributor common.Address, contributionLimit, saleCap *big.Int, sig []byte) bool {
	if contributor == (common.Address{}) {
		return false
	}
	if contributionLimit == nil || contributionLimit.Sign() <= 0 {
		return false
	}
	if saleCap == nil || saleCap.Sign() < 0 {
		return false
	}
	if len(sig) != SignatureLength {
		return false
	}

	signer, err := RecoverSigner(contributor, contributionLimit, saleCap, sig)
	if err != nil {
		log.Debugf("Attestation recovery failed for %s: %v", contributor.Hex(), err)
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if signer != w.admin {
		return false
	}
	if _, denied := w.blacklist[contributor]; denied {
		return false
	}
	return true
}

// ContributionHash builds the deterministic attestation digest:
// keccak256(contributor ‖ pad32(contributionLimit) ‖ pad32(saleCap)).
func ContributionHash(contributor common.Address, contributionLimit, saleCap *big.Int) []byte {
	msg := make([]byte, 0, common.AddressLength+64)
	msg = append(msg, contributor.Bytes()...)
	msg = append(msg, common.LeftPadBytes(contributionLimit.Bytes(), 32)...)
	msg = append(msg, common.LeftPadBytes(saleCap.Bytes(), 32)...)
	return crypto.Keccak256(msg)
}

// prefixedHash wraps the attestation digest with the Ethereum signed
// message prefix, matching how wallet signers produce the signature.
func prefixedHash(contributor common.Address, contributionLimit, saleCap *big.Int) []byte {
	inner := ContributionHash(contributor, contributionLimit, saleCap)
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(inner))), inner)
}

// RecoverSigner recovers the attestation signer address. Signatures with a
// legacy recovery id of 27/28 are normalized before recovery.
func RecoverSigner(contributor common.Address, contributionLimit, saleCap *big.Int, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrBadSignature
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(prefixedHash(contributor, contributionLimit, saleCap), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// SignContribution produces an attestation signature with the given admin
// key. Used by the payload tool and by tests.
func SignContribution(adminKey *ecdsa.PrivateKey, contributor common.Address, contributionLimit, saleCap *big.Int) ([]byte, error) {
	sig, err := crypto.Sign(prefixedHash(contributor, contributionLimit, saleCap), adminKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign attestation: %w", err)
	}
	return sig, nil
}

// ParseSignature decodes a hex signature, with or without 0x prefix.
func ParseSignature(hexSig string) ([]byte, error) {
	hexSig = strings.TrimPrefix(hexSig, "0x")
	return hex.DecodeString(hexSig)
}
