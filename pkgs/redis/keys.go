package redis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// KeyBuilder generates namespaced Redis keys scoped to a single campaign.
type KeyBuilder struct {
	Campaign string
}

// checksumAddress converts an address string to EIP-55 checksummed form so
// keys stay consistent regardless of caller casing. Non-address
// identifiers pass through unchanged.
func checksumAddress(addr string) string {
	if addr == "" {
		return addr
	}
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

// NewKeyBuilder creates a KeyBuilder for a campaign.
func NewKeyBuilder(campaign string) *KeyBuilder {
	return &KeyBuilder{Campaign: campaign}
}

// SaleState returns the hash key holding the sale's public read state.
func (kb *KeyBuilder) SaleState() string {
	return fmt.Sprintf("sale:%s:state", kb.Campaign)
}

// VaultState returns the hash key holding the vault's public read state.
func (kb *KeyBuilder) VaultState() string {
	return fmt.Sprintf("sale:%s:vault", kb.Campaign)
}

// Deposits returns the hash key mapping contributor address to deposit.
func (kb *KeyBuilder) Deposits() string {
	return fmt.Sprintf("sale:%s:deposits", kb.Campaign)
}

// Allocations returns the hash key mapping participant to granted tokens.
func (kb *KeyBuilder) Allocations() string {
	return fmt.Sprintf("sale:%s:allocations", kb.Campaign)
}

// Disbursements returns the list key of scheduled tranches for a
// beneficiary.
func (kb *KeyBuilder) Disbursements(beneficiary string) string {
	return fmt.Sprintf("sale:%s:disbursements:%s", kb.Campaign, checksumAddress(beneficiary))
}

// EventLog returns the list key of recent campaign events.
func (kb *KeyBuilder) EventLog() string {
	return fmt.Sprintf("sale:%s:events", kb.Campaign)
}
