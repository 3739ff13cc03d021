package ledger

import (
	"fmt"

	"FeeRouter/internal/state"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeTreasury: program-owned token accounts holding claimed fees
	AccountScopeTreasury AccountScope = iota
	// AccountScopeInvestor: an investor's payout wallet
	AccountScopeInvestor
	// AccountScopeCreator: the policy's creator wallet
	AccountScopeCreator
	// AccountScopePool: the external pool the position claims from
	AccountScopePool
)

// AssetSide distinguishes the designated (quote) asset from the other one.
type AssetSide uint8

const (
	AssetQuote AssetSide = iota
	AssetBase
)

func (s AssetSide) String() string {
	if s == AssetBase {
		return "base"
	}
	return "quote"
}

// AccountKey identifies a fund-holding account in transfer records.
type AccountKey struct {
	Scope AccountScope
	Vault state.Address
	Owner state.Address // wallet for investor/creator, pool address for pool
	Asset AssetSide
}

// NewTreasuryAccountKey returns the vault's program-owned treasury account.
func NewTreasuryAccountKey(vault state.Address, asset AssetSide) AccountKey {
	return AccountKey{Scope: AccountScopeTreasury, Vault: vault, Asset: asset}
}

// NewInvestorAccountKey returns an investor's payout account.
func NewInvestorAccountKey(vault, wallet state.Address) AccountKey {
	return AccountKey{Scope: AccountScopeInvestor, Vault: vault, Owner: wallet, Asset: AssetQuote}
}

// NewCreatorAccountKey returns the creator's payout account.
func NewCreatorAccountKey(vault, wallet state.Address) AccountKey {
	return AccountKey{Scope: AccountScopeCreator, Vault: vault, Owner: wallet, Asset: AssetQuote}
}

// NewPoolAccountKey returns the external pool account fees are claimed from.
func NewPoolAccountKey(vault, pool state.Address) AccountKey {
	return AccountKey{Scope: AccountScopePool, Vault: vault, Owner: pool, Asset: AssetQuote}
}

// AccountPath renders the key as a stable string for persistence and logs.
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeTreasury:
		return fmt.Sprintf("treasury:%s:%s", k.Vault, k.Asset)
	case AccountScopeInvestor:
		return fmt.Sprintf("investor:%s:%s", k.Vault, k.Owner)
	case AccountScopeCreator:
		return fmt.Sprintf("creator:%s:%s", k.Vault, k.Owner)
	case AccountScopePool:
		return fmt.Sprintf("pool:%s:%s", k.Vault, k.Owner)
	default:
		return fmt.Sprintf("unknown:%s", k.Vault)
	}
}
