// Package guard validates that the honorary fee position can only ever
// accrue fees in the designated (quote) asset. It runs once at position
// creation against the pool configuration, and again on every claim
// against the actually returned amounts.
package guard

import (
	"errors"
	"fmt"

	"FeeRouter/internal/state"
)

var (
	// ErrQuoteOnlyValidationFailed: pool configuration allows fees in the
	// non-designated asset.
	ErrQuoteOnlyValidationFailed = errors.New("quote-only validation failed: pool configuration allows base token fees")

	// ErrInvalidPoolConfiguration: pool disabled or unknown collect mode.
	ErrInvalidPoolConfiguration = errors.New("invalid pool configuration for quote-only fee collection")

	// ErrBaseFeesDetected: a claim returned a non-zero amount of the
	// non-designated asset. Fatal for that page.
	ErrBaseFeesDetected = errors.New("base token fees detected during claim")

	// ErrInvalidPositionOwnership: position not owned by the distribution system.
	ErrInvalidPositionOwnership = errors.New("position not owned by distribution authority")
)

// CollectFeeMode mirrors the pool's fee-collection configuration.
type CollectFeeMode uint8

const (
	// CollectBothTokens accrues fees in both pool assets. Never acceptable.
	CollectBothTokens CollectFeeMode = 0

	// CollectTokenBOnly accrues fees exclusively in token B.
	CollectTokenBOnly CollectFeeMode = 1

	// CollectTokenAOnly accrues fees exclusively in token A.
	CollectTokenAOnly CollectFeeMode = 2
)

// PoolConfig is the slice of pool state the guard needs.
type PoolConfig struct {
	Pool           state.Address
	TokenAMint     state.Address
	TokenBMint     state.Address
	CollectFeeMode CollectFeeMode
	Enabled        bool
}

// DetermineQuoteMint derives the fee-collection asset from the pool's
// collect mode. Fails unless the mode is single-asset.
func DetermineQuoteMint(pool PoolConfig) (state.Address, error) {
	switch pool.CollectFeeMode {
	case CollectTokenBOnly:
		return pool.TokenBMint, nil
	case CollectTokenAOnly:
		return pool.TokenAMint, nil
	case CollectBothTokens:
		return state.ZeroAddress, ErrQuoteOnlyValidationFailed
	default:
		return state.ZeroAddress, fmt.Errorf("%w: unknown collect fee mode %d", ErrInvalidPoolConfiguration, pool.CollectFeeMode)
	}
}

// ValidateQuoteOnlyPool checks, at position creation, that the pool collects
// fees in exactly one asset and that the caller-declared quote mint matches
// it, whichever side of the pair it sits on.
func ValidateQuoteOnlyPool(pool PoolConfig, declaredQuoteMint state.Address) error {
	if !pool.Enabled {
		return fmt.Errorf("%w: pool %s is disabled", ErrInvalidPoolConfiguration, pool.Pool)
	}

	quoteMint, err := DetermineQuoteMint(pool)
	if err != nil {
		return err
	}

	if quoteMint != declaredQuoteMint {
		return fmt.Errorf("%w: pool collects %s, declared quote mint %s",
			ErrQuoteOnlyValidationFailed, quoteMint, declaredQuoteMint)
	}
	return nil
}

// BaseMint returns the non-designated asset of a validated pool.
func BaseMint(pool PoolConfig, quoteMint state.Address) state.Address {
	if pool.TokenAMint == quoteMint {
		return pool.TokenBMint
	}
	return pool.TokenAMint
}

// ValidatePositionOwnership checks the position is owned by the vault's
// distribution authority; no investor or creator may withdraw directly.
func ValidatePositionOwnership(expectedOwner, actualOwner state.Address) error {
	if expectedOwner != actualOwner {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPositionOwnership, expectedOwner, actualOwner)
	}
	return nil
}

// CheckClaimedFees runs after every claim: any non-zero amount in the
// non-designated asset aborts the whole page. Incorrect fee accounting is
// worse than a stalled crank.
func CheckClaimedFees(quoteAmount, baseAmount uint64) error {
	if baseAmount != 0 {
		return fmt.Errorf("%w: quote=%d base=%d", ErrBaseFeesDetected, quoteAmount, baseAmount)
	}
	return nil
}
