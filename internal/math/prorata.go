package math

import (
	"errors"
	"math/bits"
)

// BasisPointsDivisor is the bps denominator (100% = 10000 bps).
const BasisPointsDivisor uint64 = 10_000

// ErrOverflow is returned when a distribution calculation exceeds uint64 range.
var ErrOverflow = errors.New("math overflow in distribution calculation")

// MulDivFloor computes floor(a * b / denom) using a 128-bit intermediate
// so the product cannot overflow. Returns ErrOverflow if the quotient does
// not fit in uint64 or denom is zero.
func MulDivFloor(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= denom {
		// Quotient >= 2^64
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, denom)
	return q, nil
}

// EligibleInvestorShareBps returns the bps share investors are entitled to:
// min(maxShareBps, floor(lockedTotal * 10000 / y0TotalAllocation)).
// The locked fraction is capped at 10000 bps, so a lockedTotal above Y0
// never grants more than 100%.
func EligibleInvestorShareBps(lockedTotal, y0TotalAllocation uint64, maxShareBps uint16) uint16 {
	if y0TotalAllocation == 0 {
		return 0
	}

	lockedFractionBps, err := MulDivFloor(lockedTotal, BasisPointsDivisor, y0TotalAllocation)
	if err != nil || lockedFractionBps > BasisPointsDivisor {
		// Fraction above 100% in either case — cap it
		lockedFractionBps = BasisPointsDivisor
	}

	if uint64(maxShareBps) < lockedFractionBps {
		return maxShareBps
	}
	return uint16(lockedFractionBps)
}

// InvestorPoolAmount computes the total fee amount reserved for investors:
// floor(claimedQuote * eligibleShareBps / 10000).
func InvestorPoolAmount(claimedQuote uint64, eligibleShareBps uint16) (uint64, error) {
	if eligibleShareBps > uint16(BasisPointsDivisor) {
		return 0, ErrOverflow
	}
	return MulDivFloor(claimedQuote, uint64(eligibleShareBps), BasisPointsDivisor)
}

// InvestorPayout computes one investor's weighted slice of the investor pool:
// floor(investorPool * individualLocked / totalLocked).
// A zero totalLocked means no investor payouts this day.
func InvestorPayout(investorPool, individualLocked, totalLocked uint64) (uint64, error) {
	if totalLocked == 0 {
		return 0, nil
	}
	return MulDivFloor(investorPool, individualLocked, totalLocked)
}

// ApplyDustThreshold splits a computed amount into (payout, dust).
// Amounts below the minimum payout are dust and stay untransferred.
func ApplyDustThreshold(amount, minPayout uint64) (payout, dust uint64) {
	if amount >= minPayout {
		return amount, 0
	}
	return 0, amount
}

// ApplyDailyCap clamps a proposed payout so the running daily total never
// exceeds the cap. A nil cap means unbounded.
func ApplyDailyCap(alreadyDistributed, proposed uint64, dailyCap *uint64) uint64 {
	if dailyCap == nil {
		return proposed
	}
	cap := *dailyCap
	if alreadyDistributed >= cap {
		return 0
	}
	headroom := cap - alreadyDistributed
	if proposed > headroom {
		return headroom
	}
	return proposed
}

// CreatorRemainder computes the amount flushed to the creator at day close.
func CreatorRemainder(totalClaimed, investorDistributed uint64) uint64 {
	if investorDistributed >= totalClaimed {
		return 0
	}
	return totalClaimed - investorDistributed
}
