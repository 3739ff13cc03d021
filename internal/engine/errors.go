package engine

import (
	"errors"
)

// Error taxonomy. Every failure aborts the call with zero state change;
// retry policy belongs to the caller.
var (
	// Configuration errors — rejected at setup.
	ErrInvalidPolicyConfig   = errors.New("invalid policy configuration")
	ErrPolicyAlreadyExists   = errors.New("policy already exists for vault")
	ErrPositionAlreadyExists = errors.New("honorary position already exists for vault")

	// Window violation — crank before the 24-hour gate elapsed.
	ErrDistributionWindowNotElapsed = errors.New("24-hour distribution window not elapsed")

	// Sequence violations — wrong page boundary; retriable with the
	// pageStart read from the current cursor.
	ErrInvalidPaginationSequence = errors.New("invalid pagination sequence: pages must start at the current cursor")
	ErrInvalidPagination         = errors.New("invalid pagination parameters")

	// Defense-in-depth: cursor admission should make this unreachable.
	ErrInvestorAlreadyPaid = errors.New("investor already paid this distribution day")

	// Supplied accounts do not cover the expected investor slice.
	ErrAccountCountMismatch = errors.New("investor account count mismatch")
)
