package state

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Address is a 32-byte account key rendered as base58, used for vaults,
// wallets, mints and position handles.
type Address [32]byte

var ZeroAddress Address

// AddressFromBase58 parses a base58-encoded 32-byte address.
func AddressFromBase58(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("address %q: expected 32 bytes, got %d", s, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// MustAddressFromBase58 parses an address and panics on error. Test helper.
func MustAddressFromBase58(s string) Address {
	a, err := AddressFromBase58(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalText renders the address as base58 (JSON string form).
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a base58 address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromBase58(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
