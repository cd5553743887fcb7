// Package mac parses and edits console hardware addresses.
package mac

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Cells is the number of octets in a hardware address.
const Cells = 6

// Address is a 6-byte hardware address.
type Address [Cells]byte

// Parse accepts "AA-BB-CC-DD-EE-FF", "aa:bb:cc:dd:ee:ff" or "aabbccddeeff".
func Parse(s string) (Address, error) {
	stripped := strings.NewReplacer("-", "", ":", "").Replace(strings.TrimSpace(s))
	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex literal %q: %w", s, err)
	}
	if len(raw) != Cells {
		return Address{}, fmt.Errorf("invalid mac address %q, must be in 'AA-BB-CC-DD-EE-FF' format", s)
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// String renders the address as six uppercase groups joined by '-'.
func (a Address) String() string {
	return a.Join("-")
}

// Compact renders the address without separators.
func (a Address) Compact() string {
	return a.Join("")
}

// Join renders the address with the given separator.
func (a Address) Join(sep string) string {
	parts := make([]string, Cells)
	for i, b := range a {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, sep)
}

// Octets returns the editor representation of the address.
func (a Address) Octets() Octets {
	var o Octets
	for i, b := range a {
		o[i] = fmt.Sprintf("%02X", b)
	}
	return o
}
