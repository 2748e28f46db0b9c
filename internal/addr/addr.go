// Package addr canonicalizes EVM addresses to their EIP-55 checksum form.
package addr

import (
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress is returned for strings that are not 20-byte hex addresses.
var ErrInvalidAddress = errors.New("invalid address")

const hexDigits = "0123456789abcdefABCDEF"

// Valid reports whether s is a 0x-prefixed 40-digit hex address.
func Valid(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !strings.ContainsRune(hexDigits, c) {
			return false
		}
	}
	return true
}

// Checksum returns the EIP-55 checksummed form of an address.
func Checksum(s string) (string, error) {
	if !Valid(s) {
		return "", ErrInvalidAddress
	}
	lower := strings.ToLower(s[2:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			// Uppercase when the corresponding hash nibble is >= 8.
			nibble := sum[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out), nil
}

// Equal compares two addresses case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Burn addresses that hold tokens nobody controls.
var blackholes = map[string]struct{}{
	"0x000000000000000000000000000000000000dead": {},
	"0x0000000000000000000000000000000000000000": {},
	"0xdead000000000000000042069420694206942069": {},
	"0x0000000000000000000000000000000000000001": {},
}

// IsBlackhole reports whether the address is a known burn address.
func IsBlackhole(s string) bool {
	_, ok := blackholes[strings.ToLower(s)]
	return ok
}
