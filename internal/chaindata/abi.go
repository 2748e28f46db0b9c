package chaindata

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// ERC-20 function selectors (first four bytes of the keccak'd signatures).
const (
	selSymbol      = "0x95d89b41" // symbol()
	selDecimals    = "0x313ce567" // decimals()
	selTotalSupply = "0x18160ddd" // totalSupply()
	selBalanceOf   = "0x70a08231" // balanceOf(address)
)

// padAddress ABI-encodes an address argument: 32 bytes, left-padded.
func padAddress(address string) string {
	a := strings.ToLower(strings.TrimPrefix(address, "0x"))
	return strings.Repeat("0", 64-len(a)) + a
}

// decodeUint256 parses a 0x-prefixed ABI word into a big integer.
func decodeUint256(raw string) (*big.Int, error) {
	h := strings.TrimPrefix(raw, "0x")
	if h == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, fmt.Errorf("malformed uint256 result %q", raw)
	}
	return v, nil
}

// decodeString parses an ABI-encoded string return value. Standard tokens
// return a dynamic string (offset word, length word, data); some older
// contracts return a zero-padded bytes32 instead, which is handled too.
func decodeString(raw string) (string, error) {
	h := strings.TrimPrefix(raw, "0x")
	data, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("malformed string result %q: %v", raw, err)
	}
	if len(data) == 0 {
		return "", nil
	}

	// bytes32 layout: a single zero-padded word
	if len(data) == 32 {
		return string(bytes.TrimRight(data, "\x00")), nil
	}

	if len(data) < 64 {
		return "", fmt.Errorf("string result too short: %d bytes", len(data))
	}

	offset := new(big.Int).SetBytes(data[:32])
	if !offset.IsInt64() || offset.Int64()+32 > int64(len(data)) {
		return "", fmt.Errorf("string offset out of bounds")
	}
	start := offset.Int64()

	length := new(big.Int).SetBytes(data[start : start+32])
	if !length.IsInt64() || start+32+length.Int64() > int64(len(data)) {
		return "", fmt.Errorf("string length out of bounds")
	}

	return string(data[start+32 : start+32+length.Int64()]), nil
}
