// Package codec converts between human-decimal token amounts and the
// 18-decimal fixed-point integers contracts expect, and normalizes
// addresses for cache keys and display.
package codec

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"payflow/internal/domain"
)

// TokenDecimals is the MNEE token precision.
const TokenDecimals = 18

// MaxUint256 is the approval sentinel: approving the maximum representable
// value avoids a second approval on subsequent deposit-bearing actions.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount converts a human-decimal string to a fixed-point integer.
// The empty string and all-zero forms ("0", "0.0", "0.00") normalize to
// zero. More than 18 fractional digits or a negative value is invalid.
func ParseAmount(input string) (*big.Int, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, &domain.InvalidAmountError{Input: input}
	}
	if value.IsNegative() {
		return nil, &domain.InvalidAmountError{Input: input}
	}
	shifted := value.Shift(TokenDecimals)
	if !shifted.IsInteger() {
		return nil, &domain.InvalidAmountError{Input: input}
	}
	return shifted.BigInt(), nil
}

// FormatAmount renders a fixed-point integer as a human-decimal string,
// trailing zeros trimmed.
func FormatAmount(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, 0).Shift(-TokenDecimals).String()
}

// NormalizeAddress lowercases an address for case-insensitive keying.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsHexAddress reports whether s looks like a 20-byte hex address.
func IsHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ShortAddress renders a full hex address as "0x1234...abcd".
func ShortAddress(address string) string {
	if len(address) < 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// DefaultFlowName is the address-derived label used when no metadata name
// has been set.
func DefaultFlowName(address string) string {
	return "Flow " + ShortAddress(address)
}
