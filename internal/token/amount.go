package token

import (
	"fmt"
	"math/big"
	"strings"
)

// Raw amounts are arbitrary-precision non-negative integers in the token's
// smallest unit. Decimal strings are the only other representation; floats
// never touch amounts.

// MaxUint256 is the approval amount used by the allowance manager.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ToRaw parses a decimal amount string ("1000.25") into the token's smallest
// unit. More fractional digits than the token has decimals is an error, not a
// rounding.
func ToRaw(amount string, decimals int) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", amount)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	raw, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", amount)
	}
	return raw, nil
}

// FormatRaw renders a raw amount as a decimal string with trailing zeros
// trimmed. FormatRaw and ToRaw round-trip exactly.
func FormatRaw(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	s := raw.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// PercentOfBps returns raw*bps/10000 truncated toward zero. Percentage
// arithmetic always goes through basis points so no float ever touches an
// amount.
func PercentOfBps(raw *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(raw, big.NewInt(bps))
	return out.Quo(out, big.NewInt(10_000))
}

// SubFloor returns max(0, a-b).
func SubFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// MaxRaw returns the larger of a and b.
func MaxRaw(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
