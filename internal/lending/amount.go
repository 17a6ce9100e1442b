// internal/lending/amount.go
package lending

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// MaxAmountLiteral is the sentinel accepted in place of a number for withdraw/repay.
const MaxAmountLiteral = "max"

// Amount — целое число в минимальных единицах актива либо "max".
type Amount struct {
	value *big.Int
	max   bool
}

// NewAmount wraps a native-unit integer.
func NewAmount(v *big.Int) Amount {
	if v == nil {
		return Amount{value: new(big.Int)}
	}
	return Amount{value: new(big.Int).Set(v)}
}

// MaxAmount returns the "everything" sentinel.
func MaxAmount() Amount {
	return Amount{max: true}
}

// ParseAmount parses a base-10 integer or the literal "max".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, MaxAmountLiteral) {
		return MaxAmount(), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, NewError(KindInvalidAmount, fmt.Sprintf("amount %q is not an integer in native units", s))
	}
	return Amount{value: v}, nil
}

// IsMax reports whether the amount is the sentinel.
func (a Amount) IsMax() bool { return a.max }

// Int returns the value; nil for the sentinel.
func (a Amount) Int() *big.Int {
	if a.max || a.value == nil {
		return nil
	}
	return new(big.Int).Set(a.value)
}

// IsPositive reports a concrete amount > 0.
func (a Amount) IsPositive() bool {
	return !a.max && a.value != nil && a.value.Sign() > 0
}

func (a Amount) String() string {
	if a.max {
		return MaxAmountLiteral
	}
	if a.value == nil {
		return "0"
	}
	return a.value.String()
}

// MarshalJSON encodes the amount as a string to keep full precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts "123", 123 or "max".
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return NewError(KindInvalidAmount, "amount must be a string or integer")
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
