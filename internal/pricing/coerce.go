package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Accepted prices stay below 10^maxIntegerDigits with at most maxScale
// fractional digits. Exponent notation outside those bounds would make
// rounding and formatting expand the value digit by digit.
const (
	maxIntegerDigits = 12
	maxScale         = 8
)

// InputError reports a caller supplied value that cannot be priced.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CoercePrice converts a wire price that may arrive either as a JSON number or
// as a numeric string into a decimal amount.
func CoercePrice(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Zero, &InputError{Reason: "price is required"}
	}
	var text string
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return decimal.Zero, &InputError{Reason: "price is not a valid string"}
		}
		text = strings.TrimSpace(text)
	} else {
		var num json.Number
		if err := json.Unmarshal(trimmed, &num); err != nil {
			return decimal.Zero, &InputError{Reason: fmt.Sprintf("price must be numeric, got %s", string(trimmed))}
		}
		text = num.String()
	}
	if text == "" {
		return decimal.Zero, &InputError{Reason: "price is empty"}
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, &InputError{Reason: fmt.Sprintf("price %q is not numeric", text)}
	}
	if value.IsNegative() {
		return decimal.Zero, &InputError{Reason: "price must not be negative"}
	}
	if value.Exponent() < -maxScale {
		return decimal.Zero, &InputError{Reason: fmt.Sprintf("price has more than %d decimal places", maxScale)}
	}
	if !value.IsZero() && value.NumDigits()+int(value.Exponent()) > maxIntegerDigits {
		return decimal.Zero, &InputError{Reason: fmt.Sprintf("price exceeds %d integer digits", maxIntegerDigits)}
	}
	return value, nil
}
