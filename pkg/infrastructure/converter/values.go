package converter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Float reads a normalized numeric value. Decimal strings produced for
// large integers are parsed; anything else is not a number.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FloatOr reads a numeric value, returning def when v is not a number.
func FloatOr(v any, def float64) float64 {
	if f, ok := Float(v); ok {
		return f
	}
	return def
}

// FloatPtr reads a numeric value as a pointer, nil when v is not a number.
func FloatPtr(v any) *float64 {
	if f, ok := Float(v); ok {
		return &f
	}
	return nil
}

// String renders a normalized scalar as text; nil is the empty string.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
