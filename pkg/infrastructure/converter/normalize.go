package converter

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"
)

// MaxSafeInteger is the largest integer a float64 holds exactly, 2^53-1.
const MaxSafeInteger = 1<<53 - 1

var (
	maxSafeBig = big.NewInt(MaxSafeInteger)
	minSafeBig = big.NewInt(-MaxSafeInteger)
	maxSafeDec = decimal.NewFromInt(MaxSafeInteger)
)

// Normalize maps an engine value onto nil, float64, string, bool, []any
// or map[string]any.
//
// Integers become float64 when exactly representable and decimal strings
// otherwise. Non-finite floats, and the strings "Infinity", "-Infinity"
// and "NaN", become nil.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case string:
		return normalizeString(x)
	case []byte:
		return normalizeString(string(x))
	case json.Number:
		return normalizeNumber(x)
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return fromInt64(int64(x))
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return fromInt64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint:
		return fromUint64(uint64(x))
	case uint64:
		return fromUint64(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		return fromBig(x)
	case duckdb.Decimal:
		return fromDecimal(x)
	case *duckdb.Decimal:
		if x == nil {
			return nil
		}
		return fromDecimal(*x)
	case decimal.Decimal:
		return fromShopspring(x)
	case duckdb.UUID:
		return uuid.UUID(x).String()
	case *duckdb.UUID:
		if x == nil {
			return nil
		}
		return uuid.UUID(*x).String()
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case duckdb.Interval:
		return map[string]any{
			"months": float64(x.Months),
			"days":   float64(x.Days),
			"micros": fromInt64(x.Micros),
		}
	case duckdb.Map:
		return normalizeAnyMap(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Normalize(val)
		}
		return out
	case map[any]any:
		return normalizeAnyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Normalize(val)
		}
		return out
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return nil
		}
		return Normalize(inner)
	default:
		return fmt.Sprint(x)
	}
}

// NormalizeColumn is Normalize with the engine's column type name, used
// where the driver hands back raw bytes for typed values.
func NormalizeColumn(typeName string, v any) any {
	if b, ok := v.([]byte); ok && strings.EqualFold(typeName, "UUID") && len(b) == 16 {
		if id, err := uuid.FromBytes(b); err == nil {
			return id.String()
		}
	}
	return Normalize(v)
}

func normalizeString(s string) any {
	switch strings.TrimSpace(s) {
	case "Infinity", "-Infinity", "NaN":
		return nil
	}
	return s
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func fromInt64(n int64) any {
	if n > MaxSafeInteger || n < -MaxSafeInteger {
		return strconv.FormatInt(n, 10)
	}
	return float64(n)
}

func fromUint64(n uint64) any {
	if n > MaxSafeInteger {
		return strconv.FormatUint(n, 10)
	}
	return float64(n)
}

func fromBig(n *big.Int) any {
	if n.Cmp(maxSafeBig) > 0 || n.Cmp(minSafeBig) < 0 {
		return n.String()
	}
	return float64(n.Int64())
}

func fromDecimal(d duckdb.Decimal) any {
	if d.Value == nil {
		return nil
	}
	return fromShopspring(decimal.NewFromBigInt(d.Value, -int32(d.Scale)))
}

func fromShopspring(d decimal.Decimal) any {
	if d.IsInteger() && d.Abs().GreaterThan(maxSafeDec) {
		return d.String()
	}
	return finite(d.InexactFloat64())
}

// normalizeNumber keeps integers exact: JSON integers outside the safe
// range stay decimal strings instead of losing digits.
func normalizeNumber(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromInt64(i)
		}
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return fromBig(b)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return finite(f)
}

// normalizeAnyMap stringifies MAP keys so the value stays JSON-encodable.
func normalizeAnyMap[M ~map[any]any](m M) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[fmt.Sprint(Normalize(k))] = Normalize(val)
	}
	return out
}
