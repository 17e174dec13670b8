package guard

import (
	"math"
	"strconv"
	"strings"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
)

// QuoteIdentifier double-quotes an identifier, doubling embedded quotes.
func QuoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// QuoteLiteral renders v as an engine literal. Strings are single-quoted
// with embedded quotes doubled; nil and bools map to NULL/TRUE/FALSE;
// non-finite numbers fail with INVALID_LITERAL.
func QuoteLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", errors.Newf(errors.CodeInvalidLiteral, "Unsupported literal type %T.", v)
	}
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.New(errors.CodeInvalidLiteral, "Non-finite numeric values are not supported.")
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// BuildWhereClause ANDs one predicate per filter, in order. It returns ""
// when no filter produces a predicate.
func BuildWhereClause(filters []models.Filter) (string, error) {
	preds, err := FilterPredicates(filters)
	if err != nil || len(preds) == 0 {
		return "", err
	}
	return "WHERE " + strings.Join(preds, " AND "), nil
}

// FilterPredicates renders each filter as a predicate. A set filter that
// mixes nil with concrete values becomes (col IN (...) OR col IS NULL).
func FilterPredicates(filters []models.Filter) ([]string, error) {
	preds := make([]string, 0, len(filters))

	for _, f := range filters {
		col := QuoteIdentifier(f.Column)

		if !f.IsSet && f.Values == nil {
			if f.Value == nil {
				preds = append(preds, col+" IS NULL")
				continue
			}
			lit, err := QuoteLiteral(f.Value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, col+" = "+lit)
			continue
		}

		hasNull := false
		lits := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			if v == nil {
				hasNull = true
				continue
			}
			lit, err := QuoteLiteral(v)
			if err != nil {
				return nil, err
			}
			lits = append(lits, lit)
		}

		in := ""
		if len(lits) > 0 {
			in = col + " IN (" + strings.Join(lits, ", ") + ")"
		}

		switch {
		case hasNull && in != "":
			preds = append(preds, "("+in+" OR "+col+" IS NULL)")
		case hasNull:
			preds = append(preds, col+" IS NULL")
		case in != "":
			preds = append(preds, in)
		}
	}

	return preds, nil
}
