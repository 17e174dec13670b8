// Package sqlbuild assembles engine SQL from typed fragments. Identifiers
// and values only enter a statement through the guard quoting functions.
package sqlbuild

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TFMV/tally/pkg/guard"
)

// Fragment is a piece of SQL. A fragment built from an unquotable value
// carries the error and poisons any statement it is used in.
type Fragment struct {
	sql string
	err error
}

// String returns the SQL text.
func (f Fragment) String() string { return f.sql }

// Err returns the error carried by the fragment, if any.
func (f Fragment) Err() error { return f.err }

// Raw wraps trusted SQL text. Never pass caller input.
func Raw(sql string) Fragment { return Fragment{sql: sql} }

// Expr formats trusted SQL text around fragments: each %s in format takes
// the next argument.
func Expr(format string, args ...Fragment) Fragment {
	texts := make([]any, len(args))
	var err error
	for i, a := range args {
		texts[i] = a.sql
		if err == nil {
			err = a.err
		}
	}
	return Fragment{sql: fmt.Sprintf(format, texts...), err: err}
}

// Col is a quoted column reference.
func Col(name string) Fragment { return Fragment{sql: guard.QuoteIdentifier(name)} }

// Table is a quoted relation reference.
func Table(name string) Fragment { return Col(name) }

// Lit is a quoted literal.
func Lit(v any) Fragment {
	s, err := guard.QuoteLiteral(v)
	return Fragment{sql: s, err: err}
}

// Int is an integer literal.
func Int(n int) Fragment { return Fragment{sql: strconv.Itoa(n)} }

// True is the always-true predicate.
func True() Fragment { return Raw("TRUE") }

func join(sep string, parts []Fragment) Fragment {
	out := make([]string, len(parts))
	var err error
	for i, p := range parts {
		out[i] = p.sql
		if err == nil {
			err = p.err
		}
	}
	return Fragment{sql: strings.Join(out, sep), err: err}
}

func wrap(prefix string, f Fragment, suffix string) Fragment {
	return Fragment{sql: prefix + f.sql + suffix, err: f.err}
}

func binary(a Fragment, op string, b Fragment) Fragment {
	return join(" "+op+" ", []Fragment{a, b})
}

// As aliases an expression.
func (f Fragment) As(alias string) Fragment {
	return wrap("", f, " AS "+guard.QuoteIdentifier(alias))
}

// Typed appends a postfix cast, e.g. count(*)::BIGINT.
func (f Fragment) Typed(sqlType string) Fragment { return wrap("", f, "::"+sqlType) }

// Filter restricts an aggregate with FILTER (WHERE pred).
func (f Fragment) Filter(pred Fragment) Fragment {
	return join("", []Fragment{f, wrap(" FILTER (WHERE ", pred, ")")})
}

// Desc orders descending.
func (f Fragment) Desc() Fragment { return wrap("", f, " DESC") }

// Func calls name with args.
func Func(name string, args ...Fragment) Fragment {
	return wrap(name+"(", join(", ", args), ")")
}

// Cast is cast(f AS sqlType).
func Cast(f Fragment, sqlType string) Fragment { return wrap("cast(", f, " AS "+sqlType+")") }

// TryCast is try_cast(f AS sqlType).
func TryCast(f Fragment, sqlType string) Fragment { return wrap("try_cast(", f, " AS "+sqlType+")") }

// CastDouble is cast(f AS DOUBLE).
func CastDouble(f Fragment) Fragment { return Cast(f, "DOUBLE") }

// CastVarchar is cast(f AS VARCHAR).
func CastVarchar(f Fragment) Fragment { return Cast(f, "VARCHAR") }

// CountStar is count(*).
func CountStar() Fragment { return Raw("count(*)") }

// Corr is corr(a, b).
func Corr(a, b Fragment) Fragment { return Func("corr", a, b) }

// Avg is avg(f).
func Avg(f Fragment) Fragment { return Func("avg", f) }

// StddevSamp is stddev_samp(f).
func StddevSamp(f Fragment) Fragment { return Func("stddev_samp", f) }

// QuantileCont is quantile_cont(f, q).
func QuantileCont(f Fragment, q float64) Fragment { return Func("quantile_cont", f, Lit(q)) }

// Min is min(f).
func Min(f Fragment) Fragment { return Func("min", f) }

// Max is max(f).
func Max(f Fragment) Fragment { return Func("max", f) }

// SumIf counts rows matching pred: SUM(CASE WHEN pred THEN 1 ELSE 0 END).
func SumIf(pred Fragment) Fragment {
	return wrap("SUM(CASE WHEN ", pred, " THEN 1 ELSE 0 END)")
}

// Eq is a = b.
func Eq(a, b Fragment) Fragment { return binary(a, "=", b) }

// Le is a <= b.
func Le(a, b Fragment) Fragment { return binary(a, "<=", b) }

// IsNull is f IS NULL.
func IsNull(f Fragment) Fragment { return wrap("", f, " IS NULL") }

// IsNotNull is f IS NOT NULL.
func IsNotNull(f Fragment) Fragment { return wrap("", f, " IS NOT NULL") }

// And joins predicates with AND. No predicates yields TRUE.
func And(preds ...Fragment) Fragment {
	if len(preds) == 0 {
		return True()
	}
	return join(" AND ", preds)
}

// Paren parenthesizes f.
func Paren(f Fragment) Fragment { return wrap("(", f, ")") }

// Sub embeds a statement as a parenthesized subquery.
func Sub(b *SelectBuilder) Fragment {
	sql, err := b.Build()
	return Fragment{sql: "(" + sql + ")", err: err}
}
