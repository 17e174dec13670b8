package sqlbuild

import (
	"strconv"
	"strings"

	"github.com/TFMV/tally/pkg/guard"
	"github.com/TFMV/tally/pkg/models"
)

type cte struct {
	name string
	body Fragment
}

// SelectBuilder builds one SELECT statement.
type SelectBuilder struct {
	with    []cte
	columns []Fragment
	from    []Fragment
	where   []Fragment
	groupBy []Fragment
	orderBy []Fragment
	limit   int
}

// Select starts a statement with the given select list.
func Select(columns ...Fragment) *SelectBuilder {
	return &SelectBuilder{columns: columns}
}

// With adds a common table expression.
func (b *SelectBuilder) With(name string, body *SelectBuilder) *SelectBuilder {
	sql, err := body.Build()
	b.with = append(b.with, cte{name: name, body: Fragment{sql: sql, err: err}})
	return b
}

// WithRaw adds a common table expression from an already built fragment,
// such as a UNION ALL.
func (b *SelectBuilder) WithRaw(name string, body Fragment) *SelectBuilder {
	b.with = append(b.with, cte{name: name, body: body})
	return b
}

// From sets the relation.
func (b *SelectBuilder) From(rel Fragment) *SelectBuilder {
	b.from = append(b.from[:0], rel)
	return b
}

// CrossJoin adds a CROSS JOIN.
func (b *SelectBuilder) CrossJoin(rel Fragment) *SelectBuilder {
	b.from = append(b.from, wrap("CROSS JOIN ", rel, ""))
	return b
}

// Where ANDs predicates into the WHERE clause.
func (b *SelectBuilder) Where(preds ...Fragment) *SelectBuilder {
	b.where = append(b.where, preds...)
	return b
}

// GroupByOrdinal groups by select-list positions, starting at 1.
func (b *SelectBuilder) GroupByOrdinal(positions ...int) *SelectBuilder {
	for _, p := range positions {
		b.groupBy = append(b.groupBy, Int(p))
	}
	return b
}

// OrderBy adds ordering terms.
func (b *SelectBuilder) OrderBy(terms ...Fragment) *SelectBuilder {
	b.orderBy = append(b.orderBy, terms...)
	return b
}

// Limit bounds the row count; zero means unbounded.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = n
	return b
}

// Build renders the statement, or the first error carried by a fragment.
func (b *SelectBuilder) Build() (string, error) {
	var sb strings.Builder
	var parts []Fragment

	if len(b.with) > 0 {
		sb.WriteString("WITH ")
		for i, c := range b.with {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.name + " AS (" + c.body.sql + ")")
			parts = append(parts, c.body)
		}
		sb.WriteString(" ")
	}

	cols := join(", ", b.columns)
	parts = append(parts, cols)
	sb.WriteString("SELECT " + cols.sql)

	if len(b.from) > 0 {
		from := join(" ", b.from)
		parts = append(parts, from)
		sb.WriteString(" FROM " + from.sql)
	}
	if len(b.where) > 0 {
		where := And(b.where...)
		parts = append(parts, where)
		sb.WriteString(" WHERE " + where.sql)
	}
	if len(b.groupBy) > 0 {
		group := join(", ", b.groupBy)
		parts = append(parts, group)
		sb.WriteString(" GROUP BY " + group.sql)
	}
	if len(b.orderBy) > 0 {
		order := join(", ", b.orderBy)
		parts = append(parts, order)
		sb.WriteString(" ORDER BY " + order.sql)
	}
	if b.limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(b.limit))
	}

	for _, p := range parts {
		if p.err != nil {
			return "", p.err
		}
	}
	return sb.String(), nil
}

// Fragment renders the statement as a fragment for embedding.
func (b *SelectBuilder) Fragment() Fragment {
	sql, err := b.Build()
	return Fragment{sql: sql, err: err}
}

// UnionAll joins statements with UNION ALL, each parenthesized.
func UnionAll(stmts ...*SelectBuilder) Fragment {
	parts := make([]Fragment, len(stmts))
	for i, s := range stmts {
		parts[i] = Paren(s.Fragment())
	}
	return join(" UNION ALL ", parts)
}

// Condition ANDs filters into a cohort predicate; TRUE when empty. Filter
// semantics match guard.BuildWhereClause.
func Condition(filters []models.Filter) Fragment {
	preds, err := guard.FilterPredicates(filters)
	if err != nil {
		return Fragment{err: err}
	}
	frags := make([]Fragment, len(preds))
	for i, p := range preds {
		frags[i] = Raw(p)
	}
	return And(frags...)
}
