package models

import "time"

// QueryRequest is an interactive query submitted by a caller.
type QueryRequest struct {
	SQL   string   `json:"sql"`
	Limit *float64 `json:"limit,omitempty"`
}

// QueryResult is the parallel columns+rows form of a result set. Row values
// are nil, float64, string or bool (and nested []any / map[string]any for
// list and struct columns).
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RowCount returns the number of rows.
func (r *QueryResult) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Row returns row i as a column-name keyed map, or nil when out of range.
func (r *QueryResult) Row(i int) map[string]any {
	if r == nil || i < 0 || i >= len(r.Rows) {
		return nil
	}
	out := make(map[string]any, len(r.Columns))
	for j, col := range r.Columns {
		if j < len(r.Rows[i]) {
			out[col] = r.Rows[i][j]
		}
	}
	return out
}

// QueryMeta accompanies a successful interactive query.
type QueryMeta struct {
	Limit         int           `json:"limit"`
	RowCount      int           `json:"rowCount"`
	QueryKind     string        `json:"queryKind"`
	ExecutionTime time.Duration `json:"-"`
}

// QueryResponse is the success payload of an interactive query.
type QueryResponse struct {
	Columns []string  `json:"columns"`
	Rows    [][]any   `json:"rows"`
	Meta    QueryMeta `json:"-"`
}

// FilterValue is a scalar filter operand: nil, string, float64/int or bool.
type FilterValue = any

// Filter restricts Column to one value or, when Values is set, to a set of
// values. A nil inside Values matches NULL.
type Filter struct {
	Column string        `json:"column"`
	Value  FilterValue   `json:"value,omitempty"`
	Values []FilterValue `json:"values,omitempty"`
	IsSet  bool          `json:"-"`
}

// Eq builds a single-value filter.
func Eq(column string, value FilterValue) Filter {
	return Filter{Column: column, Value: value}
}

// OneOf builds a set filter.
func OneOf(column string, values ...FilterValue) Filter {
	return Filter{Column: column, Values: values, IsSet: true}
}

// CrosstabCell is one (x, y) count.
type CrosstabCell struct {
	X     any     `json:"x"`
	Y     any     `json:"y"`
	Count float64 `json:"count"`
}

// Crosstab is a grouped two-column count table.
type Crosstab struct {
	X     string         `json:"x"`
	Y     string         `json:"y"`
	Rows  []CrosstabCell `json:"rows"`
	Limit int            `json:"-"`
}

// ValueCount is one value of a categorical column.
type ValueCount struct {
	Value      any     `json:"value"`
	Count      float64 `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ColumnStats summarizes a single column.
type ColumnStats struct {
	Column       string       `json:"column"`
	LogicalType  LogicalType  `json:"logicalType"`
	Kind         string       `json:"kind"`
	TotalCount   float64      `json:"totalCount"`
	NonNullCount float64      `json:"nonNullCount"`
	NullCount    float64      `json:"nullCount"`
	Mean         *float64     `json:"mean,omitempty"`
	Stddev       *float64     `json:"stddev,omitempty"`
	Min          *float64     `json:"min,omitempty"`
	P25          *float64     `json:"p25,omitempty"`
	Median       *float64     `json:"median,omitempty"`
	P75          *float64     `json:"p75,omitempty"`
	Max          *float64     `json:"max,omitempty"`
	TopValues    []ValueCount `json:"topValues,omitempty"`
}
