// Package models provides data structures shared by the query layer and the
// statistics services.
package models

import "time"

// LogicalType is the analysis-level type of a column, assigned by the
// schema profiler rather than inferred here.
type LogicalType string

const (
	LogicalCategorical LogicalType = "categorical"
	LogicalNumeric     LogicalType = "numeric"
	LogicalBoolean     LogicalType = "boolean"
	LogicalText        LogicalType = "text"
	LogicalUnknown     LogicalType = "unknown"
)

// CategoryTag groups columns by subject area.
type CategoryTag string

const (
	TagDemographic CategoryTag = "demographic"
	TagOcean       CategoryTag = "ocean"
	TagFetish      CategoryTag = "fetish"
	TagDerived     CategoryTag = "derived"
	TagOther       CategoryTag = "other"
)

// NullMeaning explains why a column has missing values.
type NullMeaning string

const (
	NullLateAdded     NullMeaning = "LATE_ADDED"
	NullNotApplicable NullMeaning = "NOT_APPLICABLE"
	NullGated         NullMeaning = "GATED"
	NullUnknown       NullMeaning = "UNKNOWN"
)

// Column describes one dataset column.
type Column struct {
	Name              string        `json:"name" yaml:"name"`
	DisplayName       string        `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	DuckDBType        string        `json:"duckdbType,omitempty" yaml:"duckdbType,omitempty"`
	LogicalType       LogicalType   `json:"logicalType" yaml:"logicalType"`
	NullRatio         float64       `json:"nullRatio" yaml:"nullRatio"`
	ApproxCardinality int           `json:"approxCardinality" yaml:"approxCardinality"`
	ApproxTopValues   []string      `json:"approxTopValues,omitempty" yaml:"approxTopValues,omitempty"`
	Tags              []CategoryTag `json:"tags,omitempty" yaml:"tags,omitempty"`
	NullMeaning       NullMeaning   `json:"nullMeaning,omitempty" yaml:"nullMeaning,omitempty"`
}

// HasTag reports whether the column carries tag.
func (c Column) HasTag(tag CategoryTag) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Label returns the display name, falling back to the column name.
func (c Column) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Name
}

// Dataset describes the dataset the schema was profiled from.
type Dataset struct {
	Name        string    `json:"name" yaml:"name"`
	SourcePath  string    `json:"sourcePath" yaml:"sourcePath"`
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt"`
	RowCount    int64     `json:"rowCount" yaml:"rowCount"`
	ColumnCount int       `json:"columnCount" yaml:"columnCount"`
}

// Schema is the column metadata document.
type Schema struct {
	Dataset Dataset  `json:"dataset" yaml:"dataset"`
	Columns []Column `json:"columns" yaml:"columns"`
}
