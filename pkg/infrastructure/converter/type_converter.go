package converter

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/TFMV/tally/pkg/models"
)

// logicalTypes maps DuckDB type names onto analysis-level types.
var logicalTypes = map[string]models.LogicalType{
	// Integer types
	"tinyint":   models.LogicalNumeric,
	"smallint":  models.LogicalNumeric,
	"integer":   models.LogicalNumeric,
	"int":       models.LogicalNumeric,
	"bigint":    models.LogicalNumeric,
	"hugeint":   models.LogicalNumeric,
	"utinyint":  models.LogicalNumeric,
	"usmallint": models.LogicalNumeric,
	"uinteger":  models.LogicalNumeric,
	"ubigint":   models.LogicalNumeric,

	// Floating point types
	"real":   models.LogicalNumeric,
	"float":  models.LogicalNumeric,
	"double": models.LogicalNumeric,

	// Boolean type
	"boolean": models.LogicalBoolean,
	"bool":    models.LogicalBoolean,

	// String types
	"varchar": models.LogicalCategorical,
	"text":    models.LogicalCategorical,
	"string":  models.LogicalCategorical,
	"enum":    models.LogicalCategorical,
}

// LogicalTypeOf maps a DuckDB type name to a logical type. DECIMAL(p,s) is
// numeric; anything unrecognized is unknown.
func LogicalTypeOf(duckdbType string) models.LogicalType {
	t := strings.ToLower(strings.TrimSpace(duckdbType))
	if lt, ok := logicalTypes[t]; ok {
		return lt
	}
	if strings.HasPrefix(t, "decimal") || strings.HasPrefix(t, "numeric") {
		return models.LogicalNumeric
	}
	if strings.HasPrefix(t, "enum") {
		return models.LogicalCategorical
	}
	return models.LogicalUnknown
}

// ArrowTypeOf infers the Arrow type of one normalized result column. A
// column whose non-nil values are all float64 is Float64, all bool is
// Boolean; everything else, including all-nil columns, is String.
func ArrowTypeOf(values []any) arrow.DataType {
	var sawFloat, sawBool, sawOther bool
	for _, v := range values {
		switch v.(type) {
		case nil:
		case float64:
			sawFloat = true
		case bool:
			sawBool = true
		default:
			sawOther = true
		}
	}

	switch {
	case sawOther || (sawFloat && sawBool):
		return arrow.BinaryTypes.String
	case sawFloat:
		return arrow.PrimitiveTypes.Float64
	case sawBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema builds the Arrow schema of a normalized result.
func ArrowSchema(res *models.QueryResult) *arrow.Schema {
	fields := make([]arrow.Field, len(res.Columns))
	column := make([]any, len(res.Rows))

	for j, name := range res.Columns {
		for i, row := range res.Rows {
			column[i] = nil
			if j < len(row) {
				column[i] = row[j]
			}
		}
		fields[j] = arrow.Field{Name: name, Type: ArrowTypeOf(column), Nullable: true}
	}

	return arrow.NewSchema(fields, nil)
}
