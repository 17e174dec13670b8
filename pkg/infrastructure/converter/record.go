package converter

import (
	"encoding/json"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
)

// BuildRecord converts a normalized result into one Arrow record using
// ArrowSchema. The caller releases the record.
func BuildRecord(allocator memory.Allocator, res *models.QueryResult) (arrow.Record, error) {
	schema := ArrowSchema(res)

	builder := array.NewRecordBuilder(allocator, schema)
	defer builder.Release()

	for _, row := range res.Rows {
		for j := range res.Columns {
			var v any
			if j < len(row) {
				v = row[j]
			}
			if err := appendValue(builder.Field(j), v); err != nil {
				return nil, errors.Wrapf(err, errors.CodeInternal, "failed to append value for column %q", res.Columns[j])
			}
		}
	}

	return builder.NewRecord(), nil
}

// appendValue appends a normalized value to the builder of its column.
func appendValue(fb array.Builder, value any) error {
	if value == nil {
		fb.AppendNull()
		return nil
	}

	switch b := fb.(type) {
	case *array.Float64Builder:
		f, ok := value.(float64)
		if !ok {
			return errors.Newf(errors.CodeInternal, "unexpected %T in float column", value)
		}
		b.Append(f)
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return errors.Newf(errors.CodeInternal, "unexpected %T in boolean column", value)
		}
		b.Append(v)
	case *array.StringBuilder:
		b.Append(toString(value))
	default:
		return errors.Newf(errors.CodeInternal, "unexpected builder %T", fb)
	}

	return nil
}

// toString renders a normalized value for a string column. Nested values
// are JSON encoded.
func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
