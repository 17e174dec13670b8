// Package converter turns engine output, either CLI JSON or native driver
// values, into the ordered, JSON-safe rows of a query result.
package converter

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
)

// RowObject is a row keyed by column name that remembers key order.
// Setting an existing key replaces the value and keeps the first position.
type RowObject struct {
	keys   []string
	values map[string]any
}

// NewRowObject returns an empty row sized for n columns.
func NewRowObject(n int) *RowObject {
	return &RowObject{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

// Set stores v under key.
func (r *RowObject) Set(key string, v any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value under key.
func (r *RowObject) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in first-seen order.
func (r *RowObject) Keys() []string { return r.keys }

// Len returns the number of distinct keys.
func (r *RowObject) Len() int { return len(r.keys) }

// Map returns the row as a plain map.
func (r *RowObject) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// ToResult converts row objects into columns and rows. Columns come from the
// key order of the first row; an empty input has no columns.
func ToResult(objects []*RowObject) *models.QueryResult {
	res := &models.QueryResult{Columns: []string{}, Rows: [][]any{}}
	if len(objects) == 0 {
		return res
	}

	res.Columns = append(res.Columns, objects[0].Keys()...)
	res.Rows = make([][]any, len(objects))
	for i, obj := range objects {
		row := make([]any, len(res.Columns))
		for j, col := range res.Columns {
			row[j], _ = obj.Get(col)
		}
		res.Rows[i] = row
	}
	return res
}

// DecodeJSONRows parses the CLI's JSON output: a top-level array of
// objects. Empty or whitespace-only input is an empty result. Numbers are
// decoded exactly and then normalized.
func DecodeJSONRows(data []byte) ([]*RowObject, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, invalidOutput(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, errors.New(errors.CodeInvalidOutput, "DuckDB output was not a JSON array.")
	}

	var rows []*RowObject
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, invalidOutput(err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, errors.New(errors.CodeInvalidOutput, "DuckDB output rows must be JSON objects.")
		}
		row, err := decodeObject(dec)
		if err != nil {
			return nil, invalidOutput(err)
		}
		rows = append(rows, row)
	}

	if _, err := dec.Token(); err != nil {
		return nil, invalidOutput(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New(errors.CodeInvalidOutput, "Unexpected data after DuckDB JSON output.")
	}

	return rows, nil
}

func invalidOutput(err error) error {
	return errors.Wrap(err, errors.CodeInvalidOutput, "Failed to parse DuckDB JSON output.")
}

// decodeObject reads an object body after its opening brace.
func decodeObject(dec *json.Decoder) (*RowObject, error) {
	row := NewRowObject(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New(errors.CodeInvalidOutput, "JSON object key is not a string.")
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		row.Set(key, v)
	}
	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return row, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			return obj.Map(), nil
		case '[':
			list := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		default:
			return nil, errors.Newf(errors.CodeInvalidOutput, "Unexpected JSON delimiter %q.", t.String())
		}
	default:
		return Normalize(t), nil
	}
}
