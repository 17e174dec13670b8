package handlers

import (
	"bytes"
	"encoding/json"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
)

// ParseFilters decodes a filter map {"column": value | [values...]} where
// values are strings, numbers, booleans or null. Filters keep the order of
// the keys in raw; a repeated key replaces the earlier value in place.
// Malformed JSON is INVALID_FILTERS; a well-formed document of the wrong
// shape is INVALID_REQUEST.
func ParseFilters(raw []byte) ([]models.Filter, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New(errors.CodeInvalidFilters, "filters must be valid JSON.")
	}

	var filters filterList
	if err := filters.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return filters, nil
}

// filterList is a JSON filter object decoded in key order.
type filterList []models.Filter

// UnmarshalJSON implements json.Unmarshaler.
func (l *filterList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidFilters, "filters must be valid JSON.")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New(errors.CodeInvalidRequest, "filters must be an object of column values.")
	}

	filters := filterList{}
	index := map[string]int{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidFilters, "filters must be valid JSON.")
		}
		col, _ := keyTok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return errors.Wrap(err, errors.CodeInvalidFilters, "filters must be valid JSON.")
		}
		f, err := filterFor(col, value)
		if err != nil {
			return err
		}

		if i, seen := index[col]; seen {
			filters[i] = f
			continue
		}
		index[col] = len(filters)
		filters = append(filters, f)
	}
	*l = filters
	return nil
}

func filterFor(col string, value any) (models.Filter, error) {
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if !isScalar(item) {
				return models.Filter{}, invalidFilter(col)
			}
		}
		return models.OneOf(col, list...), nil
	}
	if !isScalar(value) {
		return models.Filter{}, invalidFilter(col)
	}
	return models.Eq(col, value), nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, float64, bool:
		return true
	}
	return false
}

func invalidFilter(column string) error {
	return errors.New(errors.CodeInvalidRequest, "Query parameters failed validation.").
		WithDetail("filter", column)
}
