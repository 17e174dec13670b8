package guard

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
)

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"biomale"`, QuoteIdentifier("biomale"))
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
	assert.Equal(t, `"How often? (x)"`, QuoteIdentifier("How often? (x)"))
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"true", true, "TRUE"},
		{"false", false, "FALSE"},
		{"string", "Liberal", "'Liberal'"},
		{"quote", "it's", "'it''s'"},
		{"integer float", 3.0, "3"},
		{"fraction", 0.25, "0.25"},
		{"negative", -12.5, "-12.5"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuoteLiteral(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuoteLiteral_NonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := QuoteLiteral(f)
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidLiteral, errors.GetCode(err))
	}

	_, err := QuoteLiteral(struct{}{})
	assert.Equal(t, errors.CodeInvalidLiteral, errors.GetCode(err))
}

func TestBuildWhereClause(t *testing.T) {
	tests := []struct {
		name    string
		filters []models.Filter
		want    string
	}{
		{"none", nil, ""},
		{"eq", []models.Filter{models.Eq("politics", "Liberal")}, `WHERE "politics" = 'Liberal'`},
		{"null", []models.Filter{models.Eq("a", nil)}, `WHERE "a" IS NULL`},
		{
			"set",
			[]models.Filter{models.OneOf("a", "x", "y")},
			`WHERE "a" IN ('x', 'y')`,
		},
		{
			"set with null",
			[]models.Filter{models.OneOf("a", "x", nil)},
			`WHERE ("a" IN ('x') OR "a" IS NULL)`,
		},
		{
			"set of nulls",
			[]models.Filter{models.OneOf("a", nil, nil)},
			`WHERE "a" IS NULL`,
		},
		{"empty set", []models.Filter{models.OneOf("a")}, ""},
		{
			"anded in order",
			[]models.Filter{models.Eq("b", true), models.Eq("a", 1.5)},
			`WHERE "b" = TRUE AND "a" = 1.5`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildWhereClause(tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildWhereClause_InvalidLiteral(t *testing.T) {
	_, err := BuildWhereClause([]models.Filter{models.OneOf("a", math.Inf(1))})
	assert.Equal(t, errors.CodeInvalidLiteral, errors.GetCode(err))
}
