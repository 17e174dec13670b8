package guard

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/tally/pkg/errors"
)

func ptr(f float64) *float64 { return &f }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SELECT 1", "SELECT 1"},
		{"whitespace", "  SELECT 1 \n\t", "SELECT 1"},
		{"trailing semicolons", "SELECT 1;;;", "SELECT 1"},
		{"semicolon then space", "SELECT 1 ;  ", "SELECT 1 "},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestEnsureReadOnly(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		code string
	}{
		{"select", "SELECT * FROM data", ""},
		{"with", "with t as (select 1) select * from t", ""},
		{"describe", "DESCRIBE data", ""},
		{"explain", "explain select * from data", ""},
		{"trailing semicolon", "SELECT 1;", ""},
		{"empty", "", errors.CodeEmptySQL},
		{"only semicolons", " ;; ", errors.CodeEmptySQL},
		{"two statements", "SELECT 1; SELECT 2", errors.CodeMultiStatement},
		{"semicolon in literal", "SELECT 'a;b'", errors.CodeMultiStatement},
		{"show", "SHOW TABLES", errors.CodeReadOnlyRequired},
		{"insert", "INSERT INTO data VALUES (1)", errors.CodeReadOnlyRequired},
		{"selected prefix", "SELECTED 1", errors.CodeReadOnlyRequired},
		{"drop inside select", "SELECT * FROM data WHERE drop = 1", errors.CodeMutatingSQL},
		{"copy lowercase", "with x as (select 1) select * from x where 1 = (copy)", errors.CodeMutatingSQL},
		{"replace function", "SELECT replace(a, 'x', 'y') FROM data", errors.CodeMutatingSQL},
		{"keyword as substring", "SELECT created_at, updated FROM data", ""},
		{"multi precedes mutating", "SELECT 1; DROP TABLE data", errors.CodeMultiStatement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EnsureReadOnly(tt.sql)
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, Normalize(tt.sql), got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit *float64
		want  int
	}{
		{"nil", nil, DefaultLimit},
		{"nan", ptr(math.NaN()), DefaultLimit},
		{"zero", ptr(0), 1},
		{"negative", ptr(-5), 1},
		{"one", ptr(1), 1},
		{"in range", ptr(250), 250},
		{"fraction", ptr(12.9), 12},
		{"hard limit", ptr(HardLimit), HardLimit},
		{"above", ptr(50000), HardLimit},
		{"positive infinity", ptr(math.Inf(1)), HardLimit},
		{"negative infinity", ptr(math.Inf(-1)), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampLimit(tt.limit, DefaultLimit))
		})
	}
}

func TestApplyLimit(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM (SELECT a FROM data) AS bounded_query LIMIT 10",
		ApplyLimit("SELECT a FROM data;", 10))
	assert.Equal(t, "DESCRIBE data", ApplyLimit("DESCRIBE data", 10))
	assert.Equal(t, "explain select 1", ApplyLimit("explain select 1;", 10))
}

func TestGuard(t *testing.T) {
	g, err := Guard("  select a from data;", ptr(25))
	require.NoError(t, err)
	assert.Equal(t, "select a from data", g.Normalized)
	assert.Equal(t, 25, g.Limit)
	assert.Equal(t, "SELECT", g.Kind)
	assert.Equal(t, "SELECT * FROM (select a from data) AS bounded_query LIMIT 25", g.SQL)

	_, err = Guard("DELETE FROM data", nil)
	assert.Equal(t, errors.CodeReadOnlyRequired, errors.GetCode(err))
}

func TestGuard_OutputIsReadOnlyWithSingleLimit(t *testing.T) {
	inputs := []string{
		"SELECT * FROM data",
		"WITH a AS (SELECT 1 AS x) SELECT x FROM a",
		"select count(*) from data group by 1",
	}

	for _, in := range inputs {
		g, err := Guard(in, ptr(42))
		require.NoError(t, err)

		again, err := EnsureReadOnly(g.SQL)
		require.NoError(t, err, in)
		assert.Equal(t, g.SQL, again)

		outer := strings.LastIndex(g.SQL, ") AS bounded_query LIMIT ")
		require.Positive(t, outer)
		assert.Equal(t, 1, strings.Count(g.SQL, "bounded_query LIMIT"))
		assert.True(t, strings.HasSuffix(g.SQL, "LIMIT 42"))
	}
}

func TestQueryKind(t *testing.T) {
	assert.Equal(t, "WITH", QueryKind("with x as (select 1) select * from x"))
	assert.Equal(t, "DESCRIBE", QueryKind("  describe data"))
	assert.Equal(t, "UNKNOWN", QueryKind(""))
}

func TestInspect(t *testing.T) {
	adv := Inspect("hello")
	assert.False(t, adv.Suspicious)

	adv = Inspect("1' OR '1'='1")
	assert.True(t, adv.Suspicious)
	assert.NotEmpty(t, adv.Fingerprint)
}
