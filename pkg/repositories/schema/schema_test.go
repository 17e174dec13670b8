package schema

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories/duckdb"
)

const jsonSchema = `{
  "dataset": {"name": "Survey", "sourcePath": "data/survey.parquet", "rowCount": 1200, "columnCount": 3},
  "columns": [
    {"name": "politics", "displayName": "Politics", "duckdbType": "VARCHAR", "logicalType": "categorical", "nullRatio": 0.01, "approxCardinality": 5, "tags": ["demographic"]},
    {"name": "opennessvariable", "displayName": "Openness", "duckdbType": "DOUBLE", "nullRatio": 0.2, "approxCardinality": 40},
    {"name": "politics", "displayName": "Duplicate", "duckdbType": "VARCHAR"}
  ]
}`

const yamlSchema = `
dataset:
  name: Survey
  rowCount: 10
columns:
  - name: biomale
    displayName: Biological Sex
    duckdbType: BOOLEAN
  - name: age
    duckdbType: BIGINT
    logicalType: numeric
`

func TestParse_JSON(t *testing.T) {
	repo, err := Parse([]byte(jsonSchema))
	require.NoError(t, err)

	assert.Equal(t, "Survey", repo.Dataset().Name)
	assert.Equal(t, int64(1200), repo.Dataset().RowCount)
	require.Len(t, repo.Columns(), 3)

	openness, ok := repo.Column("opennessvariable")
	require.True(t, ok)
	assert.Equal(t, models.LogicalNumeric, openness.LogicalType)

	byLabel, ok := repo.Column("Openness")
	require.True(t, ok)
	assert.Equal(t, "opennessvariable", byLabel.Name)

	first, ok := repo.Column("politics")
	require.True(t, ok)
	assert.Equal(t, "Politics", first.DisplayName)

	_, ok = repo.Column("nope")
	assert.False(t, ok)
}

func TestParse_YAML(t *testing.T) {
	repo, err := Parse([]byte(yamlSchema))
	require.NoError(t, err)

	sex, ok := repo.Column("Biological Sex")
	require.True(t, ok)
	assert.Equal(t, "biomale", sex.Name)
	assert.Equal(t, models.LogicalBoolean, sex.LogicalType)

	age, _ := repo.Column("age")
	assert.Equal(t, models.LogicalNumeric, age.LogicalType)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"columns": [`))
	require.Error(t, err)
	assert.Equal(t, errors.CodeSchemaUnavailable, errors.GetCode(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeSchemaUnavailable, errors.GetCode(err))
}

func TestWriteAndLoad(t *testing.T) {
	s := models.Schema{
		Dataset: models.Dataset{Name: "Survey", RowCount: 3, ColumnCount: 1},
		Columns: []models.Column{{
			Name: "politics", DisplayName: "Politics", DuckDBType: "VARCHAR",
			LogicalType: models.LogicalCategorical, ApproxCardinality: 4,
			Tags: []models.CategoryTag{models.TagDemographic}, NullMeaning: models.NullUnknown,
		}},
	}

	for _, name := range []string{"columns.json", "columns.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, Write(path, s))

			repo, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, s.Columns, repo.Columns())
			assert.Equal(t, "Survey", repo.Dataset().Name)
		})
	}
}

// scriptedExecutor answers queries by the first matching SQL fragment.
type scriptedExecutor struct {
	answers []scripted
	seen    []string
}

type scripted struct {
	contains string
	result   *models.QueryResult
}

func (s *scriptedExecutor) Execute(_ context.Context, sql string, _ time.Duration) (*models.QueryResult, error) {
	s.seen = append(s.seen, sql)
	for _, a := range s.answers {
		if strings.Contains(sql, a.contains) {
			return a.result, nil
		}
	}
	return &models.QueryResult{Columns: []string{}, Rows: [][]any{}}, nil
}

func (s *scriptedExecutor) QueryRow(ctx context.Context, sql string, timeout time.Duration) (map[string]any, error) {
	res, err := s.Execute(ctx, sql, timeout)
	if err != nil {
		return nil, err
	}
	if row := res.Row(0); row != nil {
		return row, nil
	}
	return map[string]any{}, nil
}

func result(columns []string, rows ...[]any) *models.QueryResult {
	return &models.QueryResult{Columns: columns, Rows: rows}
}

func TestProfiler_Profile(t *testing.T) {
	exec := &scriptedExecutor{answers: []scripted{
		{`AS "row_count"`, result([]string{"row_count"}, []any{100.0})},
		{`DESCRIBE "data"`, result([]string{"column_name", "column_type"},
			[]any{"politics", "VARCHAR"},
			[]any{"agreeablenessvariable", "DOUBLE"},
		)},
		{`count("politics")`, result([]string{"total_count", "non_null_count", "approx_cardinality"}, []any{100.0, 90.0, 3.0})},
		{`count("agreeablenessvariable")`, result([]string{"total_count", "non_null_count", "approx_cardinality"}, []any{100.0, 60.0, 45.0})},
		{`cast("politics" AS VARCHAR) AS "value"`, result([]string{"value", "cnt"}, []any{"Liberal", 50.0}, []any{"", 20.0}, []any{"Moderate", 20.0})},
	}}

	p := NewProfiler(exec, zerolog.Nop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	s, err := p.Profile(context.Background(), ProfileOptions{DatasetName: "Survey", Labels: map[string]string{"politics": "Political Views"}})
	require.NoError(t, err)

	assert.Equal(t, int64(100), s.Dataset.RowCount)
	assert.Equal(t, 2, s.Dataset.ColumnCount)
	assert.Equal(t, fixed, s.Dataset.GeneratedAt)

	require.Len(t, s.Columns, 2)
	agree, politics := s.Columns[0], s.Columns[1]

	assert.Equal(t, "agreeablenessvariable", agree.Name)
	assert.Equal(t, models.LogicalNumeric, agree.LogicalType)
	assert.Equal(t, 0.4, agree.NullRatio)
	assert.Equal(t, models.NullGated, agree.NullMeaning)
	assert.Equal(t, []models.CategoryTag{models.TagOcean, models.TagDerived}, agree.Tags)
	assert.Empty(t, agree.ApproxTopValues)

	assert.Equal(t, "Political Views", politics.DisplayName)
	assert.Equal(t, models.LogicalCategorical, politics.LogicalType)
	assert.Equal(t, 0.1, politics.NullRatio)
	assert.Equal(t, []string{"Liberal", "Moderate"}, politics.ApproxTopValues)
	assert.Equal(t, []models.CategoryTag{models.TagDemographic}, politics.Tags)

	require.NotEmpty(t, exec.seen)
	for _, q := range exec.seen {
		assert.Contains(t, q, `"`+duckdb.DataTable+`"`)
	}
}

func TestInferLogicalType(t *testing.T) {
	tests := []struct {
		name, typ string
		card      int
		want      models.LogicalType
	}{
		{"biomale", "BOOLEAN", 2, models.LogicalBoolean},
		{"politics", "VARCHAR", 5, models.LogicalCategorical},
		{"comments", "VARCHAR", 5000, models.LogicalText},
		{"spanking", "BIGINT", 6, models.LogicalCategorical},
		{"age", "BIGINT", 60, models.LogicalNumeric},
		{"totalfetishcategory", "BIGINT", 15, models.LogicalNumeric},
		{"weight", "DECIMAL(5,2)", 3, models.LogicalNumeric},
		{"submitted", "TIMESTAMP", 900, models.LogicalText},
		{"blob", "BLOB", 10, models.LogicalUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferLogicalType(tt.name, tt.typ, tt.card), tt.name)
	}
}

func TestInferTags(t *testing.T) {
	assert.Equal(t, []models.CategoryTag{models.TagDemographic}, InferTags("politics"))
	assert.Equal(t, []models.CategoryTag{models.TagFetish}, InferTags("spanking"))
	assert.Equal(t, []models.CategoryTag{models.TagOther}, InferTags("marriage100blood"))
	// "bondage" contains "age"
	assert.Equal(t, []models.CategoryTag{models.TagDemographic, models.TagFetish, models.TagDerived}, InferTags("bondageaverage"))
}

func TestInferNullMeaning(t *testing.T) {
	assert.Equal(t, models.NullLateAdded, InferNullMeaning("question_v2", 0))
	assert.Equal(t, models.NullNotApplicable, InferNullMeaning("pregnancy_history", 0.2))
	assert.Equal(t, models.NullGated, InferNullMeaning("spanking", 0.5))
	assert.Equal(t, models.NullUnknown, InferNullMeaning("spanking", 0.1))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Override", DisplayName("x", map[string]string{"x": "Override"}))
	assert.Equal(t, "I am aroused by being dominant in sexual interactions",
		DisplayName(`"I am aroused by being dominant in sexual interactions" (6w3xquw)`, nil))
	assert.Equal(t, "Total Mental Illness", DisplayName("TotalMentalIllness", nil))
	assert.Equal(t, "Childhood Adversity", DisplayName("childhood_adversity", nil))
	assert.Equal(t, "BMI Score", DisplayName("BMI_score", nil))

	long := DisplayName(strings.Repeat("word ", 20)+"(x)", nil)
	assert.LessOrEqual(t, len([]rune(long)), maxDisplayName)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestLoadLabels(t *testing.T) {
	labels, err := LoadLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "labels.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"biomale": "Biological Sex", "age": "Age"}`), 0o600))
	labels, err = LoadLabels(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"biomale": "Biological Sex", "age": "Age"}, labels)

	_, err = LoadLabels(filepath.Join(dir, "missing.json"))
	assert.Equal(t, errors.CodeSchemaUnavailable, errors.GetCode(err))
}
