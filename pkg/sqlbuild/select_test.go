package sqlbuild

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
)

func TestSelect_Build(t *testing.T) {
	a, b := Col("a"), Col("b")
	sql, err := Select(
		CastVarchar(a).As("a_val"),
		CastVarchar(b).As("b_val"),
		CountStar().Typed("BIGINT").As("cnt"),
	).
		From(Table("data")).
		Where(IsNotNull(a), IsNotNull(b)).
		GroupByOrdinal(1, 2).
		Build()

	require.NoError(t, err)
	assert.Equal(t,
		`SELECT cast("a" AS VARCHAR) AS "a_val", cast("b" AS VARCHAR) AS "b_val", count(*)::BIGINT AS "cnt" `+
			`FROM "data" WHERE "a" IS NOT NULL AND "b" IS NOT NULL GROUP BY 1, 2`,
		sql)
}

func TestSelect_FilterOrderLimit(t *testing.T) {
	m := Col("m")
	sql, err := Select(
		Avg(CastDouble(m)).Filter(Eq(Col("g"), Lit(1))).As("mean_a"),
	).
		From(Table("data")).
		OrderBy(Raw("1").Desc()).
		Limit(5).
		Build()

	require.NoError(t, err)
	assert.Equal(t,
		`SELECT avg(cast("m" AS DOUBLE)) FILTER (WHERE "g" = 1) AS "mean_a" FROM "data" ORDER BY 1 DESC LIMIT 5`,
		sql)
}

func TestSelect_WithAndJoins(t *testing.T) {
	bounds := Select(Min(Col("x")).As("lo")).From(Table("data"))
	sql, err := Select(Raw("*")).
		With("bounds", bounds).
		From(Table("data")).
		CrossJoin(Raw("bounds")).
		Build()

	require.NoError(t, err)
	assert.Equal(t,
		`WITH bounds AS (SELECT min("x") AS "lo" FROM "data") SELECT * FROM "data" CROSS JOIN bounds`,
		sql)
}

func TestSelect_QuotesUntrustedInput(t *testing.T) {
	sql, err := Select(CountStar()).
		From(Table("data")).
		Where(Eq(Col(`x" OR 1=1 --`), Lit("it's"))).
		Build()

	require.NoError(t, err)
	assert.Equal(t, `SELECT count(*) FROM "data" WHERE "x"" OR 1=1 --" = 'it''s'`, sql)
}

func TestSelect_PropagatesLiteralErrors(t *testing.T) {
	_, err := Select(CountStar()).
		From(Table("data")).
		Where(Eq(Col("x"), Lit(math.NaN()))).
		Build()

	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidLiteral, errors.GetCode(err))

	_, err = Select(Sub(Select(Lit(math.Inf(1))))).Build()
	assert.Equal(t, errors.CodeInvalidLiteral, errors.GetCode(err))
}

func TestUnionAll(t *testing.T) {
	u := UnionAll(Select(Int(1)), Select(Int(2)))
	require.NoError(t, u.Err())
	assert.Equal(t, "(SELECT 1) UNION ALL (SELECT 2)", u.String())
}

func TestCondition(t *testing.T) {
	assert.Equal(t, "TRUE", Condition(nil).String())

	c := Condition([]models.Filter{
		models.Eq("politics", "Liberal"),
		models.Eq("biomale", 1.0),
	})
	require.NoError(t, c.Err())
	assert.Equal(t, `"politics" = 'Liberal' AND "biomale" = 1`, c.String())

	c = Condition([]models.Filter{models.Eq("x", math.Inf(-1))})
	assert.Error(t, c.Err())
}

func TestPredicates(t *testing.T) {
	assert.Equal(t, `"a" IS NULL`, IsNull(Col("a")).String())
	assert.Equal(t, `"b" <= 3`, Le(Col("b"), Int(3)).String())
	assert.Equal(t, `SUM(CASE WHEN "a" = 'x' THEN 1 ELSE 0 END)`, SumIf(Eq(Col("a"), Lit("x"))).String())
	assert.Equal(t, `quantile_cont("m", 0.5)`, QuantileCont(Col("m"), 0.5).String())
	assert.Equal(t, `try_cast("m" AS DOUBLE)`, TryCast(Col("m"), "DOUBLE").String())
	assert.Equal(t, `corr("a", "b")`, Corr(Col("a"), Col("b")).String())
}

func TestExpr(t *testing.T) {
	e := Expr("least(%s, greatest(1, %s))", Int(40), CastDouble(Col("m")))
	require.NoError(t, e.Err())
	assert.Equal(t, `least(40, greatest(1, cast("m" AS DOUBLE)))`, e.String())

	bad := Expr("coalesce(%s, 0)", Lit(math.NaN()))
	assert.Error(t, bad.Err())
}
