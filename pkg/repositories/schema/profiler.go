package schema

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories"
	"github.com/TFMV/tally/pkg/repositories/duckdb"
	"github.com/TFMV/tally/pkg/sqlbuild"
)

// ProfileOptions tune a profiling run.
type ProfileOptions struct {
	DatasetName string
	SourcePath  string
	// Labels override generated display names by column name.
	Labels  map[string]string
	Timeout time.Duration
}

// Profiler derives column metadata from the dataset itself.
type Profiler struct {
	exec   repositories.Executor
	logger zerolog.Logger
	now    func() time.Time
}

// NewProfiler creates a profiler running its queries on exec.
func NewProfiler(exec repositories.Executor, logger zerolog.Logger) *Profiler {
	return &Profiler{
		exec:   exec,
		logger: logger.With().Str("component", "schema_profiler").Logger(),
		now:    time.Now,
	}
}

const (
	categoricalTextMax    = 120
	categoricalNumericMax = 20
	topValueCount         = 5
)

// Profile describes every column of the dataset: type, null ratio,
// approximate cardinality, top values, inferred logical type and tags.
// Columns are sorted by name.
func (p *Profiler) Profile(ctx context.Context, opts ProfileOptions) (models.Schema, error) {
	countSQL, err := sqlbuild.Select(sqlbuild.CountStar().Typed("BIGINT").As("row_count")).
		From(sqlbuild.Table(duckdb.DataTable)).Build()
	if err != nil {
		return models.Schema{}, err
	}
	countRow, err := p.exec.QueryRow(ctx, countSQL, opts.Timeout)
	if err != nil {
		return models.Schema{}, errors.Wrap(err, errors.GetCode(err), "failed to count rows")
	}
	rowCount := converter.FloatOr(countRow["row_count"], 0)

	described, err := p.exec.Execute(ctx, "DESCRIBE "+sqlbuild.Table(duckdb.DataTable).String(), opts.Timeout)
	if err != nil {
		return models.Schema{}, errors.Wrap(err, errors.GetCode(err), "failed to describe dataset")
	}

	columns := make([]models.Column, 0, described.RowCount())
	for i := range described.Rows {
		row := described.Row(i)
		name := converter.String(row["column_name"])
		duckdbType := converter.String(row["column_type"])

		col, err := p.profileColumn(ctx, name, duckdbType, rowCount, opts)
		if err != nil {
			return models.Schema{}, err
		}
		columns = append(columns, col)
	}

	slices.SortFunc(columns, func(a, b models.Column) int { return strings.Compare(a.Name, b.Name) })

	p.logger.Info().Int("columns", len(columns)).Float64("rows", rowCount).Msg("Profiled dataset")

	return models.Schema{
		Dataset: models.Dataset{
			Name:        opts.DatasetName,
			SourcePath:  opts.SourcePath,
			GeneratedAt: p.now().UTC(),
			RowCount:    int64(rowCount),
			ColumnCount: len(columns),
		},
		Columns: columns,
	}, nil
}

func (p *Profiler) profileColumn(ctx context.Context, name, duckdbType string, rowCount float64, opts ProfileOptions) (models.Column, error) {
	col := sqlbuild.Col(name)
	metricsSQL, err := sqlbuild.Select(
		sqlbuild.CountStar().Typed("BIGINT").As("total_count"),
		sqlbuild.Func("count", col).Typed("BIGINT").As("non_null_count"),
		sqlbuild.Func("approx_count_distinct", col).Typed("BIGINT").As("approx_cardinality"),
	).From(sqlbuild.Table(duckdb.DataTable)).Build()
	if err != nil {
		return models.Column{}, err
	}

	m, err := p.exec.QueryRow(ctx, metricsSQL, opts.Timeout)
	if err != nil {
		return models.Column{}, errors.Wrapf(err, errors.GetCode(err), "failed to profile column %q", name)
	}

	total := converter.FloatOr(m["total_count"], rowCount)
	nonNull := converter.FloatOr(m["non_null_count"], 0)
	cardinality := int(converter.FloatOr(m["approx_cardinality"], 0))

	nullRatio := 0.0
	if total > 0 {
		nullRatio = (total - nonNull) / total
	}

	c := models.Column{
		Name:              name,
		DisplayName:       DisplayName(name, opts.Labels),
		DuckDBType:        duckdbType,
		LogicalType:       InferLogicalType(name, duckdbType, cardinality),
		NullRatio:         roundRatio(nullRatio),
		ApproxCardinality: cardinality,
		Tags:              InferTags(name),
		NullMeaning:       InferNullMeaning(name, nullRatio),
	}

	if c.LogicalType == models.LogicalCategorical && cardinality <= categoricalTextMax && nonNull > 0 {
		top, err := p.topValues(ctx, name, opts.Timeout)
		if err != nil {
			return models.Column{}, err
		}
		c.ApproxTopValues = top
	}
	return c, nil
}

func (p *Profiler) topValues(ctx context.Context, name string, timeout time.Duration) ([]string, error) {
	col := sqlbuild.Col(name)
	query, err := sqlbuild.Select(
		sqlbuild.CastVarchar(col).As("value"),
		sqlbuild.CountStar().Typed("BIGINT").As("cnt"),
	).
		From(sqlbuild.Table(duckdb.DataTable)).
		Where(sqlbuild.IsNotNull(col)).
		GroupByOrdinal(1).
		OrderBy(sqlbuild.Col("cnt").Desc()).
		Limit(topValueCount).
		Build()
	if err != nil {
		return nil, err
	}

	res, err := p.exec.Execute(ctx, query, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, errors.GetCode(err), "failed to read top values of %q", name)
	}

	var out []string
	for i := range res.Rows {
		if v := converter.String(res.Row(i)["value"]); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func roundRatio(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}

var (
	numericTypePattern    = regexp.MustCompile(`(?i)(TINYINT|SMALLINT|INTEGER|BIGINT|HUGEINT|UTINYINT|USMALLINT|UINTEGER|UBIGINT|FLOAT|DOUBLE|DECIMAL|REAL)`)
	textTypePattern       = regexp.MustCompile(`(?i)varchar|char|string|text|uuid`)
	temporalTypePattern   = regexp.MustCompile(`(?i)date|time|timestamp`)
	continuousNamePattern = regexp.MustCompile(`(?i)(average|variable|count|score|years?|total|height|weight|ratio|percent)`)
	oceanPattern          = regexp.MustCompile(`(?i)(openness|consciensiousness|extroversion|neuroticism|agreeableness)`)
	derivedPattern        = regexp.MustCompile(`(?i)(^total|average|variable)`)
	lateAddedPattern      = regexp.MustCompile(`(?i)(late|newly added|added later|followup|follow_up|second wave|third wave|v2|v3)`)
	notApplicablePattern  = regexp.MustCompile(`(?i)(pregnan|menstru|period|erection|penis|vagina|prostate|breastfeed|bio ?male|bio ?female|cis ?male|cis ?female)`)
	quotedQuestion        = regexp.MustCompile(`^"(.+)"\s+\([^)]+\)$`)
	plainIdentifier       = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	camelBoundary         = regexp.MustCompile(`([a-z])([A-Z])`)
	separatorRun          = regexp.MustCompile(`[_-]+`)
	spaceRun              = regexp.MustCompile(`\s+`)
	shortUpperToken       = regexp.MustCompile(`^[A-Z0-9]+$`)
)

// InferLogicalType classifies a column from its engine type and
// cardinality. Low-cardinality integer codes count as categorical unless
// their name marks them as a measurement.
func InferLogicalType(name, duckdbType string, cardinality int) models.LogicalType {
	switch {
	case strings.EqualFold(duckdbType, "BOOLEAN"):
		return models.LogicalBoolean
	case textTypePattern.MatchString(duckdbType):
		if cardinality <= categoricalTextMax {
			return models.LogicalCategorical
		}
		return models.LogicalText
	case numericTypePattern.MatchString(duckdbType):
		if cardinality <= categoricalNumericMax && !continuousNamePattern.MatchString(name) {
			return models.LogicalCategorical
		}
		return models.LogicalNumeric
	case temporalTypePattern.MatchString(duckdbType):
		return models.LogicalText
	}
	return models.LogicalUnknown
}

var derivedColumns = map[string]bool{
	"straightness":               true,
	"childhood_adversity":        true,
	"childhood_gender_tolerance": true,
	"TotalMentalIllness":         true,
	"opennessvariable":           true,
	"consciensiousnessvariable":  true,
	"extroversionvariable":       true,
	"neuroticismvariable":        true,
	"agreeablenessvariable":      true,
	"powerlessnessvariable":      true,
	"totalfetishcategory":        true,
	"bondageaverage":             true,
}

var demographicHints = []string{
	"age", "gender", "male", "female", "cis", "trans", "politics", "bmi", "relationship",
	"education", "income", "childhood", "straightness", "orientation", "liberated",
}

var demographicExclusions = map[string]bool{"marriage100blood": true}

var fetishHints = []string{
	"fetish", "bondage", "nonconsent", "sadism", "masoch", "submission", "dominant", "kink",
	"erotic", "sexual", "voyeur", "exhibition", "humiliation", "transformation",
}

var fetishColumns = map[string]bool{
	`"I find scenarios where I eagerly beg others to be:" (jvrbyep)`:  true,
	`"I find scenarios where others eagerly beg me to be:" (stmm5eg)`: true,
	"appearance": true, "bestiality": true, "brutality": true, "cgl": true, "clothing": true,
	"creepy": true, "dirty": true, "eagerness": true, "frustration": true, "futa": true,
	"gentleness": true, "incest": true, "multiplepartners": true, "mythical": true,
	"objects": true, "pregnancy": true, "roles": true, "secretions": true, "sensory": true,
	"spanking": true, "teasing": true, "toys": true, "vore": true, "worshipped": true,
	"worshipping": true,
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

// InferTags assigns subject tags from the column name; a column matching
// nothing is tagged other.
func InferTags(name string) []models.CategoryTag {
	lower := strings.ToLower(name)
	var tags []models.CategoryTag

	if !demographicExclusions[name] && containsAny(lower, demographicHints) {
		tags = append(tags, models.TagDemographic)
	}
	if oceanPattern.MatchString(name) {
		tags = append(tags, models.TagOcean)
	}
	if fetishColumns[name] || containsAny(lower, fetishHints) {
		tags = append(tags, models.TagFetish)
	}
	if derivedColumns[name] || derivedPattern.MatchString(name) {
		tags = append(tags, models.TagDerived)
	}
	if len(tags) == 0 {
		tags = append(tags, models.TagOther)
	}
	return tags
}

// InferNullMeaning guesses why a column has missing values.
func InferNullMeaning(name string, nullRatio float64) models.NullMeaning {
	lower := strings.ToLower(name)
	switch {
	case lateAddedPattern.MatchString(lower):
		return models.NullLateAdded
	case nullRatio > 0.15 && notApplicablePattern.MatchString(lower):
		return models.NullNotApplicable
	case nullRatio > 0.3:
		return models.NullGated
	}
	return models.NullUnknown
}

const maxDisplayName = 60

// DisplayName builds a readable label: a curated override, the question
// text of a quoted survey item, or a title-cased identifier.
func DisplayName(name string, labels map[string]string) string {
	if label, ok := labels[name]; ok && label != "" {
		return label
	}
	if m := quotedQuestion.FindStringSubmatch(name); m != nil {
		return truncate(strings.TrimSpace(m[1]))
	}
	if plainIdentifier.MatchString(name) {
		return truncate(titleCase(name))
	}
	return truncate(strings.TrimSpace(strings.ReplaceAll(name, `"`, "")))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxDisplayName {
		return s
	}
	return strings.TrimRightFunc(string(r[:maxDisplayName-3]), unicode.IsSpace) + "..."
}

func titleCase(name string) string {
	spaced := separatorRun.ReplaceAllString(name, " ")
	spaced = camelBoundary.ReplaceAllString(spaced, "$1 $2")
	spaced = strings.TrimSpace(spaceRun.ReplaceAllString(spaced, " "))
	if spaced == "" {
		return name
	}

	tokens := strings.Split(spaced, " ")
	for i, tok := range tokens {
		if len(tok) <= 4 && shortUpperToken.MatchString(tok) {
			continue
		}
		tokens[i] = strings.ToUpper(tok[:1]) + tok[1:]
	}
	return strings.Join(tokens, " ")
}
