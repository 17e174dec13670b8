package services

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories"
	"github.com/TFMV/tally/pkg/repositories/duckdb"
	"github.com/TFMV/tally/pkg/sqlbuild"
	"github.com/TFMV/tally/pkg/stats"
)

// Landmark selection bounds.
const (
	MinEffect           = 0.02
	MinLandmarks        = 5
	MaxLandmarks        = 10
	MinCorrelationPairs = 100
)

// LandmarkKind selects how a landmark effect is measured.
type LandmarkKind int

const (
	// BinaryD compares a metric between group = 1 and group = 0.
	BinaryD LandmarkKind = iota
	// CategoryD compares a metric between two string values of a group.
	CategoryD
	// Correlation is the Pearson r of two columns.
	Correlation
)

// Landmark defines one reference effect. Column fields list candidate names
// or display names; the first one present in the schema is used.
type Landmark struct {
	ID    string
	Title string
	Kind  LandmarkKind
	// Group is the grouping column, or the x column of a correlation.
	Group []string
	// Metric is the outcome column, or the y column of a correlation.
	Metric []string
	// GroupA and GroupB are the compared values of a CategoryD landmark.
	GroupA string
	GroupB string
}

// DefaultLandmarks are the reference effects computed by `tally effects`.
func DefaultLandmarks() []Landmark {
	var (
		biomale         = []string{"biomale", "Biological Sex"}
		receivePain     = []string{"receivepain", "Receiving Pain"}
		dominantArousal = []string{
			"I am aroused by being dominant in sexual interactions",
			`"I am aroused by being dominant in sexual interactions" (6w3xquw)`,
		}
		childhoodSpank = []string{"From the ages of 0-14, how often were you spanked as a form of discipline? (p957nyk)"}
		spanking       = []string{"spanking", "Spanking"}
		neuroticism    = []string{"neuroticismvariable"}
		totalKink      = []string{"totalfetishcategory"}
		politics       = []string{"politics", "Politics"}
		powerlessness  = []string{"powerlessnessvariable"}
		openness       = []string{"opennessvariable"}
		extroversion   = []string{"extroversionvariable"}
		agreeableness  = []string{"agreeablenessvariable"}
	)

	return []Landmark{
		{ID: "gender-pain-gap", Title: "Gender gap on pain preference", Kind: BinaryD, Group: biomale, Metric: receivePain},
		{ID: "gender-dominant-arousal", Title: "Gender gap on dominant arousal", Kind: BinaryD, Group: biomale, Metric: dominantArousal},
		{ID: "spanking-sm", Title: "Childhood spanking and S/M", Kind: Correlation, Group: childhoodSpank, Metric: spanking},
		{ID: "neuroticism-receiving-pain", Title: "Neuroticism and receiving pain", Kind: Correlation, Group: neuroticism, Metric: receivePain},
		{ID: "politics-kink-breadth", Title: "Politics and kink breadth", Kind: CategoryD, Group: politics, Metric: totalKink, GroupA: "Liberal", GroupB: "Conservative"},
		{ID: "orientation-kink-breadth", Title: "Gender and kink breadth", Kind: BinaryD, Group: biomale, Metric: totalKink},
		{ID: "powerlessness-neuroticism", Title: "Powerlessness and neuroticism", Kind: Correlation, Group: powerlessness, Metric: neuroticism},
		{ID: "openness-fetish-count", Title: "Openness and fetish breadth", Kind: Correlation, Group: openness, Metric: totalKink},
		{ID: "extroversion-fetish-count", Title: "Extroversion and fetish breadth", Kind: Correlation, Group: extroversion, Metric: totalKink},
		{ID: "agreeableness-fetish-count", Title: "Agreeableness and fetish breadth", Kind: Correlation, Group: agreeableness, Metric: totalKink},
	}
}

// FallbackLandmarks is the fixed table used when too few landmarks survive.
func FallbackLandmarks() []models.EffectEntry {
	return []models.EffectEntry{
		{ID: "gender-pain-gap", Title: "Gender gap on pain preference", Metric: models.EffectD, Effect: 0.62, PercentilePointGap: 24, Note: "one of the biggest in the dataset"},
		{ID: "gender-dominant-arousal", Title: "Gender gap on dominant arousal", Metric: models.EffectD, Effect: 0.54, PercentilePointGap: 21, Note: "large"},
		{ID: "spanking-sm", Title: "Childhood spanking and S/M", Metric: models.EffectR, Effect: 0.33, PercentilePointGap: 16, Note: "clear pattern"},
		{ID: "neuroticism-receiving-pain", Title: "Neuroticism and receiving pain", Metric: models.EffectR, Effect: 0.16, PercentilePointGap: 9, Note: "noticeable"},
		{ID: "politics-kink-breadth", Title: "Politics and kink breadth", Metric: models.EffectD, Effect: 0.14, PercentilePointGap: 6, Note: "barely noticeable"},
	}
}

// effectProfiler implements EffectProfiler.
type effectProfiler struct {
	exec      repositories.Executor
	schema    repositories.SchemaRepository
	logger    Logger
	landmarks []Landmark
	timeout   time.Duration
	now       func() time.Time
}

// NewEffectProfiler creates an effect profiler over landmarks, or over
// DefaultLandmarks when landmarks is empty.
func NewEffectProfiler(
	exec repositories.Executor,
	schema repositories.SchemaRepository,
	logger Logger,
	landmarks []Landmark,
	timeout time.Duration,
) EffectProfiler {
	if len(landmarks) == 0 {
		landmarks = DefaultLandmarks()
	}
	return &effectProfiler{
		exec:      exec,
		schema:    schema,
		logger:    logger,
		landmarks: landmarks,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Landmarks computes every resolvable landmark in definition order. With
// fewer than MinLandmarks survivors the fallback table is returned instead.
func (p *effectProfiler) Landmarks(ctx context.Context) (*models.EffectSet, error) {
	set := &models.EffectSet{GeneratedAt: p.now().UTC()}

	for _, lm := range p.landmarks {
		group, gok := p.resolve(lm.Group)
		metric, mok := p.resolve(lm.Metric)
		if !gok || !mok {
			p.logger.Debug("Landmark columns not in schema", "landmark", lm.ID)
			continue
		}

		entry, err := p.compute(ctx, lm, group, metric)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			p.logger.Warn("Landmark failed", "error", err, "landmark", lm.ID)
			continue
		}
		if entry != nil {
			set.Landmarks = append(set.Landmarks, *entry)
		}
	}

	if len(set.Landmarks) < MinLandmarks {
		p.logger.Warn("Too few landmarks survived, using the reference table",
			"computed", len(set.Landmarks),
			"required", MinLandmarks)
		set.Landmarks = FallbackLandmarks()
		set.Fallback = true
		return set, nil
	}
	if len(set.Landmarks) > MaxLandmarks {
		set.Landmarks = set.Landmarks[:MaxLandmarks]
	}

	p.logger.Info("Landmarks computed", "count", len(set.Landmarks))
	return set, nil
}

func (p *effectProfiler) resolve(candidates []string) (string, bool) {
	for _, c := range candidates {
		if col, ok := p.schema.Column(c); ok {
			return col.Name, true
		}
	}
	return "", false
}

func (p *effectProfiler) compute(ctx context.Context, lm Landmark, group, metric string) (*models.EffectEntry, error) {
	switch lm.Kind {
	case BinaryD:
		g := sqlbuild.Col(group)
		return p.standardizedDifference(ctx, lm, metric, sqlbuild.Eq(g, sqlbuild.Int(1)), sqlbuild.Eq(g, sqlbuild.Int(0)))
	case CategoryD:
		g := sqlbuild.CastVarchar(sqlbuild.Col(group))
		return p.standardizedDifference(ctx, lm, metric, sqlbuild.Eq(g, sqlbuild.Lit(lm.GroupA)), sqlbuild.Eq(g, sqlbuild.Lit(lm.GroupB)))
	case Correlation:
		return p.correlation(ctx, lm, group, metric)
	default:
		return nil, errors.Newf(errors.CodeInternal, "unknown landmark kind %d", lm.Kind)
	}
}

func (p *effectProfiler) standardizedDifference(ctx context.Context, lm Landmark, metric string, inA, inB sqlbuild.Fragment) (*models.EffectEntry, error) {
	m := sqlbuild.TryCast(sqlbuild.Col(metric), "DOUBLE")
	a := sqlbuild.And(inA, sqlbuild.IsNotNull(m))
	b := sqlbuild.And(inB, sqlbuild.IsNotNull(m))

	sql, err := sqlbuild.Select(
		sqlbuild.Avg(m).Filter(a).As("mean_a"),
		sqlbuild.StddevSamp(m).Filter(a).As("sd_a"),
		sqlbuild.CountStar().Filter(a).Typed("BIGINT").As("n_a"),
		sqlbuild.Avg(m).Filter(b).As("mean_b"),
		sqlbuild.StddevSamp(m).Filter(b).As("sd_b"),
		sqlbuild.CountStar().Filter(b).Typed("BIGINT").As("n_b"),
	).From(sqlbuild.Table(duckdb.DataTable)).Build()
	if err != nil {
		return nil, err
	}

	row, err := p.exec.QueryRow(ctx, sql, p.timeout)
	if err != nil {
		return nil, err
	}

	meanA, ok1 := converter.Float(row["mean_a"])
	sdA, ok2 := converter.Float(row["sd_a"])
	meanB, ok3 := converter.Float(row["mean_b"])
	sdB, ok4 := converter.Float(row["sd_b"])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}
	nA := converter.FloatOr(row["n_a"], 0)
	nB := converter.FloatOr(row["n_b"], 0)

	d := stats.CohenD(meanA, sdA, nA, meanB, sdB, nB)
	return effectEntry(lm, models.EffectD, d), nil
}

func (p *effectProfiler) correlation(ctx context.Context, lm Landmark, xCol, yCol string) (*models.EffectEntry, error) {
	x := sqlbuild.TryCast(sqlbuild.Col(xCol), "DOUBLE")
	y := sqlbuild.TryCast(sqlbuild.Col(yCol), "DOUBLE")

	sql, err := sqlbuild.Select(
		sqlbuild.Corr(x, y).As("r"),
		sqlbuild.CountStar().Filter(sqlbuild.And(sqlbuild.IsNotNull(x), sqlbuild.IsNotNull(y))).Typed("BIGINT").As("n"),
	).From(sqlbuild.Table(duckdb.DataTable)).Build()
	if err != nil {
		return nil, err
	}

	row, err := p.exec.QueryRow(ctx, sql, p.timeout)
	if err != nil {
		return nil, err
	}

	r, ok := converter.Float(row["r"])
	if !ok || converter.FloatOr(row["n"], 0) < MinCorrelationPairs {
		return nil, nil
	}
	return effectEntry(lm, models.EffectR, r), nil
}

// effectEntry builds the entry for a signed effect, or nil when the effect
// is not finite or below MinEffect.
func effectEntry(lm Landmark, metric models.EffectMetric, effect float64) *models.EffectEntry {
	if !stats.IsFinite(effect) || math.Abs(effect) < MinEffect {
		return nil
	}
	return &models.EffectEntry{
		ID:                 lm.ID,
		Title:              lm.Title,
		Metric:             metric,
		Effect:             stats.Round(math.Abs(effect), 3),
		PercentilePointGap: stats.PercentileGap(string(metric), effect),
		Note:               stats.EffectNote(effect),
	}
}

// NearestLandmark returns the landmark whose percentile-point gap is closest
// to absDelta. The first landmark wins ties.
func NearestLandmark(landmarks []models.EffectEntry, absDelta float64) (models.EffectEntry, bool) {
	if len(landmarks) == 0 || !stats.IsFinite(absDelta) {
		return models.EffectEntry{}, false
	}
	best, bestDistance := 0, math.Inf(1)
	for i, lm := range landmarks {
		if d := math.Abs(float64(lm.PercentilePointGap) - absDelta); d < bestDistance {
			best, bestDistance = i, d
		}
	}
	return landmarks[best], true
}

// ContextualizeDifference phrases a percentile-point gap between two groups
// against the nearest landmark.
func ContextualizeDifference(landmarks []models.EffectEntry, trait string, absDelta float64, groupA, groupB string) string {
	if !stats.IsFinite(absDelta) {
		return "The groups look similar on this trait once uncertainty is considered."
	}

	rounded := strconv.FormatFloat(stats.Round(absDelta, 1), 'f', -1, 64)
	lm, ok := NearestLandmark(landmarks, absDelta)
	if !ok {
		return fmt.Sprintf("The biggest difference is %s (%s percentile-point gap between %s and %s).",
			trait, rounded, groupA, groupB)
	}

	note := lm.Note
	if note == "" {
		note = "notable"
	}
	return fmt.Sprintf("The biggest difference is %s (%s percentile-point gap). For reference, %s is about %d points (%s).",
		trait, rounded, lm.Title, lm.PercentilePointGap, note)
}

// ContextualizeMetrics phrases the largest standardized difference among
// comparisons against the nearest landmark. It returns "" when there is
// nothing to compare.
func ContextualizeMetrics(landmarks []models.EffectEntry, comparisons []models.MetricComparison, groupA, groupB string) string {
	best := -1
	for i, c := range comparisons {
		if !stats.IsFinite(c.CohenD) || c.CohenD == 0 {
			continue
		}
		if best < 0 || math.Abs(c.CohenD) > math.Abs(comparisons[best].CohenD) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	gap := stats.PercentileGap(string(models.EffectD), comparisons[best].CohenD)
	return ContextualizeDifference(landmarks, comparisons[best].Metric, float64(gap), groupA, groupB)
}

// LoadLandmarks reads the entries written by the effects job. A missing or
// empty file yields the reference table.
func LoadLandmarks(path string) ([]models.EffectEntry, error) {
	data, err := os.ReadFile(path)
	if stdErrors.Is(err, fs.ErrNotExist) {
		return FallbackLandmarks(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to read landmarks %s", path)
	}
	var set models.EffectSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidJSON, "failed to decode landmarks")
	}
	if len(set.Landmarks) == 0 {
		return FallbackLandmarks(), nil
	}
	return set.Landmarks, nil
}
