package models

import "time"

// RelationshipMetric names the statistic behind a relationship.
type RelationshipMetric string

const (
	MetricCramersV    RelationshipMetric = "cramers_v"
	MetricCorrelation RelationshipMetric = "correlation"
)

// Relationship is one directed entry of the symmetric relationship graph.
type Relationship struct {
	Column     string             `json:"column"`
	Metric     RelationshipMetric `json:"metric"`
	Value      float64            `json:"value"`
	Direction  string             `json:"direction,omitempty"`
	N          int64              `json:"n"`
	TopPattern string             `json:"topPattern,omitempty"`
}

// Cluster is a group of columns found by label propagation over the
// relationship graph.
type Cluster struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Members   []string `json:"members"`
	BridgesTo []string `json:"bridgesTo"`
}

// RelationshipSet is the output of one association run.
type RelationshipSet struct {
	GeneratedAt     time.Time                 `json:"generatedAt"`
	ColumnCount     int                       `json:"columnCount"`
	PairCount       int                       `json:"pairCount"`
	Clusters        []Cluster                 `json:"clusters"`
	ClusterByColumn map[string]string         `json:"clusterByColumn"`
	Relationships   map[string][]Relationship `json:"relationships"`
	Skipped         int                       `json:"-"`
	Failed          int                       `json:"-"`
}

// EffectMetric is d (standardized mean difference) or r (correlation).
type EffectMetric string

const (
	EffectD EffectMetric = "d"
	EffectR EffectMetric = "r"
)

// EffectEntry is one landmark effect size.
type EffectEntry struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Metric             EffectMetric `json:"metric"`
	Effect             float64      `json:"effect"`
	PercentilePointGap int          `json:"percentilePointGap"`
	Note               string       `json:"note"`
}

// EffectSet is the output of a landmark run.
type EffectSet struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Landmarks   []EffectEntry `json:"landmarks"`
	Fallback    bool          `json:"fallback"`
}

// CohortSizes are the population and cohort row counts.
type CohortSizes struct {
	Total  float64 `json:"totalSize"`
	Cohort float64 `json:"cohortSize"`
}

// PercentileCard compares a cohort with the population on one metric.
// GlobalPercentile is the share of the whole population at or below the
// cohort median, not a per-member percentile.
type PercentileCard struct {
	Metric           string   `json:"metric"`
	CohortMedian     *float64 `json:"cohortMedian"`
	CohortMean       *float64 `json:"cohortMean"`
	CohortSD         *float64 `json:"cohortSd"`
	CohortN          float64  `json:"cohortN"`
	GlobalMedian     *float64 `json:"globalMedian"`
	GlobalSD         *float64 `json:"globalSd"`
	GlobalPercentile *float64 `json:"globalPercentile"`
	// MedianLower and MedianUpper bound the cohort median at 95%; nil when
	// the cohort median or sd is unknown.
	MedianLower *float64 `json:"medianCiLower"`
	MedianUpper *float64 `json:"medianCiUpper"`
	Reliability float64  `json:"reliability"`
	Confidence  string   `json:"confidence"`
}

// IndexDirection is over or under.
type IndexDirection string

const (
	DirectionOver  IndexDirection = "over"
	DirectionUnder IndexDirection = "under"
)

// ValueCounts are the raw counts of one (column, value) pair.
type ValueCounts struct {
	Column      string  `json:"column"`
	Value       string  `json:"value"`
	CohortCount float64 `json:"cohortCount"`
	GlobalCount float64 `json:"globalCount"`
}

// OverIndexEntry scores one (column, value) pair of a cohort.
type OverIndexEntry struct {
	Column      string         `json:"column"`
	Value       string         `json:"value"`
	CohortCount float64        `json:"cohortCount"`
	GlobalCount float64        `json:"globalCount"`
	CohortPct   float64        `json:"cohortPct"`
	GlobalPct   float64        `json:"globalPct"`
	Ratio       *float64       `json:"ratio"`
	Direction   IndexDirection `json:"direction"`
	CILower     float64        `json:"ciLower"`
	CIUpper     float64        `json:"ciUpper"`
}

// PairCounts are the counts of one (column, value) pair in two cohorts.
type PairCounts struct {
	Column string  `json:"column"`
	Value  string  `json:"value"`
	CountA float64 `json:"countA"`
	CountB float64 `json:"countB"`
}

// ComparisonEntry ranks one (column, value) pair by the gap between two cohorts.
type ComparisonEntry struct {
	Column   string  `json:"column"`
	Value    string  `json:"value"`
	CountA   float64 `json:"countA"`
	CountB   float64 `json:"countB"`
	PctA     float64 `json:"pctA"`
	PctB     float64 `json:"pctB"`
	AbsDelta float64 `json:"absDelta"`
}

// MetricComparison compares two cohorts on one numeric metric.
type MetricComparison struct {
	Metric  string   `json:"metric"`
	MedianA *float64 `json:"medianA"`
	MedianB *float64 `json:"medianB"`
	MeanA   *float64 `json:"meanA"`
	MeanB   *float64 `json:"meanB"`
	SDA     *float64 `json:"sdA"`
	SDB     *float64 `json:"sdB"`
	NA      float64  `json:"nA"`
	NB      float64  `json:"nB"`
	CohenD  float64  `json:"cohenD"`
}

// HistogramBin is one equal-width bin; bins are numbered from 1.
type HistogramBin struct {
	Bin         int     `json:"bin"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	GlobalCount float64 `json:"globalCount"`
	CohortCount float64 `json:"cohortCount"`
}

// Histogram overlays a cohort on the population distribution of a metric.
type Histogram struct {
	Metric string         `json:"metric"`
	Min    *float64       `json:"min"`
	Max    *float64       `json:"max"`
	Bins   []HistogramBin `json:"bins"`
}

// CohortSummary is recomputed per request and never persisted.
type CohortSummary struct {
	TotalSize    float64          `json:"totalSize"`
	CohortSize   float64          `json:"cohortSize"`
	CohortShare  float64          `json:"cohortShare"`
	Percentiles  []PercentileCard `json:"percentiles"`
	OverIndexing []OverIndexEntry `json:"overIndexing"`
}
