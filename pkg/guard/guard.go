// Package guard validates and bounds untrusted SQL before it reaches the
// engine, and owns the quoting rules every SQL generator must use.
//
// The read-only check is a keyword heuristic, not a parser. A deny-listed
// word anywhere in the text rejects the statement, including identifiers
// such as a column named "replace". That false positive is accepted.
package guard

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/corazawaf/libinjection-go"

	"github.com/TFMV/tally/pkg/errors"
)

const (
	// DefaultLimit is used when the caller gives no usable limit.
	DefaultLimit = 1000
	// HardLimit is the ceiling for any row limit.
	HardLimit = 10000
)

var (
	leadingKeyword  = regexp.MustCompile(`(?i)^(SELECT|WITH|DESCRIBE|EXPLAIN)\b`)
	unboundedPrefix = regexp.MustCompile(`(?i)^(DESCRIBE|EXPLAIN)\b`)
	trailingSemis   = regexp.MustCompile(`;+$`)

	blockedKeywords = []string{
		"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "COPY",
		"ATTACH", "DETACH", "INSTALL", "LOAD", "PRAGMA", "CALL", "EXPORT",
		"IMPORT", "VACUUM", "TRUNCATE", "MERGE", "REPLACE", "GRANT", "REVOKE",
	}
	blockedPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(blockedKeywords, "|") + `)\b`)
)

// Guarded is SQL that passed validation, wrapped with its row bound.
type Guarded struct {
	// SQL is the statement to execute.
	SQL string
	// Normalized is the validated statement before the limit wrapper.
	Normalized string
	// Limit is the effective row limit in [1, HardLimit].
	Limit int
	// Kind is the upper-cased first token, e.g. SELECT.
	Kind string
}

// Guard validates raw and applies the clamped limit.
func Guard(raw string, limit *float64) (Guarded, error) {
	normalized, err := EnsureReadOnly(raw)
	if err != nil {
		return Guarded{}, err
	}
	n := ClampLimit(limit, DefaultLimit)
	return Guarded{
		SQL:        ApplyLimit(normalized, n),
		Normalized: normalized,
		Limit:      n,
		Kind:       QueryKind(normalized),
	}, nil
}

// Normalize trims whitespace and strips trailing semicolons.
func Normalize(raw string) string {
	return trailingSemis.ReplaceAllString(strings.TrimSpace(raw), "")
}

// EnsureReadOnly returns the normalized statement or a typed rejection.
// A semicolon anywhere, including inside a string literal, is rejected.
func EnsureReadOnly(raw string) (string, error) {
	sql := Normalize(raw)

	if sql == "" {
		return "", errors.New(errors.CodeEmptySQL, "SQL must not be empty.")
	}
	if strings.Contains(sql, ";") {
		return "", errors.New(errors.CodeMultiStatement, "Only a single read-only SQL statement is allowed.")
	}
	if !leadingKeyword.MatchString(sql) {
		return "", errors.New(errors.CodeReadOnlyRequired, "Only SELECT/WITH/DESCRIBE/EXPLAIN statements are allowed.")
	}
	if kw := blockedPattern.FindString(sql); kw != "" {
		return "", errors.New(errors.CodeMutatingSQL, "Mutating SQL keywords are not allowed.").
			WithDetail("keyword", strings.ToUpper(kw))
	}

	return sql, nil
}

// ClampLimit resolves a caller limit. Missing or NaN limits use def; others
// are truncated and clamped into [1, HardLimit].
func ClampLimit(limit *float64, def int) int {
	if limit == nil || math.IsNaN(*limit) {
		return def
	}
	v := math.Trunc(*limit)
	switch {
	case v < 1:
		return 1
	case v > HardLimit:
		return HardLimit
	default:
		return int(v)
	}
}

// ApplyLimit wraps row-producing statements in an outer LIMIT. DESCRIBE and
// EXPLAIN pass through unchanged.
func ApplyLimit(sql string, limit int) string {
	normalized := Normalize(sql)
	if unboundedPrefix.MatchString(normalized) {
		return normalized
	}
	return "SELECT * FROM (" + normalized + ") AS bounded_query LIMIT " + strconv.Itoa(limit)
}

// QueryKind returns the upper-cased leading token of sql.
func QueryKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}

// Advisory is the libinjection verdict on raw SQL text. It is informational:
// the guard decision never depends on it.
type Advisory struct {
	Suspicious  bool
	Fingerprint string
}

// Inspect fingerprints raw with libinjection.
func Inspect(raw string) Advisory {
	isSQLi, fingerprint := libinjection.IsSQLi(raw)
	return Advisory{Suspicious: isSQLi, Fingerprint: string(fingerprint)}
}
