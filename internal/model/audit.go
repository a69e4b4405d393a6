package model

import "github.com/google/uuid"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight is the health-score deduction for one issue of this severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 15
	case SeverityHigh:
		return 30
	case SeverityCritical:
		return 50
	}
	return 0
}

// Known rule categories. The catalog accepts any non-empty category string,
// these are just the ones shipped with the built-in rules.
const (
	CategoryContentQuality = "content-quality"
	CategorySEO            = "seo"
	CategoryAccessibility  = "accessibility"
	CategoryFreshness      = "freshness"
	CategoryStructure      = "structure"
	CategoryEngine         = "engine"
)

// AuditRule is the catalog entry for one quality rule.
type AuditRule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
}

// Location points at the offending spot for positional findings.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Issue is one finding from one rule evaluation. Never mutated after creation.
type Issue struct {
	RuleID      string    `json:"rule_id"`
	Category    string    `json:"category"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion,omitempty"`
	Location    *Location `json:"location,omitempty"`
}

// RuleOutcome records how one rule fared inside a single audit.
type RuleOutcome struct {
	Passed     bool  `json:"passed"`
	IssueCount int   `json:"issue_count"`
	DurationMs int64 `json:"duration_ms"`
}

// AuditResult is the immutable outcome of one audit request.
// Issues preserve rule catalog order, then emission order within a rule.
type AuditResult struct {
	ArticleID           uuid.UUID              `json:"article_id"`
	RulesExecuted       int                    `json:"rules_executed"`
	Issues              []Issue                `json:"issues"`
	PerRuleOutcome      map[string]RuleOutcome `json:"per_rule_outcome"`
	ExecutionDurationMs int64                  `json:"execution_duration_ms"`
	ComputedHealthScore float64                `json:"computed_health_score"`
}
