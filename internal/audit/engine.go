package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kbpulse/internal/model"
	"kbpulse/internal/rules"
	"kbpulse/internal/store"
)

const (
	defaultRuleBudget = 5 * time.Second
	maxScore          = 100
)

// Engine runs the enabled rule catalog against one article and produces an
// immutable AuditResult. Audits for different articles share no mutable
// state, so callers may run them concurrently without coordination.
type Engine struct {
	store      store.ArticleStore
	catalog    *rules.Catalog
	ruleBudget time.Duration
	logger     *zap.Logger
}

func NewEngine(st store.ArticleStore, catalog *rules.Catalog, logger *zap.Logger) *Engine {
	return &Engine{
		store:      st,
		catalog:    catalog,
		ruleBudget: defaultRuleBudget,
		logger:     logger,
	}
}

// Audit loads the article and evaluates every enabled rule against it in
// catalog registration order. An empty catalog is a degenerate success: zero
// issues, score 100. store.ErrNotFound propagates for unknown ids.
func (e *Engine) Audit(ctx context.Context, articleID uuid.UUID) (*model.AuditResult, error) {
	article, err := e.store.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &model.AuditResult{
		ArticleID:      articleID,
		PerRuleOutcome: make(map[string]model.RuleOutcome),
	}

	// The snapshot taken here is what the whole audit runs against; catalog
	// edits made mid-audit affect only later audits.
	for _, rule := range e.catalog.Snapshot() {
		def := rule.Definition()
		ruleStart := time.Now()

		issues, timedOut := e.evaluate(ctx, rule, article)
		if timedOut {
			e.logger.Warn("rule exceeded its time budget",
				zap.String("rule_id", def.ID),
				zap.String("article_id", articleID.String()))
			issues = []model.Issue{{
				RuleID:      def.ID,
				Category:    model.CategoryEngine,
				Severity:    model.SeverityLow,
				Description: "rule evaluation exceeded its time budget",
				Suggestion:  "re-run the audit; report the rule if this persists",
			}}
		}

		result.RulesExecuted++
		result.Issues = append(result.Issues, issues...)
		result.PerRuleOutcome[def.ID] = model.RuleOutcome{
			Passed:     len(issues) == 0,
			IssueCount: len(issues),
			DurationMs: time.Since(ruleStart).Milliseconds(),
		}
	}

	result.ComputedHealthScore = Score(result.Issues)
	result.ExecutionDurationMs = time.Since(start).Milliseconds()

	// Refresh the cached score on the article itself.
	article.ContentHealthScore = &result.ComputedHealthScore
	if err := e.store.Upsert(ctx, article); err != nil {
		return nil, err
	}

	return result, nil
}

// evaluate runs one rule with the engine's time budget. A rule that overruns
// is abandoned (its goroutine finishes in the background) and reported as
// timed out; it never aborts the audit.
func (e *Engine) evaluate(ctx context.Context, rule rules.Rule, article *model.Article) (issues []model.Issue, timedOut bool) {
	done := make(chan []model.Issue, 1)
	go func() {
		done <- rule.Evaluate(article)
	}()

	timer := time.NewTimer(e.ruleBudget)
	defer timer.Stop()

	select {
	case issues = <-done:
		return issues, false
	case <-timer.C:
		return nil, true
	case <-ctx.Done():
		return nil, true
	}
}

// Score computes the health score for a set of issues: start at 100, deduct
// the severity weight per issue, clamp to [0,100]. Severity-weighted
// deduction is order-independent and lets critical findings dominate.
func Score(issues []model.Issue) float64 {
	score := float64(maxScore)
	for _, is := range issues {
		score -= is.Severity.Weight()
	}
	if score < 0 {
		return 0
	}
	return score
}
