package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"kbpulse/internal/model"
)

const (
	minContentLength = 300
	minTitleLength   = 10
	maxTitleLength   = 70
	staleAfter       = 180 * 24 * time.Hour
	longContentChars = 1500
)

// parseContent parses the article body as HTML. Articles always carry HTML
// from the extractor; a parse failure just yields an empty document.
func parseContent(article *model.Article) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return doc
}

func issue(def model.AuditRule, description, suggestion string) model.Issue {
	return model.Issue{
		RuleID:      def.ID,
		Category:    def.Category,
		Severity:    def.Severity,
		Description: description,
		Suggestion:  suggestion,
	}
}

// ContentQualityRule flags articles whose body is too thin to be useful.
type ContentQualityRule struct {
	def model.AuditRule
}

func NewContentQualityRule() *ContentQualityRule {
	return &ContentQualityRule{def: model.AuditRule{
		ID:          "content-thin",
		Name:        "Thin content",
		Description: "Flags articles with very short bodies or missing summaries",
		Category:    model.CategoryContentQuality,
		Severity:    model.SeverityMedium,
		Enabled:     true,
	}}
}

func (r *ContentQualityRule) Definition() model.AuditRule { return r.def }

func (r *ContentQualityRule) Evaluate(article *model.Article) []model.Issue {
	var issues []model.Issue

	text := strings.TrimSpace(parseContent(article).Text())
	if len(text) < minContentLength {
		issues = append(issues, issue(r.def,
			fmt.Sprintf("article body has only %d characters of text (minimum %d)", len(text), minContentLength),
			"expand the article or merge it into a related one"))
	}
	if strings.TrimSpace(article.Summary) == "" {
		issues = append(issues, issue(r.def,
			"article has no summary",
			"add a one-paragraph summary for search results and previews"))
	}
	return issues
}

// SEORule checks the metadata search engines and site search rely on.
type SEORule struct {
	def model.AuditRule
}

func NewSEORule() *SEORule {
	return &SEORule{def: model.AuditRule{
		ID:          "seo-metadata",
		Name:        "Search metadata",
		Description: "Checks title length, tags and category assignment",
		Category:    model.CategorySEO,
		Severity:    model.SeverityLow,
		Enabled:     true,
	}}
}

func (r *SEORule) Definition() model.AuditRule { return r.def }

func (r *SEORule) Evaluate(article *model.Article) []model.Issue {
	var issues []model.Issue

	title := strings.TrimSpace(article.Title)
	switch {
	case len(title) < minTitleLength:
		issues = append(issues, issue(r.def,
			fmt.Sprintf("title is %d characters, too short to be descriptive", len(title)),
			"use a descriptive title of at least 10 characters"))
	case len(title) > maxTitleLength:
		issues = append(issues, issue(r.def,
			fmt.Sprintf("title is %d characters and will be truncated in results", len(title)),
			"shorten the title to 70 characters or fewer"))
	}

	if len(article.Tags) == 0 {
		issues = append(issues, issue(r.def,
			"article has no tags",
			"tag the article so related-article suggestions can find it"))
	}
	if strings.TrimSpace(article.Category) == "" {
		issues = append(issues, issue(r.def,
			"article is not assigned to a category",
			"file the article under a knowledge-base category"))
	}
	return issues
}

// AccessibilityRule inspects the rendered HTML for common accessibility
// failures: images without alt text and meaningless link labels.
type AccessibilityRule struct {
	def model.AuditRule
}

func NewAccessibilityRule() *AccessibilityRule {
	return &AccessibilityRule{def: model.AuditRule{
		ID:          "a11y-content",
		Name:        "Accessible content",
		Description: "Flags images without alt text and non-descriptive link labels",
		Category:    model.CategoryAccessibility,
		Severity:    model.SeverityHigh,
		Enabled:     true,
	}}
}

var badLinkLabels = map[string]bool{
	"":           true,
	"here":       true,
	"click here": true,
	"link":       true,
	"read more":  true,
}

func (r *AccessibilityRule) Definition() model.AuditRule { return r.def }

func (r *AccessibilityRule) Evaluate(article *model.Article) []model.Issue {
	var issues []model.Issue
	doc := parseContent(article)

	doc.Find("img").Each(func(i int, sel *goquery.Selection) {
		if alt, ok := sel.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			src, _ := sel.Attr("src")
			issues = append(issues, issue(r.def,
				fmt.Sprintf("image %q has no alt text", src),
				"describe the image content in an alt attribute"))
		}
	})

	doc.Find("a").Each(func(i int, sel *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(sel.Text()))
		if badLinkLabels[label] {
			href, _ := sel.Attr("href")
			issues = append(issues, issue(r.def,
				fmt.Sprintf("link to %q has non-descriptive label %q", href, label),
				"use link text that describes the destination"))
		}
	})
	return issues
}

// FreshnessRule flags articles that have not been reviewed recently. The
// clock is injected so tests can pin it.
type FreshnessRule struct {
	def model.AuditRule
	now func() time.Time
}

func NewFreshnessRule(now func() time.Time) *FreshnessRule {
	if now == nil {
		now = time.Now
	}
	return &FreshnessRule{
		def: model.AuditRule{
			ID:          "freshness-review",
			Name:        "Review freshness",
			Description: "Flags articles not reviewed within the last 180 days",
			Category:    model.CategoryFreshness,
			Severity:    model.SeverityLow,
			Enabled:     true,
		},
		now: now,
	}
}

func (r *FreshnessRule) Definition() model.AuditRule { return r.def }

func (r *FreshnessRule) Evaluate(article *model.Article) []model.Issue {
	reviewed := article.LastReviewedAt
	if reviewed == nil {
		reviewed = article.LastModifiedAt
	}
	if reviewed == nil {
		return []model.Issue{issue(r.def,
			"article has never been reviewed",
			"schedule a content review")}
	}
	if age := r.now().Sub(*reviewed); age > staleAfter {
		return []model.Issue{issue(r.def,
			fmt.Sprintf("article was last reviewed %d days ago", int(age.Hours()/24)),
			"re-verify the content and update the review date")}
	}
	return nil
}

// StructureRule checks that long articles are broken up by a sane heading
// hierarchy.
type StructureRule struct {
	def model.AuditRule
}

func NewStructureRule() *StructureRule {
	return &StructureRule{def: model.AuditRule{
		ID:          "structure-headings",
		Name:        "Heading structure",
		Description: "Flags long articles without headings and skipped heading levels",
		Category:    model.CategoryStructure,
		Severity:    model.SeverityLow,
		Enabled:     true,
	}}
}

func (r *StructureRule) Definition() model.AuditRule { return r.def }

func (r *StructureRule) Evaluate(article *model.Article) []model.Issue {
	var issues []model.Issue
	doc := parseContent(article)

	var levels []int
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(i int, sel *goquery.Selection) {
		levels = append(levels, int(sel.Get(0).Data[1]-'0'))
	})

	text := strings.TrimSpace(doc.Text())
	if len(levels) == 0 && len(text) > longContentChars {
		issues = append(issues, issue(r.def,
			"long article has no headings",
			"break the content into sections with headings"))
	}

	for i := 1; i < len(levels); i++ {
		if levels[i] > levels[i-1]+1 {
			issues = append(issues, issue(r.def,
				fmt.Sprintf("heading level jumps from h%d to h%d", levels[i-1], levels[i]),
				"nest headings one level at a time"))
		}
	}
	return issues
}
