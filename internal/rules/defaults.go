package rules

import "time"

// DefaultCatalog registers the built-in rules. Registration order is fixed:
// it is the order rules execute in during an audit, and test fixtures depend
// on it being stable.
func DefaultCatalog(now func() time.Time) *Catalog {
	c := NewCatalog()
	for _, r := range []Rule{
		NewContentQualityRule(),
		NewSEORule(),
		NewAccessibilityRule(),
		NewFreshnessRule(now),
		NewStructureRule(),
	} {
		// Built-in ids are unique by construction.
		_ = c.Register(r)
	}
	return c
}
