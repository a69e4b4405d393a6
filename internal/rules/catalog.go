package rules

import (
	"errors"
	"fmt"
	"sync"

	"kbpulse/internal/model"
)

var (
	ErrUnknownRule    = errors.New("unknown rule")
	ErrNoEnabledRules = errors.New("no enabled rules in catalog")
)

// Rule is the single capability every audit rule implements. Evaluate must be
// side-effect-free and deterministic for a fixed article snapshot; that is
// what makes health scores reproducible.
type Rule interface {
	Definition() model.AuditRule
	Evaluate(article *model.Article) []model.Issue
}

// Catalog holds the registered rules in registration order. Registration
// happens once at process start; afterwards the only mutation is the enabled
// flag, guarded by a single-writer lock.
type Catalog struct {
	mu      sync.Mutex
	order   []Rule
	byID    map[string]Rule
	enabled map[string]bool
}

func NewCatalog() *Catalog {
	return &Catalog{
		byID:    make(map[string]Rule),
		enabled: make(map[string]bool),
	}
}

// Register appends a rule to the catalog. Registration order is the order
// rules run in, so it must be deterministic across process restarts.
func (c *Catalog) Register(rule Rule) error {
	def := rule.Definition()
	if def.ID == "" || def.Category == "" {
		return fmt.Errorf("rule %q: id and category are required", def.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[def.ID]; exists {
		return fmt.Errorf("rule %q already registered", def.ID)
	}
	c.order = append(c.order, rule)
	c.byID[def.ID] = rule
	c.enabled[def.ID] = def.Enabled
	return nil
}

// SetEnabled flips one rule's participation in future audits. In-flight
// audits are unaffected: they run against the snapshot taken at audit start.
func (c *Catalog) SetEnabled(ruleID string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[ruleID]; !ok {
		return ErrUnknownRule
	}
	c.enabled[ruleID] = enabled
	return nil
}

// Snapshot returns the enabled rules in registration order. The returned
// slice is immutable from the catalog's point of view, so an audit can keep
// using it while the catalog is edited.
func (c *Catalog) Snapshot() []Rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Rule
	for _, rule := range c.order {
		if c.enabled[rule.Definition().ID] {
			out = append(out, rule)
		}
	}
	return out
}

// List returns every rule definition with its current enabled flag.
func (c *Catalog) List() []model.AuditRule {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.AuditRule, 0, len(c.order))
	for _, rule := range c.order {
		def := rule.Definition()
		def.Enabled = c.enabled[def.ID]
		out = append(out, def)
	}
	return out
}

// CategoryCounts aggregates registered rules per category.
func (c *Catalog) CategoryCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]int)
	for _, rule := range c.order {
		counts[rule.Definition().Category]++
	}
	return counts
}
