// Package remediation maintains the catalog of remediation plans attached to
// risk scenarios. Plans are keyed by scenario category and can be replaced or
// extended from YAML at startup.
package remediation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/riskforge/internal/mitre"
	"github.com/lvonguyen/riskforge/internal/model"
)

// Plan is an ordered set of remediation steps for one scenario category.
type Plan struct {
	Category    string   `yaml:"category" json:"category"`
	Description string   `yaml:"description" json:"description"`
	Steps       []string `yaml:"steps" json:"steps"`
}

// Render formats the plan as the numbered text carried on a scenario.
func (p Plan) Render() string {
	parts := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		parts[i] = fmt.Sprintf("%d. %s", i+1, step)
	}
	return strings.Join(parts, " ")
}

// Library manages remediation plans.
type Library struct {
	mu     sync.RWMutex
	plans  map[string]Plan
	logger *zap.Logger
}

// NewLibrary creates a library preloaded with the built-in plans.
func NewLibrary(logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Library{
		plans:  make(map[string]Plan),
		logger: logger,
	}
	l.loadDefaults()
	return l
}

// PlanFor returns the rendered plan for a scenario's category, or an empty
// string when no plan is registered.
func (l *Library) PlanFor(s model.RiskScenario) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.plans[s.Category]
	if !ok {
		l.logger.Debug("No remediation plan for category", zap.String("category", s.Category))
		return ""
	}
	return p.Render()
}

// Plan returns the raw plan for a category.
func (l *Library) Plan(category string) (Plan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.plans[category]
	return p, ok
}

// Load replaces or adds plans from a YAML document holding a list of plans.
func (l *Library) Load(data []byte) error {
	var plans []Plan
	if err := yaml.Unmarshal(data, &plans); err != nil {
		return fmt.Errorf("parsing remediation plans: %w", err)
	}
	for _, p := range plans {
		if p.Category == "" || len(p.Steps) == 0 {
			return fmt.Errorf("remediation plan needs a category and at least one step")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range plans {
		l.plans[p.Category] = p
		l.logger.Info("Remediation plan loaded",
			zap.String("category", p.Category),
			zap.Int("steps", len(p.Steps)),
		)
	}
	return nil
}

// Export marshals all plans to YAML, sorted by category.
func (l *Library) Export() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	categories := make([]string, 0, len(l.plans))
	for c := range l.plans {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	out := make([]Plan, 0, len(categories))
	for _, c := range categories {
		out = append(out, l.plans[c])
	}
	return yaml.Marshal(out)
}

func (l *Library) loadDefaults() {
	defaults := []Plan{
		{
			Category:    mitre.RuleVulnerabilityChain,
			Description: "Break the exploitation chain on a single host",
			Steps: []string{
				"Immediately patch vulnerabilities in order of severity.",
				"Implement network segmentation.",
				"Enable EDR monitoring.",
			},
		},
		{
			Category:    mitre.RuleExposedCritical,
			Description: "Reduce the perimeter blast radius",
			Steps: []string{
				"Remove internet exposure or place behind WAF.",
				"Emergency patch critical CVEs.",
				"Implement IDS/IPS rules.",
			},
		},
		{
			Category:    mitre.RuleLateralMovement,
			Description: "Cut lateral paths between hosts",
			Steps: []string{
				"Implement network segmentation.",
				"Enable lateral movement detection.",
				"Reduce attack surface.",
			},
		},
	}
	for _, p := range defaults {
		l.plans[p.Category] = p
	}
}
