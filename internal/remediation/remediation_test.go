package remediation

import (
	"strings"
	"testing"

	"github.com/lvonguyen/riskforge/internal/mitre"
	"github.com/lvonguyen/riskforge/internal/model"
)

func TestPlanForKnownCategories(t *testing.T) {
	l := NewLibrary(nil)

	tests := []struct {
		category string
		want     string
	}{
		{mitre.RuleVulnerabilityChain, "patch vulnerabilities"},
		{mitre.RuleExposedCritical, "WAF"},
		{mitre.RuleLateralMovement, "network segmentation"},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			plan := l.PlanFor(model.RiskScenario{Category: tt.category})
			if plan == "" {
				t.Fatal("expected a plan")
			}
			if !strings.Contains(plan, tt.want) {
				t.Errorf("plan %q missing %q", plan, tt.want)
			}
			if !strings.HasPrefix(plan, "1. ") {
				t.Errorf("plan should be numbered, got %q", plan)
			}
		})
	}
}

func TestPlanForUnknownCategory(t *testing.T) {
	l := NewLibrary(nil)
	if plan := l.PlanFor(model.RiskScenario{Category: "unknown"}); plan != "" {
		t.Errorf("unknown category should have no plan, got %q", plan)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	l := NewLibrary(nil)

	doc := `
- category: lateral_movement
  description: override
  steps:
    - Disable SMBv1 everywhere.
    - Rotate service credentials.
`
	if err := l.Load([]byte(doc)); err != nil {
		t.Fatal(err)
	}

	plan := l.PlanFor(model.RiskScenario{Category: mitre.RuleLateralMovement})
	if !strings.Contains(plan, "SMBv1") {
		t.Errorf("loaded plan should replace the default, got %q", plan)
	}
	// Other defaults survive.
	if l.PlanFor(model.RiskScenario{Category: mitre.RuleVulnerabilityChain}) == "" {
		t.Error("unrelated defaults should remain")
	}
}

func TestLoadRejectsIncompletePlan(t *testing.T) {
	l := NewLibrary(nil)
	if err := l.Load([]byte("- category: empty\n  steps: []\n")); err == nil {
		t.Error("plan without steps should be rejected")
	}
}

func TestExportRoundTrip(t *testing.T) {
	l := NewLibrary(nil)
	data, err := l.Export()
	if err != nil {
		t.Fatal(err)
	}

	fresh := NewLibrary(nil)
	if err := fresh.Load(data); err != nil {
		t.Fatalf("exported plans should reload: %v", err)
	}
	p, ok := fresh.Plan(mitre.RuleExposedCritical)
	if !ok || len(p.Steps) != 3 {
		t.Errorf("round-tripped plan mismatch: %+v", p)
	}
}
