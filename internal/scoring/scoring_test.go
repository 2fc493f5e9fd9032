package scoring

import (
	"math"
	"strings"
	"testing"

	"github.com/lvonguyen/riskforge/internal/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreVulnerabilityCapsAtHundred(t *testing.T) {
	cfg := DefaultConfig()

	// CVSS 9.8 Critical with a public exploit over the network and no patch:
	// 98 * 1.0 * 1.5 * 1.3 = 191.1, capped at 100.
	v := model.Vulnerability{
		Severity:      model.SeverityCritical,
		CVSSScore:     9.8,
		AttackVector:  model.VectorNetwork,
		ExploitPublic: true,
	}
	if got := cfg.ScoreVulnerability(v, 0); got != 100 {
		t.Errorf("worst-case vulnerability should cap at 100, got %v", got)
	}
}

func TestScoreVulnerabilityFactors(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		v    model.Vulnerability
		want float64
	}{
		{
			"medium local no exploit",
			model.Vulnerability{Severity: model.SeverityMedium, CVSSScore: 5.0, AttackVector: model.VectorLocal},
			50 * 0.5 * 0.9,
		},
		{
			"high with available exploit and patch",
			model.Vulnerability{Severity: model.SeverityHigh, CVSSScore: 7.5, ExploitAvailable: true, PatchAvailable: true},
			75 * 0.8 * 1.3 * 0.7,
		},
		{
			"informational scores zero",
			model.Vulnerability{Severity: model.SeverityInformational, CVSSScore: 3.0},
			0,
		},
		{
			"unknown vector is neutral",
			model.Vulnerability{Severity: model.SeverityLow, CVSSScore: 2.0},
			20 * 0.2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.ScoreVulnerability(tt.v, 0); !almostEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreVulnerabilityThreatWeight(t *testing.T) {
	cfg := DefaultConfig()
	v := model.Vulnerability{Severity: model.SeverityMedium, CVSSScore: 5.0}

	base := cfg.ScoreVulnerability(v, 0)
	boosted := cfg.ScoreVulnerability(v, 1.0)
	if !almostEqual(boosted, base*1.5) {
		t.Errorf("full threat weight should multiply by 1.5: base %v, boosted %v", base, boosted)
	}
}

func TestExposureScore(t *testing.T) {
	cfg := DefaultConfig()

	hardened := model.Asset{
		PatchLevel:      model.PatchCurrent,
		AntivirusStatus: model.AntivirusActive,
		FirewallEnabled: true,
	}
	if got := cfg.ExposureScore(hardened); got != 0 {
		t.Errorf("fully hardened asset should score 0 exposure, got %v", got)
	}

	// Internet-exposed, sensitive data, critically unpatched, AV active,
	// firewall on: 30 + 25 + 30 = 85.
	exposed := model.Asset{
		InternetExposed:       true,
		ContainsSensitiveData: true,
		PatchLevel:            model.PatchCritical,
		AntivirusStatus:       model.AntivirusActive,
		FirewallEnabled:       true,
	}
	if got := cfg.ExposureScore(exposed); got != 85 {
		t.Errorf("exposed asset should score 85, got %v", got)
	}

	// Unknown posture contributes midpoints: 20 + 15 + 15 = 50.
	unknown := model.Asset{
		PatchLevel:      model.PatchUnknown,
		AntivirusStatus: model.AntivirusUnknown,
	}
	if got := cfg.ExposureScore(unknown); got != 50 {
		t.Errorf("unknown-posture asset should score 50, got %v", got)
	}
}

func TestScoreAssetNoVulnerabilities(t *testing.T) {
	cfg := DefaultConfig()
	a := model.Asset{
		ID:              "a1",
		Criticality:     model.CriticalityMissionCritical,
		PatchLevel:      model.PatchCurrent,
		AntivirusStatus: model.AntivirusActive,
		FirewallEnabled: true,
	}

	res := cfg.ScoreAsset(a, nil, nil)
	if res.TotalRiskScore != 0 {
		t.Errorf("asset with no vulnerabilities and no exposure should score exactly 0, got %v", res.TotalRiskScore)
	}
	if len(res.Recommendations) == 0 {
		t.Error("zero-risk asset should still receive scanning guidance")
	}
}

func TestScoreAssetMissionCriticalCaps(t *testing.T) {
	cfg := DefaultConfig()

	// Single worst-case vulnerability (scores 100) on an internet-exposed
	// mission-critical asset with exposure 85:
	// (100*0.35 + 85*0.10 + 100*2.0*0.20 + 100*1.0*0.10) / 0.75 * 2.0
	//   = 93.5 / 0.75 * 2.0 = 249.33, capped at 100.
	a := model.Asset{
		ID:                    "a1",
		Criticality:           model.CriticalityMissionCritical,
		InternetExposed:       true,
		ContainsSensitiveData: true,
		PatchLevel:            model.PatchCritical,
		AntivirusStatus:       model.AntivirusActive,
		FirewallEnabled:       true,
	}
	v := model.Vulnerability{
		ID:            "v1",
		Severity:      model.SeverityCritical,
		CVSSScore:     9.8,
		AttackVector:  model.VectorNetwork,
		ExploitPublic: true,
	}

	res := cfg.ScoreAsset(a, []model.Vulnerability{v}, nil)
	if res.TotalRiskScore != 100 {
		t.Errorf("mission-critical worst case should cap at 100, got %v", res.TotalRiskScore)
	}
	if res.VulnerabilityRisk != 100 {
		t.Errorf("single vulnerability risk should be its own score, got %v", res.VulnerabilityRisk)
	}
	if res.CriticalityMultiplier != 2.0 {
		t.Errorf("multiplier should be 2.0, got %v", res.CriticalityMultiplier)
	}
}

func TestScoreAssetBlendsVulnerabilities(t *testing.T) {
	cfg := DefaultConfig()
	a := model.Asset{
		ID:              "a1",
		Criticality:     model.CriticalityMedium,
		PatchLevel:      model.PatchCurrent,
		AntivirusStatus: model.AntivirusActive,
		FirewallEnabled: true,
	}
	vulns := []model.Vulnerability{
		{ID: "v1", Severity: model.SeverityMedium, CVSSScore: 5.0}, // 25
		{ID: "v2", Severity: model.SeverityHigh, CVSSScore: 8.0},   // 64
		{ID: "v3", Severity: model.SeverityLow, CVSSScore: 3.0},    // 6
	}

	res := cfg.ScoreAsset(a, vulns, nil)

	// Top score 64 at 0.6, remaining 25 and 6 share 0.4:
	// 64*0.6 + (25+6)*0.2 = 44.6
	if !almostEqual(res.VulnerabilityRisk, 44.6) {
		t.Errorf("blended vulnerability risk = %v, want 44.6", res.VulnerabilityRisk)
	}
	if res.Contributing[0] != "v2" {
		t.Errorf("contributing list should lead with the worst finding, got %v", res.Contributing)
	}

	// Adding findings never lowers the risk of the dominant one below its
	// weighted share; total stays within [0,100].
	if res.TotalRiskScore <= 0 || res.TotalRiskScore > 100 {
		t.Errorf("total out of range: %v", res.TotalRiskScore)
	}
}

func TestScoreAssetSeverityMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	a := model.Asset{
		ID:              "a1",
		Criticality:     model.CriticalityMedium,
		PatchLevel:      model.PatchCurrent,
		AntivirusStatus: model.AntivirusActive,
		FirewallEnabled: true,
	}

	low := cfg.ScoreAsset(a, []model.Vulnerability{{ID: "v1", Severity: model.SeverityLow, CVSSScore: 4.0}}, nil)
	high := cfg.ScoreAsset(a, []model.Vulnerability{{ID: "v1", Severity: model.SeverityHigh, CVSSScore: 4.0}}, nil)
	if high.TotalRiskScore <= low.TotalRiskScore {
		t.Errorf("higher severity should score higher: low %v, high %v", low.TotalRiskScore, high.TotalRiskScore)
	}
}

func TestScoreAssetCriticalityMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	vulns := []model.Vulnerability{{ID: "v1", Severity: model.SeverityMedium, CVSSScore: 5.0}}

	base := model.Asset{
		ID:              "a1",
		PatchLevel:      model.PatchCurrent,
		AntivirusStatus: model.AntivirusActive,
		FirewallEnabled: true,
	}

	var prev float64 = -1
	for _, tier := range []model.Criticality{
		model.CriticalityLow, model.CriticalityMedium,
		model.CriticalityHigh, model.CriticalityMissionCritical,
	} {
		a := base
		a.Criticality = tier
		score := cfg.ScoreAsset(a, vulns, nil).TotalRiskScore
		if score <= prev {
			t.Errorf("%s should score above previous tier: %v <= %v", tier, score, prev)
		}
		prev = score
	}
}

func TestScoreAssetIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	a := model.Asset{
		ID:              "a1",
		Criticality:     model.CriticalityHigh,
		InternetExposed: true,
		PatchLevel:      model.PatchOutdated,
		AntivirusStatus: model.AntivirusOutdated,
	}
	vulns := []model.Vulnerability{
		{ID: "v1", Severity: model.SeverityHigh, CVSSScore: 7.5, ExploitAvailable: true},
		{ID: "v2", Severity: model.SeverityCritical, CVSSScore: 9.1},
	}
	weights := map[string]float64{"v2": 0.8}

	first := cfg.ScoreAsset(a, vulns, weights)
	second := cfg.ScoreAsset(a, vulns, weights)
	if first.TotalRiskScore != second.TotalRiskScore {
		t.Errorf("scoring must be deterministic: %v vs %v", first.TotalRiskScore, second.TotalRiskScore)
	}
	if first.ThreatFactor != second.ThreatFactor {
		t.Errorf("threat factor must be deterministic: %v vs %v", first.ThreatFactor, second.ThreatFactor)
	}
}

func TestRecommendationsCappedAndRanked(t *testing.T) {
	cfg := DefaultConfig()
	a := model.Asset{
		ID:              "a1",
		Criticality:     model.CriticalityHigh,
		InternetExposed: true,
		PatchLevel:      model.PatchCritical,
		AntivirusStatus: model.AntivirusInactive,
	}
	vulns := []model.Vulnerability{
		{ID: "v1", CVEID: "CVE-2024-1111", Severity: model.SeverityCritical, CVSSScore: 9.8, ExploitPublic: true},
		{ID: "v2", CVEID: "CVE-2024-2222", Severity: model.SeverityCritical, CVSSScore: 9.0},
		{ID: "v3", Severity: model.SeverityMedium, CVSSScore: 5.0, ExploitPublic: true},
	}

	res := cfg.ScoreAsset(a, vulns, nil)
	if len(res.Recommendations) > 5 {
		t.Errorf("recommendations should cap at 5, got %d", len(res.Recommendations))
	}
	if len(res.Recommendations) == 0 {
		t.Fatal("expected recommendations")
	}
	// First entry names the worst unresolved finding.
	if want := "CVE-2024-1111"; !strings.Contains(res.Recommendations[0], want) {
		t.Errorf("first recommendation should name %s, got %q", want, res.Recommendations[0])
	}
}
