// Package scoring converts vulnerability and asset facts into calibrated
// 0-100 risk numbers. All scorers are pure functions of their inputs and an
// immutable Config, so evaluation runs with different weight profiles can
// execute concurrently and tests can inject fixtures.
package scoring

import (
	"fmt"
	"sort"

	"github.com/lvonguyen/riskforge/internal/model"
)

// Weights blend the aggregate components. The exploitability weight is
// folded into the per-vulnerability factors, so it never enters the blend
// directly; the normalizer divides by the sum of the weights actually
// applied.
type Weights struct {
	VulnerabilitySeverity float64 `yaml:"vulnerability_severity"`
	Exploitability        float64 `yaml:"exploitability"`
	AssetCriticality      float64 `yaml:"asset_criticality"`
	Exposure              float64 `yaml:"exposure"`
	ThreatIntelligence    float64 `yaml:"threat_intelligence"`
}

// Config holds every multiplier table used by the scorers. A Config is
// immutable once constructed.
type Config struct {
	Weights Weights `yaml:"weights"`

	SeverityMultipliers map[model.Severity]float64     `yaml:"-"`
	VectorMultipliers   map[model.AttackVector]float64 `yaml:"-"`

	ExploitPublicFactor    float64 `yaml:"exploit_public_factor"`
	ExploitAvailableFactor float64 `yaml:"exploit_available_factor"`
	PatchFactor            float64 `yaml:"patch_factor"`

	// Exposure contributions.
	InternetExposure   float64 `yaml:"internet_exposure"`
	SensitiveData      float64 `yaml:"sensitive_data"`
	FirewallDisabled   float64 `yaml:"firewall_disabled"`
	PatchContributions map[model.PatchLevel]float64     `yaml:"-"`
	AVContributions    map[model.AntivirusStatus]float64 `yaml:"-"`
	PatchUnknown       float64 `yaml:"patch_unknown"`
	AVUnknown          float64 `yaml:"antivirus_unknown"`

	// Weight distribution across an asset's vulnerability scores: the single
	// worst finding dominates, the remainder share the rest so many small
	// findings cannot blow the sum up.
	TopVulnerabilityWeight float64 `yaml:"top_vulnerability_weight"`
}

// DefaultConfig returns the calibrated production tables.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			VulnerabilitySeverity: 0.35,
			Exploitability:        0.25,
			AssetCriticality:      0.20,
			Exposure:              0.10,
			ThreatIntelligence:    0.10,
		},
		SeverityMultipliers: map[model.Severity]float64{
			model.SeverityCritical:      1.0,
			model.SeverityHigh:          0.8,
			model.SeverityMedium:        0.5,
			model.SeverityLow:           0.2,
			model.SeverityInformational: 0.0,
		},
		VectorMultipliers: map[model.AttackVector]float64{
			model.VectorNetwork: 1.3,
			model.VectorLocal:   0.9,
		},
		ExploitPublicFactor:    1.5,
		ExploitAvailableFactor: 1.3,
		PatchFactor:            0.7,
		InternetExposure:       30,
		SensitiveData:          25,
		FirewallDisabled:       15,
		PatchContributions: map[model.PatchLevel]float64{
			model.PatchCurrent:  0,
			model.PatchOutdated: 15,
			model.PatchCritical: 30,
		},
		AVContributions: map[model.AntivirusStatus]float64{
			model.AntivirusActive:   0,
			model.AntivirusOutdated: 10,
			model.AntivirusInactive: 20,
		},
		PatchUnknown:           20,
		AVUnknown:              15,
		TopVulnerabilityWeight: 0.6,
	}
}

// ThreatMultiplier converts a feed weight in [0,1] into a score multiplier.
func ThreatMultiplier(weight float64) float64 {
	return 1.0 + 0.5*weight
}

// ScoreVulnerability converts one vulnerability's attributes into a 0-100
// risk number. threatWeight is the feed weight for the vulnerability's CVE
// id, zero when absent. Pure and deterministic.
func (c Config) ScoreVulnerability(v model.Vulnerability, threatWeight float64) float64 {
	base := (v.CVSSScore / 10.0) * 100

	severityMult, ok := c.SeverityMultipliers[v.Severity]
	if !ok {
		severityMult = 0.5
	}

	exploitFactor := 1.0
	if v.ExploitPublic {
		exploitFactor = c.ExploitPublicFactor
	} else if v.ExploitAvailable {
		exploitFactor = c.ExploitAvailableFactor
	}

	// A published patch reduces risk even before it is applied: the
	// mitigation is achievable.
	patchFactor := 1.0
	if v.PatchAvailable {
		patchFactor = c.PatchFactor
	}

	vectorMult, ok := c.VectorMultipliers[v.AttackVector]
	if !ok {
		vectorMult = 1.0
	}

	score := base * severityMult * exploitFactor * patchFactor * vectorMult * ThreatMultiplier(threatWeight)
	return model.Clamp(score)
}

// ExposureScore converts an asset's environmental posture into a 0-100
// number, independent of its vulnerabilities.
func (c Config) ExposureScore(a model.Asset) float64 {
	var score float64
	if a.InternetExposed {
		score += c.InternetExposure
	}
	if a.ContainsSensitiveData {
		score += c.SensitiveData
	}
	if contrib, ok := c.PatchContributions[a.PatchLevel]; ok {
		score += contrib
	} else {
		score += c.PatchUnknown
	}
	if contrib, ok := c.AVContributions[a.AntivirusStatus]; ok {
		score += contrib
	} else {
		score += c.AVUnknown
	}
	if !a.FirewallEnabled {
		score += c.FirewallDisabled
	}
	return model.Clamp(score)
}

// ScoredVulnerability pairs a vulnerability with its computed risk.
type ScoredVulnerability struct {
	Vulnerability model.Vulnerability
	Score         float64
}

// Result carries an asset's total score and its components so consumers can
// explain the number.
type Result struct {
	AssetID               string             `json:"assetId"`
	TotalRiskScore        float64            `json:"totalRiskScore"`
	VulnerabilityRisk     float64            `json:"vulnerabilityRisk"`
	ExposureRisk          float64            `json:"exposureRisk"`
	CriticalityMultiplier float64            `json:"criticalityMultiplier"`
	ThreatFactor          float64            `json:"threatIntelligenceFactor"`
	Contributing          []string           `json:"contributingVulnerabilities"`
	Factors               map[string]float64 `json:"riskFactors"`
	Recommendations       []string           `json:"recommendations"`
}

// ScoreAsset combines the asset's vulnerability set, exposure posture,
// criticality and threat intelligence into the final capped risk score.
// threatWeights maps vulnerability id to feed weight. An asset with no
// vulnerabilities and no exposure factors scores exactly zero; that is a
// result, not an error.
func (c Config) ScoreAsset(a model.Asset, vulns []model.Vulnerability, threatWeights map[string]float64) Result {
	criticalityMult := a.Criticality.Multiplier()

	if len(vulns) == 0 {
		return Result{
			AssetID:               a.ID,
			TotalRiskScore:        0,
			ExposureRisk:          c.ExposureScore(a),
			CriticalityMultiplier: criticalityMult,
			ThreatFactor:          1.0,
			Contributing:          []string{},
			Factors:               map[string]float64{"totalVulnerabilities": 0},
			Recommendations:       []string{"No vulnerabilities detected. Continue regular scanning."},
		}
	}

	scored := make([]ScoredVulnerability, 0, len(vulns))
	for _, v := range vulns {
		scored = append(scored, ScoredVulnerability{
			Vulnerability: v,
			Score:         c.ScoreVulnerability(v, threatWeights[v.ID]),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	vulnerabilityRisk := c.blendVulnerabilityScores(scored)
	exposureRisk := c.ExposureScore(a)
	threatFactor := c.threatFactor(vulns, threatWeights)

	w := c.Weights
	applied := w.VulnerabilitySeverity + w.Exposure + w.AssetCriticality + w.ThreatIntelligence
	combined := vulnerabilityRisk*w.VulnerabilitySeverity +
		exposureRisk*w.Exposure +
		vulnerabilityRisk*criticalityMult*w.AssetCriticality +
		vulnerabilityRisk*threatFactor*w.ThreatIntelligence
	total := model.Clamp(combined / applied * criticalityMult)

	contributing := make([]string, 0, len(scored))
	var criticalCount, highCount int
	for _, sv := range scored {
		contributing = append(contributing, sv.Vulnerability.ID)
		switch sv.Vulnerability.Severity {
		case model.SeverityCritical:
			criticalCount++
		case model.SeverityHigh:
			highCount++
		}
	}

	return Result{
		AssetID:               a.ID,
		TotalRiskScore:        total,
		VulnerabilityRisk:     vulnerabilityRisk,
		ExposureRisk:          exposureRisk,
		CriticalityMultiplier: criticalityMult,
		ThreatFactor:          threatFactor,
		Contributing:          contributing,
		Factors: map[string]float64{
			"vulnerabilityBase":       round2(vulnerabilityRisk),
			"exposure":                round2(exposureRisk),
			"criticality":             round2(criticalityMult),
			"threatIntelligence":      round2(threatFactor),
			"totalVulnerabilities":    float64(len(vulns)),
			"criticalVulnerabilities": float64(criticalCount),
			"highVulnerabilities":     float64(highCount),
		},
		Recommendations: c.recommendations(a, scored),
	}
}

// blendVulnerabilityScores gives the worst finding TopVulnerabilityWeight
// and splits the remainder evenly across the rest, so additional findings
// compound risk without being double-counted at full weight.
func (c Config) blendVulnerabilityScores(scored []ScoredVulnerability) float64 {
	if len(scored) == 0 {
		return 0
	}
	if len(scored) == 1 {
		return scored[0].Score
	}
	top := c.TopVulnerabilityWeight
	restWeight := (1.0 - top) / float64(len(scored)-1)
	risk := scored[0].Score * top
	for _, sv := range scored[1:] {
		risk += sv.Score * restWeight
	}
	return risk
}

// threatFactor averages the threat-intelligence multipliers across the
// asset's vulnerabilities; 1.0 when no feed data applies.
func (c Config) threatFactor(vulns []model.Vulnerability, threatWeights map[string]float64) float64 {
	var sum float64
	var n int
	for _, v := range vulns {
		if w, ok := threatWeights[v.ID]; ok && w > 0 {
			sum += ThreatMultiplier(w)
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

// recommendations produces ranked, human-readable remediation guidance.
// The highest-scoring unresolved finding always comes first.
func (c Config) recommendations(a model.Asset, scored []ScoredVulnerability) []string {
	var recs []string

	for _, sv := range scored {
		v := sv.Vulnerability
		if v.RemediationStatus == model.RemediationResolved {
			continue
		}
		name := v.CVEID
		if name == "" {
			name = v.Title
		}
		recs = append(recs, fmt.Sprintf("Patch %s first (risk %.1f, severity %s)", name, sv.Score, v.Severity))
		break
	}

	var criticalCount, publicExploits int
	for _, sv := range scored {
		if sv.Vulnerability.Severity == model.SeverityCritical {
			criticalCount++
		}
		if sv.Vulnerability.ExploitPublic {
			publicExploits++
		}
	}
	if criticalCount > 1 {
		recs = append(recs, fmt.Sprintf("URGENT: patch %d critical vulnerabilities immediately", criticalCount))
	}
	if publicExploits > 0 {
		recs = append(recs, fmt.Sprintf("Address %d vulnerabilities with public exploits", publicExploits))
	}
	if a.InternetExposed {
		recs = append(recs, "Reduce internet exposure or implement additional network controls")
	}
	if a.PatchLevel == model.PatchOutdated || a.PatchLevel == model.PatchCritical {
		recs = append(recs, "Update system patches to current level")
	}
	if a.AntivirusStatus != model.AntivirusActive {
		recs = append(recs, "Ensure antivirus is active and up to date")
	}
	if !a.FirewallEnabled {
		recs = append(recs, "Enable host-based firewall")
	}

	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
