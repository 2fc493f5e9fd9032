// Package scenario discovers multi-entity attack paths in the asset and
// vulnerability graph. Scenarios are derived on every evaluation from a
// consistent store snapshot; nothing here is stored authoritatively.
package scenario

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/riskforge/internal/mitre"
	"github.com/lvonguyen/riskforge/internal/model"
	"github.com/lvonguyen/riskforge/internal/store"
)

// LateralRiskThreshold is the asset score above which co-located assets are
// considered reachable stepping stones.
const LateralRiskThreshold = 70.0

// Correlator walks the graph with three rule generators. The pass checks for
// cancellation between generators, so a long correlation over a large graph
// stops cooperatively.
type Correlator struct {
	attack *mitre.AttackFramework
	logger *zap.Logger
}

// New creates a correlator.
func New(attack *mitre.AttackFramework, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attack == nil {
		attack = mitre.NewAttackFramework(logger)
	}
	return &Correlator{attack: attack, logger: logger}
}

// Correlate runs all rule generators over the snapshot. scores holds each
// asset's aggregator total, keyed by asset id. The result is sorted by
// descending business risk, ties broken by affected-asset count (more
// first). Scenarios from different rules covering the same asset and
// vulnerability sets are merged, keeping the higher-scoring one.
func (c *Correlator) Correlate(ctx context.Context, snap *store.Snapshot, scores map[string]float64) ([]model.RiskScenario, error) {
	var scenarios []model.RiskScenario

	generators := []func(*store.Snapshot, map[string]float64) []model.RiskScenario{
		c.vulnerabilityChains,
		c.exposedCritical,
		c.lateralMovement,
	}
	for _, gen := range generators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scenarios = append(scenarios, gen(snap, scores)...)
	}

	scenarios = mergeDuplicates(scenarios)

	sort.SliceStable(scenarios, func(i, j int) bool {
		if scenarios[i].BusinessRiskScore != scenarios[j].BusinessRiskScore {
			return scenarios[i].BusinessRiskScore > scenarios[j].BusinessRiskScore
		}
		return len(scenarios[i].AffectedAssetIDs) > len(scenarios[j].AffectedAssetIDs)
	})
	return scenarios, nil
}

// vulnerabilityChains: a single asset with two or more vulnerabilities, at
// least one Critical or High, is a multi-stage exploitation candidate.
func (c *Correlator) vulnerabilityChains(snap *store.Snapshot, scores map[string]float64) []model.RiskScenario {
	var out []model.RiskScenario
	for _, assetID := range snap.SortedAssetIDs() {
		asset := snap.Assets[assetID]
		vulns := snap.AssetVulnerabilities(assetID)
		if len(vulns) < 2 || !anySeverityAtLeast(vulns, model.SeverityHigh) {
			continue
		}

		s := model.RiskScenario{
			ID:          "rs_chain_" + assetID,
			Title:       fmt.Sprintf("Multi-Stage Exploitation of %s", asset.Name),
			Description: fmt.Sprintf("Multiple vulnerabilities on %s could be chained for privilege escalation and lateral movement", asset.Name),
			Category:    mitre.RuleVulnerabilityChain,
			Likelihood:  model.LikelihoodLikely,
		}
		c.finishScenario(&s, []model.Asset{asset}, vulns, scores)
		out = append(out, s)
	}
	return out
}

// exposedCritical: an internet-exposed asset of High or Mission Critical
// tier with any vulnerability is a perimeter compromise candidate.
func (c *Correlator) exposedCritical(snap *store.Snapshot, scores map[string]float64) []model.RiskScenario {
	var out []model.RiskScenario
	for _, assetID := range snap.SortedAssetIDs() {
		asset := snap.Assets[assetID]
		if !asset.InternetExposed || asset.Criticality.Rank() < model.CriticalityHigh.Rank() {
			continue
		}
		vulns := snap.AssetVulnerabilities(assetID)
		if len(vulns) == 0 {
			continue
		}

		s := model.RiskScenario{
			ID:          "rs_perimeter_" + assetID,
			Title:       fmt.Sprintf("Internet-Facing Asset Compromise: %s", asset.Name),
			Description: fmt.Sprintf("%s is exposed to the internet with exploitable vulnerabilities, creating immediate breach risk", asset.Name),
			Category:    mitre.RuleExposedCritical,
			Likelihood:  model.LikelihoodCertain,
		}
		c.finishScenario(&s, []model.Asset{asset}, vulns, scores)
		out = append(out, s)
	}
	return out
}

// lateralMovement: assets sharing a vulnerability id span one scenario, as
// do co-located high-risk assets. Both express the same reachability risk.
func (c *Correlator) lateralMovement(snap *store.Snapshot, scores map[string]float64) []model.RiskScenario {
	var out []model.RiskScenario

	// Shared vulnerability ids.
	byVuln := make(map[string][]string)
	for _, assetID := range snap.SortedAssetIDs() {
		for _, v := range snap.AssetVulnerabilities(assetID) {
			byVuln[v.ID] = append(byVuln[v.ID], assetID)
		}
	}
	vulnIDs := make([]string, 0, len(byVuln))
	for id := range byVuln {
		vulnIDs = append(vulnIDs, id)
	}
	sort.Strings(vulnIDs)

	for _, vulnID := range vulnIDs {
		assetIDs := byVuln[vulnID]
		if len(assetIDs) < 2 {
			continue
		}
		v := snap.Vulnerabilities[vulnID]
		assets := make([]model.Asset, 0, len(assetIDs))
		for _, id := range assetIDs {
			assets = append(assets, snap.Assets[id])
		}

		s := model.RiskScenario{
			ID:          "rs_lateral_" + vulnID,
			Title:       fmt.Sprintf("Lateral Movement via %s", v.Title),
			Description: fmt.Sprintf("%d assets share the same vulnerability, creating a lateral movement path", len(assets)),
			Category:    mitre.RuleLateralMovement,
			Likelihood:  model.LikelihoodPossible,
		}
		c.finishScenario(&s, assets, []model.Vulnerability{v}, scores)
		out = append(out, s)
	}

	// Co-located high-risk assets.
	byLocation := make(map[string][]model.Asset)
	for _, assetID := range snap.SortedAssetIDs() {
		asset := snap.Assets[assetID]
		if asset.Location == "" || scores[assetID] <= LateralRiskThreshold {
			continue
		}
		byLocation[asset.Location] = append(byLocation[asset.Location], asset)
	}
	locations := make([]string, 0, len(byLocation))
	for loc := range byLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	for _, loc := range locations {
		assets := byLocation[loc]
		if len(assets) < 2 {
			continue
		}
		s := model.RiskScenario{
			ID:          "rs_lateral_loc_" + sanitize(loc),
			Title:       fmt.Sprintf("Lateral Movement Risk in %s", loc),
			Description: fmt.Sprintf("Multiple high-risk assets in %s create lateral movement opportunities", loc),
			Category:    mitre.RuleLateralMovement,
			Likelihood:  model.LikelihoodPossible,
		}
		c.finishScenario(&s, assets, nil, scores)
		out = append(out, s)
	}

	return out
}

// finishScenario fills the derived fields shared by all rules: severity,
// likelihood floor, impact, business risk, participants and ATT&CK tags.
func (c *Correlator) finishScenario(s *model.RiskScenario, assets []model.Asset, vulns []model.Vulnerability, scores map[string]float64) {
	severity := model.SeverityHigh
	publicExploit := false
	var passthrough []string
	for i, v := range vulns {
		if i == 0 {
			severity = v.Severity
		} else {
			severity = model.MaxSeverity(severity, v.Severity)
		}
		if v.ExploitPublic {
			publicExploit = true
		}
		passthrough = append(passthrough, c.attack.PassthroughTechniques(v.Tags)...)
		s.CorrelatedVulnerabilityIDs = append(s.CorrelatedVulnerabilityIDs, v.ID)
	}
	s.Severity = severity

	if publicExploit {
		s.Likelihood = s.Likelihood.AtLeast(model.LikelihoodLikely)
	}

	maxCrit := model.CriticalityLow
	for _, a := range assets {
		s.AffectedAssetIDs = append(s.AffectedAssetIDs, a.ID)
		if a.Criticality.Rank() > maxCrit.Rank() {
			maxCrit = a.Criticality
		}
	}
	s.Impact = impactFor(maxCrit)

	s.BusinessRiskScore = businessRisk(s.AffectedAssetIDs, scores)

	mapping := c.attack.MapRule(s.Category)
	s.MITRETactics = mapping.Tactics
	s.MITRETechniques = mitre.MergeTechniques(mapping.Techniques, passthrough)
}

// businessRisk combines the involved assets' aggregator scores, biased
// toward the worst one. A single asset's scenario inherits its score.
func businessRisk(assetIDs []string, scores map[string]float64) float64 {
	if len(assetIDs) == 0 {
		return 0
	}
	max := 0.0
	var sum float64
	for _, id := range assetIDs {
		s := scores[id]
		sum += s
		if s > max {
			max = s
		}
	}
	if len(assetIDs) == 1 {
		return model.Clamp(max)
	}
	others := (sum - max) / float64(len(assetIDs)-1)
	return model.Clamp(max*0.7 + others*0.3)
}

func impactFor(crit model.Criticality) model.Impact {
	switch crit {
	case model.CriticalityMissionCritical:
		return model.ImpactCatastrophic
	case model.CriticalityLow:
		return model.ImpactMinimal
	default:
		return model.ImpactSignificant
	}
}

func anySeverityAtLeast(vulns []model.Vulnerability, floor model.Severity) bool {
	for _, v := range vulns {
		if v.Severity.AtLeast(floor) {
			return true
		}
	}
	return false
}

// mergeDuplicates collapses scenarios that cover identical asset and
// vulnerability sets, keeping the higher-scoring one.
func mergeDuplicates(scenarios []model.RiskScenario) []model.RiskScenario {
	byKey := make(map[string]int)
	out := make([]model.RiskScenario, 0, len(scenarios))
	for _, s := range scenarios {
		key := participantKey(s)
		if idx, ok := byKey[key]; ok {
			if s.BusinessRiskScore > out[idx].BusinessRiskScore {
				out[idx] = s
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, s)
	}
	return out
}

func participantKey(s model.RiskScenario) string {
	assets := append([]string(nil), s.AffectedAssetIDs...)
	vulns := append([]string(nil), s.CorrelatedVulnerabilityIDs...)
	sort.Strings(assets)
	sort.Strings(vulns)
	return strings.Join(assets, ",") + "|" + strings.Join(vulns, ",")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
