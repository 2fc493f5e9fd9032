// Package model defines the domain types shared by the risk engine:
// assets, vulnerabilities, risk scenarios and the documents exported to
// downstream consumers. JSON field names are lowerCamelCase for
// cross-language consumption.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Severity classifies a vulnerability.
type Severity string

const (
	SeverityInformational Severity = "Informational"
	SeverityLow           Severity = "Low"
	SeverityMedium        Severity = "Medium"
	SeverityHigh          Severity = "High"
	SeverityCritical      Severity = "Critical"
)

// severityRank orders severities for max-folds and comparisons.
var severityRank = map[Severity]int{
	SeverityInformational: 0,
	SeverityLow:           1,
	SeverityMedium:        2,
	SeverityHigh:          3,
	SeverityCritical:      4,
}

// Rank returns the ordinal position of the severity (higher is worse).
func (s Severity) Rank() int { return severityRank[s] }

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool { return s.Rank() >= other.Rank() }

// MaxSeverity returns the worse of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

// AttackVector is the CVSS attack vector category.
type AttackVector string

const (
	VectorNetwork  AttackVector = "Network"
	VectorAdjacent AttackVector = "Adjacent"
	VectorLocal    AttackVector = "Local"
	VectorPhysical AttackVector = "Physical"
)

// ParseAttackVector validates an attack vector string. An empty string is
// allowed (unknown vector, neutral multiplier).
func ParseAttackVector(s string) (AttackVector, error) {
	switch AttackVector(s) {
	case VectorNetwork, VectorAdjacent, VectorLocal, VectorPhysical, "":
		return AttackVector(s), nil
	}
	return "", fmt.Errorf("unknown attack vector: %q", s)
}

// AssetCategory is the kind of asset.
type AssetCategory string

const (
	CategoryWorkstation   AssetCategory = "Workstation"
	CategoryServer        AssetCategory = "Server"
	CategoryCloudInstance AssetCategory = "Cloud Instance"
	CategoryNetworkDevice AssetCategory = "Network Device"
	CategoryDatabase      AssetCategory = "Database"
	CategoryIoTDevice     AssetCategory = "IoT Device"
)

// ParseAssetCategory validates an asset category string.
func ParseAssetCategory(s string) (AssetCategory, error) {
	switch AssetCategory(s) {
	case CategoryWorkstation, CategoryServer, CategoryCloudInstance,
		CategoryNetworkDevice, CategoryDatabase, CategoryIoTDevice:
		return AssetCategory(s), nil
	}
	return "", fmt.Errorf("unknown asset category: %q", s)
}

// Criticality is the business criticality tier of an asset.
type Criticality string

const (
	CriticalityLow             Criticality = "Low"
	CriticalityMedium          Criticality = "Medium"
	CriticalityHigh            Criticality = "High"
	CriticalityMissionCritical Criticality = "Mission Critical"
)

var criticalityMultipliers = map[Criticality]float64{
	CriticalityLow:             0.5,
	CriticalityMedium:          1.0,
	CriticalityHigh:            1.5,
	CriticalityMissionCritical: 2.0,
}

var criticalityRank = map[Criticality]int{
	CriticalityLow:             0,
	CriticalityMedium:          1,
	CriticalityHigh:            2,
	CriticalityMissionCritical: 3,
}

// Multiplier returns the fixed risk multiplier for the tier.
func (c Criticality) Multiplier() float64 {
	if m, ok := criticalityMultipliers[c]; ok {
		return m
	}
	return 1.0
}

// Rank returns the ordinal position of the tier.
func (c Criticality) Rank() int { return criticalityRank[c] }

// ParseCriticality validates a criticality string.
func ParseCriticality(s string) (Criticality, error) {
	crit := Criticality(s)
	if _, ok := criticalityMultipliers[crit]; !ok {
		return "", fmt.Errorf("unknown criticality: %q", s)
	}
	return crit, nil
}

// PatchLevel is the patch currency tier of an asset.
type PatchLevel string

const (
	PatchCurrent  PatchLevel = "Current"
	PatchOutdated PatchLevel = "Outdated"
	PatchCritical PatchLevel = "Critical"
	PatchUnknown  PatchLevel = "Unknown"
)

// AntivirusStatus is the endpoint protection tier of an asset.
type AntivirusStatus string

const (
	AntivirusActive   AntivirusStatus = "Active"
	AntivirusOutdated AntivirusStatus = "Outdated"
	AntivirusInactive AntivirusStatus = "Inactive"
	AntivirusUnknown  AntivirusStatus = "Unknown"
)

// RemediationStatus tracks the lifecycle of a vulnerability fix.
// Transitions are one-directional: Pending -> InProgress -> Resolved.
type RemediationStatus string

const (
	RemediationPending    RemediationStatus = "Pending"
	RemediationInProgress RemediationStatus = "In Progress"
	RemediationResolved   RemediationStatus = "Resolved"
)

var remediationOrder = map[RemediationStatus]int{
	RemediationPending:    0,
	RemediationInProgress: 1,
	RemediationResolved:   2,
}

// ParseRemediationStatus validates a remediation status string.
func ParseRemediationStatus(s string) (RemediationStatus, error) {
	st := RemediationStatus(s)
	if _, ok := remediationOrder[st]; !ok {
		return "", fmt.Errorf("unknown remediation status: %q", s)
	}
	return st, nil
}

// CanTransition reports whether moving from the current status to next is a
// legal forward transition. Staying in place is not a transition.
func (s RemediationStatus) CanTransition(next RemediationStatus) bool {
	cur, ok := remediationOrder[s]
	if !ok {
		return false
	}
	nxt, ok := remediationOrder[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Likelihood tiers for risk scenarios.
type Likelihood string

const (
	LikelihoodRare     Likelihood = "Rare"
	LikelihoodPossible Likelihood = "Possible"
	LikelihoodLikely   Likelihood = "Likely"
	LikelihoodCertain  Likelihood = "Certain"
)

var likelihoodRank = map[Likelihood]int{
	LikelihoodRare:     0,
	LikelihoodPossible: 1,
	LikelihoodLikely:   2,
	LikelihoodCertain:  3,
}

// AtLeast returns the higher of the two likelihood tiers.
func (l Likelihood) AtLeast(floor Likelihood) Likelihood {
	if likelihoodRank[floor] > likelihoodRank[l] {
		return floor
	}
	return l
}

// Impact tiers for risk scenarios.
type Impact string

const (
	ImpactMinimal      Impact = "Minimal"
	ImpactSignificant  Impact = "Significant"
	ImpactCatastrophic Impact = "Catastrophic"
)

// Vulnerability is a single security finding. Created once per unique
// detection; immutable afterwards except for remediation status.
type Vulnerability struct {
	ID                string            `json:"id"`
	CVEID             string            `json:"cveId,omitempty"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Severity          Severity          `json:"severity"`
	CVSSScore         float64           `json:"cvssScore"`
	AttackVector      AttackVector      `json:"attackVector,omitempty"`
	ExploitPublic     bool              `json:"exploitPublic"`
	ExploitAvailable  bool              `json:"exploitAvailable"`
	PatchAvailable    bool              `json:"patchAvailable"`
	RemediationStatus RemediationStatus `json:"remediationStatus"`
	Source            string            `json:"source"` // provenance: syslog, windows_event, m365, defender, manual
	AffectedAssetIDs  []string          `json:"affectedAssetIds"`
	Tags              []string          `json:"tags,omitempty"`
	DiscoveredAt      time.Time         `json:"discoveredAt"`
}

// DeduplicationKey derives a stable identity for a detection so repeated
// parses of the same batch do not create duplicate vulnerabilities.
func (v *Vulnerability) DeduplicationKey() string {
	parts := []string{v.Source, v.Title, strings.Join(v.AffectedAssetIDs, ",")}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

// Asset is a managed IT asset. Assets are never deleted, only marked
// inactive.
type Asset struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Category              AssetCategory   `json:"category"`
	IPAddress             string          `json:"ipAddress,omitempty"`
	OS                    string          `json:"os,omitempty"`
	Criticality           Criticality     `json:"criticality"`
	InternetExposed       bool            `json:"internetExposed"`
	ContainsSensitiveData bool            `json:"containsSensitiveData"`
	PatchLevel            PatchLevel      `json:"patchLevel"`
	AntivirusStatus       AntivirusStatus `json:"antivirusStatus"`
	FirewallEnabled       bool            `json:"firewallEnabled"`
	Location              string          `json:"location,omitempty"`
	Tags                  []string        `json:"tags,omitempty"`
	VulnerabilityIDs      []string        `json:"vulnerabilityIds"`
	Active                bool            `json:"active"`
	RiskScore             float64         `json:"riskScore"`
	LastScanAt            time.Time       `json:"lastScanAt"`
}

// RiskScenario is a synthesized multi-entity attack path. Scenarios are
// derived, recomputed on every evaluation, and never stored authoritatively.
type RiskScenario struct {
	ID                         string     `json:"id"`
	Title                      string     `json:"title"`
	Description                string     `json:"description"`
	Category                   string     `json:"category"`
	Severity                   Severity   `json:"severity"`
	Likelihood                 Likelihood `json:"likelihood"`
	Impact                     Impact     `json:"impact"`
	AffectedAssetIDs           []string   `json:"affectedAssetIds"`
	CorrelatedVulnerabilityIDs []string   `json:"correlatedVulnerabilityIds"`
	MITRETactics               []string   `json:"mitreTactics"`
	MITRETechniques            []string   `json:"mitreTechniques"`
	BusinessRiskScore          float64    `json:"businessRiskScore"`
	RemediationPlan            string     `json:"remediationPlan,omitempty"`
}

// Summary is the aggregate view exported to the presentation layer.
type Summary struct {
	TotalAssets          int       `json:"totalAssets"`
	TotalVulnerabilities int       `json:"totalVulnerabilities"`
	AverageRiskScore     float64   `json:"averageRiskScore"`
	CriticalAssets       int       `json:"criticalAssets"` // score >= 90
	HighRiskAssets       int       `json:"highRiskAssets"` // score >= 70
	MediumRiskAssets     int       `json:"mediumRiskAssets"`
	LowRiskAssets        int       `json:"lowRiskAssets"`
	SeverityCounts       map[Severity]int `json:"severityCounts"`
	RiskScenarios        int       `json:"riskScenarios"`
	LastEvaluatedAt      time.Time `json:"lastEvaluatedAt"`
}

// Clamp bounds a score to the closed interval [0,100]. Multipliers are
// applied before clamping, so intermediate values may exceed 100; clamping
// happens exactly once, when the number becomes externally visible.
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
