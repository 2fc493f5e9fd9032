// Package mitre provides MITRE ATT&CK framework mapping for risk scenarios
package mitre

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AttackFramework maps correlation rule categories and vulnerability tags to
// ATT&CK tactics and techniques.
type AttackFramework struct {
	techniques map[string]*Technique
	tactics    map[string]*Tactic
	rules      map[string]RuleMapping
	mu         sync.RWMutex
	logger     *zap.Logger
}

// Technique represents a MITRE ATT&CK technique
type Technique struct {
	ID          string   `json:"id"`   // e.g., "T1190"
	Name        string   `json:"name"` // e.g., "Exploit Public-Facing Application"
	Description string   `json:"description,omitempty"`
	Tactics     []string `json:"tactics"` // e.g., ["initial-access"]
	URL         string   `json:"url"`
}

// Tactic represents a MITRE ATT&CK tactic
type Tactic struct {
	ID        string `json:"id"`        // e.g., "TA0002"
	Name      string `json:"name"`      // e.g., "Execution"
	ShortName string `json:"shortName"` // e.g., "execution"
	URL       string `json:"url"`
}

// RuleMapping is the fixed tactic and technique set for one correlation rule
// category.
type RuleMapping struct {
	Tactics    []string `json:"tactics"`
	Techniques []string `json:"techniques"`
}

// Rule categories recognized by the correlator.
const (
	RuleVulnerabilityChain = "vulnerability_chain"
	RuleExposedCritical    = "internet_exposed_critical"
	RuleLateralMovement    = "lateral_movement"
)

// techniqueIDPattern matches technique tags like T1190 or T1059.001.
var techniqueIDPattern = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)

// NewAttackFramework creates a framework instance with the built-in
// technique, tactic and rule tables loaded.
func NewAttackFramework(logger *zap.Logger) *AttackFramework {
	if logger == nil {
		logger = zap.NewNop()
	}
	af := &AttackFramework{
		techniques: make(map[string]*Technique),
		tactics:    make(map[string]*Tactic),
		rules:      make(map[string]RuleMapping),
		logger:     logger,
	}

	af.initializeTechniques()
	af.initializeTactics()
	af.initializeRules()

	return af
}

// MapRule returns the tactic and technique set for a correlation rule
// category. Unknown categories map to nothing; that is logged, not an error,
// so a new rule without a table entry degrades to an untagged scenario.
func (af *AttackFramework) MapRule(category string) RuleMapping {
	af.mu.RLock()
	defer af.mu.RUnlock()

	m, ok := af.rules[category]
	if !ok {
		af.logger.Debug("no ATT&CK mapping for rule category",
			zap.String("category", category),
		)
		return RuleMapping{}
	}
	return m
}

// PassthroughTechniques extracts technique ids carried on vulnerability tags
// (for example from Defender alerts) so feed-supplied ATT&CK context survives
// into scenarios. Unknown-looking tags are ignored.
func (af *AttackFramework) PassthroughTechniques(tags []string) []string {
	var out []string
	for _, tag := range tags {
		id := strings.ToUpper(strings.TrimSpace(tag))
		if techniqueIDPattern.MatchString(id) {
			out = append(out, id)
		}
	}
	return out
}

// MergeTechniques combines a rule's techniques with passthrough ids,
// preserving rule order and dropping duplicates.
func MergeTechniques(rule []string, passthrough []string) []string {
	seen := make(map[string]bool, len(rule)+len(passthrough))
	out := make([]string, 0, len(rule)+len(passthrough))
	for _, id := range rule {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range passthrough {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// GetTechnique returns a technique by ID
func (af *AttackFramework) GetTechnique(id string) (*Technique, bool) {
	af.mu.RLock()
	defer af.mu.RUnlock()
	t, ok := af.techniques[strings.ToUpper(id)]
	return t, ok
}

// GetTactic returns a tactic by ID or short name
func (af *AttackFramework) GetTactic(id string) (*Tactic, bool) {
	af.mu.RLock()
	defer af.mu.RUnlock()
	t, ok := af.tactics[strings.ToLower(id)]
	return t, ok
}

// GetTechniquesByTactic returns all techniques for a given tactic
func (af *AttackFramework) GetTechniquesByTactic(tacticID string) []*Technique {
	af.mu.RLock()
	defer af.mu.RUnlock()

	result := make([]*Technique, 0)
	tacticShortName := strings.ToLower(tacticID)

	for _, t := range af.techniques {
		for _, tactic := range t.Tactics {
			if strings.ToLower(tactic) == tacticShortName {
				result = append(result, t)
				break
			}
		}
	}

	return result
}

func (af *AttackFramework) initializeTechniques() {
	af.mu.Lock()
	defer af.mu.Unlock()

	techniques := []*Technique{
		{ID: "T1190", Name: "Exploit Public-Facing Application", Tactics: []string{"initial-access"}},
		{ID: "T1068", Name: "Exploitation for Privilege Escalation", Tactics: []string{"privilege-escalation"}},
		{ID: "T1021", Name: "Remote Services", Tactics: []string{"lateral-movement"}},
		{ID: "T1018", Name: "Remote System Discovery", Tactics: []string{"discovery"}},
		{ID: "T1059", Name: "Command and Scripting Interpreter", Tactics: []string{"execution"}},
		{ID: "T1059.001", Name: "PowerShell", Tactics: []string{"execution"}},
		{ID: "T1041", Name: "Exfiltration Over C2 Channel", Tactics: []string{"exfiltration"}},
		{ID: "T1110", Name: "Brute Force", Tactics: []string{"credential-access"}},
		{ID: "T1046", Name: "Network Service Discovery", Tactics: []string{"discovery"}},
		{ID: "T1204", Name: "User Execution", Tactics: []string{"execution"}},
	}

	for _, t := range techniques {
		t.URL = fmt.Sprintf("https://attack.mitre.org/techniques/%s/", strings.ReplaceAll(t.ID, ".", "/"))
		af.techniques[t.ID] = t
	}
}

func (af *AttackFramework) initializeTactics() {
	af.mu.Lock()
	defer af.mu.Unlock()

	tactics := []*Tactic{
		{ID: "TA0001", Name: "Initial Access", ShortName: "initial-access"},
		{ID: "TA0002", Name: "Execution", ShortName: "execution"},
		{ID: "TA0004", Name: "Privilege Escalation", ShortName: "privilege-escalation"},
		{ID: "TA0006", Name: "Credential Access", ShortName: "credential-access"},
		{ID: "TA0007", Name: "Discovery", ShortName: "discovery"},
		{ID: "TA0008", Name: "Lateral Movement", ShortName: "lateral-movement"},
		{ID: "TA0010", Name: "Exfiltration", ShortName: "exfiltration"},
	}

	for _, t := range tactics {
		t.URL = fmt.Sprintf("https://attack.mitre.org/tactics/%s/", t.ID)
		af.tactics[t.ShortName] = t
		af.tactics[strings.ToLower(t.ID)] = t
	}
}

func (af *AttackFramework) initializeRules() {
	af.mu.Lock()
	defer af.mu.Unlock()

	af.rules = map[string]RuleMapping{
		RuleVulnerabilityChain: {
			Tactics:    []string{"initial-access", "privilege-escalation", "lateral-movement"},
			Techniques: []string{"T1190", "T1068", "T1021"},
		},
		RuleExposedCritical: {
			Tactics:    []string{"initial-access", "execution", "exfiltration"},
			Techniques: []string{"T1190", "T1059", "T1041"},
		},
		RuleLateralMovement: {
			Tactics:    []string{"lateral-movement", "discovery"},
			Techniques: []string{"T1021", "T1018"},
		},
	}
}
