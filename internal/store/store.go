// Package store holds the in-memory universe of assets and vulnerabilities
// and their many-to-many linkage. All links are id-based weak relations
// resolved at traversal time, so the correlator can walk the graph without
// ownership or cycle concerns.
//
// The store follows single-writer/multiple-reader discipline: mutations are
// serialized behind a write lock, and evaluation passes work against a
// Snapshot so long correlation runs never block writers.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/riskforge/internal/model"
)

// Common errors.
var (
	ErrAssetNotFound         = errors.New("asset not found")
	ErrVulnerabilityNotFound = errors.New("vulnerability not found")
	ErrInvalidAsset          = errors.New("invalid asset")
	ErrInvalidVulnerability  = errors.New("invalid vulnerability")
	ErrInvalidTransition     = errors.New("invalid remediation transition")
)

// Store is the entity store. Safe for concurrent use.
type Store struct {
	mu              sync.RWMutex
	assets          map[string]*model.Asset
	vulnerabilities map[string]*model.Vulnerability
	dedup           map[string]string  // dedup key -> vulnerability id
	threatIntel     map[string]float64 // CVE id -> weight [0,1]
	logger          *zap.Logger
}

// New creates an empty entity store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		assets:          make(map[string]*model.Asset),
		vulnerabilities: make(map[string]*model.Vulnerability),
		dedup:           make(map[string]string),
		threatIntel:     make(map[string]float64),
		logger:          logger,
	}
}

// UpsertAsset adds a new asset or merges fields into an existing one.
// Vulnerability links accumulate; an asset is never deleted.
func (s *Store) UpsertAsset(asset *model.Asset) error {
	if asset == nil || asset.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAsset)
	}
	if _, err := model.ParseAssetCategory(string(asset.Category)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	if _, err := model.ParseCriticality(string(asset.Criticality)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.assets[asset.ID]
	if !ok {
		cp := *asset
		cp.Active = true
		cp.VulnerabilityIDs = dedupeStrings(asset.VulnerabilityIDs)
		s.assets[asset.ID] = &cp
		return nil
	}

	existing.VulnerabilityIDs = dedupeStrings(append(existing.VulnerabilityIDs, asset.VulnerabilityIDs...))
	existing.LastScanAt = time.Now()
	if asset.Name != "" {
		existing.Name = asset.Name
	}
	if asset.IPAddress != "" {
		existing.IPAddress = asset.IPAddress
	}
	return nil
}

// AddVulnerability records a new detection. Duplicate detections (same
// dedup key) merge their affected-asset sets into the existing record
// instead of creating a second one. References to undeclared assets are
// kept but excluded from aggregation until the asset appears; they are
// logged as warnings, not errors.
func (s *Store) AddVulnerability(v *model.Vulnerability) (string, error) {
	if v == nil || v.ID == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidVulnerability)
	}
	if _, err := model.ParseSeverity(string(v.Severity)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidVulnerability, err)
	}
	if v.CVSSScore < 0 || v.CVSSScore > 10 {
		return "", fmt.Errorf("%w: cvss score %.1f out of range [0,10]", ErrInvalidVulnerability, v.CVSSScore)
	}
	if _, err := model.ParseAttackVector(string(v.AttackVector)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidVulnerability, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := v.DeduplicationKey()
	if existingID, seen := s.dedup[key]; seen {
		existing := s.vulnerabilities[existingID]
		existing.AffectedAssetIDs = dedupeStrings(append(existing.AffectedAssetIDs, v.AffectedAssetIDs...))
		s.linkLocked(existing)
		return existingID, nil
	}

	cp := *v
	if cp.RemediationStatus == "" {
		cp.RemediationStatus = model.RemediationPending
	}
	if cp.DiscoveredAt.IsZero() {
		cp.DiscoveredAt = time.Now()
	}
	cp.AffectedAssetIDs = dedupeStrings(v.AffectedAssetIDs)
	s.vulnerabilities[cp.ID] = &cp
	s.dedup[key] = cp.ID
	s.linkLocked(&cp)
	return cp.ID, nil
}

// linkLocked attaches a vulnerability to every declared affected asset.
// Callers must hold the write lock.
func (s *Store) linkLocked(v *model.Vulnerability) {
	for _, assetID := range v.AffectedAssetIDs {
		asset, ok := s.assets[assetID]
		if !ok {
			s.logger.Warn("vulnerability references undeclared asset",
				zap.String("vulnerability", v.ID),
				zap.String("asset", assetID),
			)
			continue
		}
		asset.VulnerabilityIDs = dedupeStrings(append(asset.VulnerabilityIDs, v.ID))
	}
}

// LinkVulnerability attaches an existing vulnerability to an existing asset.
func (s *Store) LinkVulnerability(assetID, vulnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	vuln, ok := s.vulnerabilities[vulnID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVulnerabilityNotFound, vulnID)
	}

	asset.VulnerabilityIDs = dedupeStrings(append(asset.VulnerabilityIDs, vulnID))
	vuln.AffectedAssetIDs = dedupeStrings(append(vuln.AffectedAssetIDs, assetID))
	return nil
}

// SetRemediationStatus advances a vulnerability through the one-directional
// Pending -> In Progress -> Resolved state machine. Back-transitions fail
// with ErrInvalidTransition.
func (s *Store) SetRemediationStatus(vulnID string, next model.RemediationStatus) error {
	if _, err := model.ParseRemediationStatus(string(next)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vuln, ok := s.vulnerabilities[vulnID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVulnerabilityNotFound, vulnID)
	}
	if !vuln.RemediationStatus.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, vuln.RemediationStatus, next)
	}
	vuln.RemediationStatus = next
	return nil
}

// SetThreatIntel records a threat-intelligence weight for a CVE id.
// Weights are clamped to [0,1]; 1.0 means actively exploited in the wild.
func (s *Store) SetThreatIntel(cveID string, weight float64) {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	s.mu.Lock()
	s.threatIntel[cveID] = weight
	s.mu.Unlock()
}

// MergeThreatIntel bulk-loads feed weights.
func (s *Store) MergeThreatIntel(weights map[string]float64) {
	for cve, w := range weights {
		s.SetThreatIntel(cve, w)
	}
}

// MarkAssetInactive flags an asset as out of service. Assets are never
// removed from the store.
func (s *Store) MarkAssetInactive(assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	asset.Active = false
	return nil
}

// SetRiskScore persists an aggregator result onto an asset.
func (s *Store) SetRiskScore(assetID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	asset.RiskScore = score
	return nil
}

// Asset returns a copy of an asset by id.
func (s *Store) Asset(id string) (model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return *asset, nil
}

// Vulnerability returns a copy of a vulnerability by id.
func (s *Store) Vulnerability(id string) (model.Vulnerability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vuln, ok := s.vulnerabilities[id]
	if !ok {
		return model.Vulnerability{}, fmt.Errorf("%w: %s", ErrVulnerabilityNotFound, id)
	}
	return *vuln, nil
}

// Counts returns the number of assets and vulnerabilities.
func (s *Store) Counts() (assets, vulnerabilities int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets), len(s.vulnerabilities)
}

// Snapshot is an immutable copy of the graph taken at a point in time.
// Evaluation passes (scoring, correlation) work against a snapshot so they
// observe a consistent graph without holding the store lock.
type Snapshot struct {
	Assets          map[string]model.Asset
	Vulnerabilities map[string]model.Vulnerability
	ThreatIntel     map[string]float64
	TakenAt         time.Time
}

// Snapshot copies the current graph.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Assets:          make(map[string]model.Asset, len(s.assets)),
		Vulnerabilities: make(map[string]model.Vulnerability, len(s.vulnerabilities)),
		ThreatIntel:     make(map[string]float64, len(s.threatIntel)),
		TakenAt:         time.Now(),
	}
	for id, a := range s.assets {
		cp := *a
		cp.VulnerabilityIDs = append([]string(nil), a.VulnerabilityIDs...)
		cp.Tags = append([]string(nil), a.Tags...)
		snap.Assets[id] = cp
	}
	for id, v := range s.vulnerabilities {
		cp := *v
		cp.AffectedAssetIDs = append([]string(nil), v.AffectedAssetIDs...)
		cp.Tags = append([]string(nil), v.Tags...)
		snap.Vulnerabilities[id] = cp
	}
	for cve, w := range s.threatIntel {
		snap.ThreatIntel[cve] = w
	}
	return snap
}

// AssetVulnerabilities resolves the declared vulnerability set of an asset
// in the snapshot. Dangling ids are skipped.
func (sn *Snapshot) AssetVulnerabilities(assetID string) []model.Vulnerability {
	asset, ok := sn.Assets[assetID]
	if !ok {
		return nil
	}
	vulns := make([]model.Vulnerability, 0, len(asset.VulnerabilityIDs))
	for _, vid := range asset.VulnerabilityIDs {
		if v, ok := sn.Vulnerabilities[vid]; ok {
			vulns = append(vulns, v)
		}
	}
	return vulns
}

// ThreatWeight returns the feed weight for a vulnerability's CVE id, or
// zero when the vulnerability has no CVE or the feed has no entry.
func (sn *Snapshot) ThreatWeight(v model.Vulnerability) float64 {
	if v.CVEID == "" {
		return 0
	}
	return sn.ThreatIntel[v.CVEID]
}

// SortedAssetIDs returns asset ids in deterministic order.
func (sn *Snapshot) SortedAssetIDs() []string {
	ids := make([]string, 0, len(sn.Assets))
	for id := range sn.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
