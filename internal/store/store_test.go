package store

import (
	"errors"
	"testing"

	"github.com/lvonguyen/riskforge/internal/model"
)

func testAsset(id string) *model.Asset {
	return &model.Asset{
		ID:          id,
		Name:        id,
		Category:    model.CategoryServer,
		Criticality: model.CriticalityMedium,
	}
}

func testVuln(id string, assets ...string) *model.Vulnerability {
	return &model.Vulnerability{
		ID:               id,
		Title:            "Test Finding " + id,
		Severity:         model.SeverityHigh,
		CVSSScore:        7.5,
		Source:           "manual",
		AffectedAssetIDs: assets,
	}
}

func TestUpsertAssetValidation(t *testing.T) {
	s := New(nil)

	tests := []struct {
		name  string
		asset *model.Asset
	}{
		{"missing id", &model.Asset{Category: model.CategoryServer, Criticality: model.CriticalityLow}},
		{"unknown category", &model.Asset{ID: "a1", Category: "Mainframe", Criticality: model.CriticalityLow}},
		{"unknown criticality", &model.Asset{ID: "a1", Category: model.CategoryServer, Criticality: "Extreme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.UpsertAsset(tt.asset); err == nil {
				t.Error("expected rejection of malformed asset")
			}
		})
	}

	if err := s.UpsertAsset(testAsset("a1")); err != nil {
		t.Fatalf("valid asset rejected: %v", err)
	}
}

func TestAddVulnerabilityLinksDeclaredAssets(t *testing.T) {
	s := New(nil)
	if err := s.UpsertAsset(testAsset("a1")); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddVulnerability(testVuln("v1", "a1", "ghost")); err != nil {
		t.Fatalf("dangling reference should not be fatal: %v", err)
	}

	asset, err := s.Asset("a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(asset.VulnerabilityIDs) != 1 || asset.VulnerabilityIDs[0] != "v1" {
		t.Errorf("asset should be linked to v1, got %v", asset.VulnerabilityIDs)
	}

	// The dangling reference is kept on the vulnerability but excluded from
	// aggregation until the asset is declared.
	snap := s.Snapshot()
	if got := len(snap.AssetVulnerabilities("ghost")); got != 0 {
		t.Errorf("undeclared asset should resolve no vulnerabilities, got %d", got)
	}
}

func TestAddVulnerabilityDeduplicates(t *testing.T) {
	s := New(nil)
	if err := s.UpsertAsset(testAsset("a1")); err != nil {
		t.Fatal(err)
	}

	id1, err := s.AddVulnerability(testVuln("v1", "a1"))
	if err != nil {
		t.Fatal(err)
	}
	// Same source+title+assets: same detection.
	id2, err := s.AddVulnerability(testVuln("v2", "a1"))
	if err != nil {
		t.Fatal(err)
	}
	// Both detections share one title via testVuln? They do not: titles differ
	// by id. Verify distinct keys create distinct records.
	if id1 == id2 {
		t.Error("distinct detections should not merge")
	}

	dup := testVuln("v3", "a1")
	dup.Title = "Test Finding v1"
	id3, err := s.AddVulnerability(dup)
	if err != nil {
		t.Fatal(err)
	}
	if id3 != id1 {
		t.Errorf("duplicate detection should merge into %s, got %s", id1, id3)
	}

	_, total := s.Counts()
	if total != 2 {
		t.Errorf("expected 2 stored vulnerabilities, got %d", total)
	}
}

func TestAddVulnerabilityValidation(t *testing.T) {
	s := New(nil)

	bad := testVuln("v1")
	bad.CVSSScore = 11.0
	if _, err := s.AddVulnerability(bad); !errors.Is(err, ErrInvalidVulnerability) {
		t.Errorf("out-of-range CVSS should be rejected, got %v", err)
	}

	bad = testVuln("v2")
	bad.Severity = "Apocalyptic"
	if _, err := s.AddVulnerability(bad); !errors.Is(err, ErrInvalidVulnerability) {
		t.Errorf("unknown severity should be rejected, got %v", err)
	}
}

func TestRemediationStateMachine(t *testing.T) {
	s := New(nil)
	if _, err := s.AddVulnerability(testVuln("v1")); err != nil {
		t.Fatal(err)
	}

	if err := s.SetRemediationStatus("v1", model.RemediationInProgress); err != nil {
		t.Fatalf("forward transition failed: %v", err)
	}
	if err := s.SetRemediationStatus("v1", model.RemediationPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("back-transition should fail with ErrInvalidTransition, got %v", err)
	}
	if err := s.SetRemediationStatus("v1", model.RemediationResolved); err != nil {
		t.Fatalf("transition to resolved failed: %v", err)
	}
	if err := s.SetRemediationStatus("missing", model.RemediationResolved); !errors.Is(err, ErrVulnerabilityNotFound) {
		t.Errorf("unknown vulnerability should fail, got %v", err)
	}
}

func TestThreatIntelClamped(t *testing.T) {
	s := New(nil)
	s.SetThreatIntel("CVE-2024-0001", 1.7)
	s.SetThreatIntel("CVE-2024-0002", -0.5)

	snap := s.Snapshot()
	if w := snap.ThreatIntel["CVE-2024-0001"]; w != 1.0 {
		t.Errorf("weight should clamp to 1.0, got %v", w)
	}
	if w := snap.ThreatIntel["CVE-2024-0002"]; w != 0.0 {
		t.Errorf("weight should clamp to 0.0, got %v", w)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(nil)
	if err := s.UpsertAsset(testAsset("a1")); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()

	// Mutations after the snapshot must not be visible in it.
	if err := s.UpsertAsset(testAsset("a2")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddVulnerability(testVuln("v1", "a1")); err != nil {
		t.Fatal(err)
	}

	if len(snap.Assets) != 1 {
		t.Errorf("snapshot should hold 1 asset, got %d", len(snap.Assets))
	}
	if got := snap.Assets["a1"]; len(got.VulnerabilityIDs) != 0 {
		t.Errorf("snapshot asset should have no vulnerabilities, got %v", got.VulnerabilityIDs)
	}
}

func TestMarkAssetInactive(t *testing.T) {
	s := New(nil)
	if err := s.UpsertAsset(testAsset("a1")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAssetInactive("a1"); err != nil {
		t.Fatal(err)
	}
	asset, err := s.Asset("a1")
	if err != nil {
		t.Fatal(err)
	}
	if asset.Active {
		t.Error("asset should be inactive")
	}
	// Never deleted.
	assets, _ := s.Counts()
	if assets != 1 {
		t.Errorf("inactive asset should remain in store, got %d assets", assets)
	}
}
