package ingest

import (
	"context"
	"testing"

	"github.com/lvonguyen/riskforge/internal/model"
)

func TestM365InboxRuleDetection(t *testing.T) {
	p := NewM365DefenderParser()

	records := []string{
		`{"Id": "r1", "Operation": "New-InboxRule", "UserId": "mallory@corp.com", "CreationTime": "2026-03-15T10:00:00Z", "Parameters": [{"Name": "ForwardTo", "Value": "ext@evil.com"}]}`,
		`{"Id": "r2", "Operation": "New-InboxRule", "UserId": "alice@corp.com", "CreationTime": "2026-03-15T10:05:00Z", "Parameters": [{"Name": "MarkAsRead", "Value": "true"}]}`,
	}

	report, err := p.Parse(context.Background(), Batch{Source: SourceM365, Records: records})
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, v := range report.Vulnerabilities {
		if v.Title == "Suspicious Email Rule Created" {
			count++
			if v.CVSSScore != 7.8 {
				t.Errorf("cvss = %v, want 7.8", v.CVSSScore)
			}
		}
	}
	if count != 1 {
		t.Errorf("only the forwarding rule should raise a finding, got %d", count)
	}
}

func TestM365PolicyChangeAndAnonymousLink(t *testing.T) {
	p := NewM365DefenderParser()

	records := []string{
		`{"Id": "p1", "Operation": "Disable-AntispamUpdates", "UserId": "admin@corp.com", "CreationTime": "2026-03-15T11:00:00Z"}`,
		`{"Id": "s1", "Operation": "AnonymousLinkCreated", "UserId": "bob@corp.com", "CreationTime": "2026-03-15T11:30:00Z"}`,
	}

	report, err := p.Parse(context.Background(), Batch{Source: SourceM365, Records: records})
	if err != nil {
		t.Fatal(err)
	}

	titles := make(map[string]model.Severity)
	for _, v := range report.Vulnerabilities {
		titles[v.Title] = v.Severity
	}
	if titles["Critical Security Policy Modified"] != model.SeverityHigh {
		t.Errorf("policy change severity = %s, want High", titles["Critical Security Policy Modified"])
	}
	if titles["Anonymous Link Created"] != model.SeverityMedium {
		t.Errorf("anonymous link severity = %s, want Medium", titles["Anonymous Link Created"])
	}
}

func TestDefenderAlertConversion(t *testing.T) {
	p := NewM365DefenderParser()

	record := `{
		"id": "da-123",
		"title": "Suspicious PowerShell command line",
		"severity": "High",
		"category": "Execution",
		"description": "Encoded PowerShell detected",
		"creationTime": "2026-03-15T12:00:00Z",
		"computerDnsName": "ws07.corp.local",
		"mitreTechniques": ["T1059.001", "T1027"]
	}`

	report, err := p.Parse(context.Background(), Batch{Source: SourceM365, Records: []string{record}})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Vulnerabilities) != 1 {
		t.Fatalf("alert should convert to one vulnerability, got %d", len(report.Vulnerabilities))
	}

	v := report.Vulnerabilities[0]
	if v.Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want High", v.Severity)
	}
	if v.CVSSScore != 8.0 {
		t.Errorf("High alerts map to CVSS 8.0, got %v", v.CVSSScore)
	}
	if v.Source != SourceDefender {
		t.Errorf("source = %q, want %q", v.Source, SourceDefender)
	}

	// ATT&CK techniques from the alert survive as tags.
	techniques := 0
	for _, tag := range v.Tags {
		if tag == "T1059.001" || tag == "T1027" {
			techniques++
		}
	}
	if techniques != 2 {
		t.Errorf("techniques should pass through as tags, got %v", v.Tags)
	}

	if v.AffectedAssetIDs[0] != AssetIDFor("ws07.corp.local") {
		t.Errorf("alert should link its machine, got %v", v.AffectedAssetIDs)
	}
}

func TestDefenderUnknownSeverityDefaultsToMedium(t *testing.T) {
	p := NewM365DefenderParser()

	record := `{"id": "da-9", "title": "Odd alert", "severity": "UltraMega", "creationTime": "2026-03-15T12:00:00Z", "computerDnsName": "ws01"}`
	report, err := p.Parse(context.Background(), Batch{Source: SourceM365, Records: []string{record}})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Vulnerabilities) != 1 || report.Vulnerabilities[0].Severity != model.SeverityMedium {
		t.Errorf("unknown severity should default to Medium, got %+v", report.Vulnerabilities)
	}
	if report.Vulnerabilities[0].CVSSScore != 6.0 {
		t.Errorf("Medium maps to 6.0, got %v", report.Vulnerabilities[0].CVSSScore)
	}
}

func TestM365BruteForce(t *testing.T) {
	p := NewM365DefenderParser()

	var records []string
	for i := 0; i < 5; i++ {
		records = append(records, `{"Id": "l`+string(rune('a'+i))+`", "Operation": "UserLoginFailed", "UserId": "ceo@corp.com", "ClientIP": "198.51.100.7", "CreationTime": "2026-03-15T13:00:00Z"}`)
	}

	report, err := p.Parse(context.Background(), Batch{Source: SourceM365, Records: records})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, v := range report.Vulnerabilities {
		if v.Title == "M365 Brute Force Attack" {
			found = true
		}
	}
	if !found {
		t.Error("5 failed cloud logins should raise a brute-force finding")
	}
}

func TestM365RejectsNonJSON(t *testing.T) {
	p := NewM365DefenderParser()

	report, err := p.Parse(context.Background(), Batch{
		Source:  SourceM365,
		Records: []string{"plain text line", `{"unrelated": true}`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rejected) != 2 {
		t.Errorf("both records should be rejected with reasons, got %+v", report.Rejected)
	}
}
