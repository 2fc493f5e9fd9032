package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/lvonguyen/riskforge/internal/model"
)

func TestSyslogParseLine(t *testing.T) {
	p := NewSyslogParser()

	ev, ok := p.parseLine("<34>Mar 15 10:23:45 web01 sshd[1234]: Failed password for admin from 192.168.1.50")
	if !ok {
		t.Fatal("valid RFC 3164 line should parse")
	}
	if ev.Hostname != "web01" {
		t.Errorf("hostname = %q, want web01", ev.Hostname)
	}
	if ev.Severity != "Critical" { // priority 34 & 0x07 = 2
		t.Errorf("severity = %q, want Critical", ev.Severity)
	}
	if ev.IPAddress != "192.168.1.50" {
		t.Errorf("ip = %q", ev.IPAddress)
	}

	// Priority-less variant defaults to informational.
	ev, ok = p.parseLine("Mar 15 10:23:45 web01 cron: job started")
	if !ok {
		t.Fatal("simple line should parse")
	}
	if ev.Severity != "Informational" {
		t.Errorf("severity = %q, want Informational", ev.Severity)
	}

	if _, ok := p.parseLine("complete garbage"); ok {
		t.Error("garbage should not parse")
	}
}

func TestSyslogBruteForceDetection(t *testing.T) {
	p := NewSyslogParser()

	var records []string
	for i := 0; i < 5; i++ {
		records = append(records, fmt.Sprintf(
			"<38>Mar 15 10:2%d:00 web01 sshd[99]: Failed password for root from 10.0.0.66", i))
	}

	report, err := p.Parse(context.Background(), Batch{Source: SourceSyslog, Records: records})
	if err != nil {
		t.Fatal(err)
	}

	var found *model.Vulnerability
	for _, v := range report.Vulnerabilities {
		if v.Title == "Brute Force Attack Detected" {
			found = v
		}
	}
	if found == nil {
		t.Fatal("5 failed logins from one source should raise a brute-force finding")
	}
	if found.Severity != model.SeverityHigh || found.CVSSScore != 7.5 {
		t.Errorf("brute force should be High/7.5, got %s/%v", found.Severity, found.CVSSScore)
	}
	if found.AttackVector != model.VectorNetwork {
		t.Errorf("vector = %s, want Network", found.AttackVector)
	}

	// Four attempts stay below the threshold.
	report, err = p.Parse(context.Background(), Batch{Source: SourceSyslog, Records: records[:4]})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range report.Vulnerabilities {
		if v.Title == "Brute Force Attack Detected" {
			t.Error("4 attempts should not raise a finding")
		}
	}
}

func TestSyslogMalwareAndPortScan(t *testing.T) {
	p := NewSyslogParser()

	report, err := p.Parse(context.Background(), Batch{Source: SourceSyslog, Records: []string{
		"<27>Mar 15 11:00:00 db01 clamav[5]: malware detected in /tmp/payload",
		"<28>Mar 15 11:01:00 fw01 snort[7]: Port scan detected from 203.0.113.9",
	}})
	if err != nil {
		t.Fatal(err)
	}

	titles := make(map[string]*model.Vulnerability)
	for _, v := range report.Vulnerabilities {
		titles[v.Title] = v
	}

	malware, ok := titles["Malware Detected"]
	if !ok {
		t.Fatal("malware finding missing")
	}
	if malware.Severity != model.SeverityCritical || malware.CVSSScore != 9.5 {
		t.Errorf("malware should be Critical/9.5, got %s/%v", malware.Severity, malware.CVSSScore)
	}
	if len(malware.AffectedAssetIDs) != 1 || malware.AffectedAssetIDs[0] != AssetIDFor("db01") {
		t.Errorf("malware should link db01, got %v", malware.AffectedAssetIDs)
	}

	if _, ok := titles["Port Scanning Activity Detected"]; !ok {
		t.Error("port scan finding missing")
	}
}

func TestSyslogSuspiciousSudo(t *testing.T) {
	p := NewSyslogParser()

	report, err := p.Parse(context.Background(), Batch{Source: SourceSyslog, Records: []string{
		"<85>Mar 15 12:00:00 app01 sudo: sudo: evil : TTY=pts/0 ; PWD=/home/evil ; USER=root ; COMMAND=rm -rf /var/log",
		"<85>Mar 15 12:01:00 app01 sudo: sudo: dev : TTY=pts/1 ; PWD=/home/dev ; USER=root ; COMMAND=systemctl restart nginx",
	}})
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, v := range report.Vulnerabilities {
		if v.Title == "Suspicious Command Execution" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("only the destructive command should raise a finding, got %d", count)
	}
}

func TestSyslogRejectsGarbageButKeepsRest(t *testing.T) {
	p := NewSyslogParser()

	report, err := p.Parse(context.Background(), Batch{Source: SourceSyslog, Records: []string{
		"not a syslog line at all",
		"<38>Mar 15 10:20:00 web01 sshd[99]: Accepted password for admin from 10.0.0.5",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rejected) != 1 || report.Rejected[0].Index != 0 {
		t.Errorf("first record should be rejected, got %+v", report.Rejected)
	}
	if len(report.Events) != 1 {
		t.Errorf("second record should still parse, got %d events", len(report.Events))
	}
	if report.Rejected[0].Reason == "" {
		t.Error("rejection should carry a reason")
	}
}
