package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lvonguyen/riskforge/internal/model"
)

// Batch sources handled by M365DefenderParser. Audit log records and
// Defender alerts share one parser because tenants export them together.
const (
	SourceM365     = "m365"
	SourceDefender = "defender"
)

// operationInfo classifies an M365 unified audit log operation.
type operationInfo struct {
	Severity string
	Category string
}

var criticalOperations = map[string]operationInfo{
	"UserLoggedIn":    {"Informational", "Authentication"},
	"UserLoginFailed": {"Warning", "Authentication"},
	"MailboxLogin":    {"Informational", "Email"},

	"FileDownloaded":         {"Informational", "Data Access"},
	"FileUploaded":           {"Informational", "Data Access"},
	"FileDeleted":            {"Warning", "Data Access"},
	"FileSyncDownloadedFull": {"Warning", "Data Exfiltration"},
	"FileAccessed":           {"Informational", "Data Access"},

	"SharingSet":               {"Warning", "Sharing"},
	"AnonymousLinkCreated":     {"Alert", "Sharing"},
	"SharingInvitationCreated": {"Notice", "Sharing"},

	"Set-Mailbox":   {"Warning", "Admin"},
	"New-InboxRule": {"Alert", "Email Rules"},
	"Set-InboxRule": {"Alert", "Email Rules"},

	"Set-AntiPhishPolicy":     {"Alert", "Security Policy"},
	"Set-MalwareFilterPolicy": {"Alert", "Security Policy"},
	"Disable-AntispamUpdates": {"Critical", "Security Policy"},
}

// defenderCVSS maps Defender alert severities to CVSS equivalents.
var defenderCVSS = map[model.Severity]float64{
	model.SeverityCritical:      9.5,
	model.SeverityHigh:          8.0,
	model.SeverityMedium:        6.0,
	model.SeverityLow:           3.0,
	model.SeverityInformational: 0.0,
}

// m365AuditRecord is a unified audit log entry.
type m365AuditRecord struct {
	ID           string          `json:"Id"`
	Operation    string          `json:"Operation"`
	UserID       string          `json:"UserId"`
	CreationTime string          `json:"CreationTime"`
	ClientIP     string          `json:"ClientIP"`
	Workload     string          `json:"Workload"`
	ResultStatus string          `json:"ResultStatus"`
	Parameters   []auditParam    `json:"Parameters"`
	AuditData    json.RawMessage `json:"AuditData"`
}

type auditParam struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// defenderAlert is a Microsoft Defender alert.
type defenderAlert struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Severity        string   `json:"severity"`
	Category        string   `json:"category"`
	Description     string   `json:"description"`
	CreationTime    string   `json:"creationTime"`
	MachineID       string   `json:"machineId"`
	ComputerDNSName string   `json:"computerDnsName"`
	MITRETechniques []string `json:"mitreTechniques"`
}

// forwardingParams are inbox-rule parameter names that indicate mail theft.
var forwardingParams = map[string]bool{
	"ForwardTo":             true,
	"ForwardAsAttachmentTo": true,
	"DeleteMessage":         true,
	"MoveToFolder":          true,
}

// M365DefenderParser parses M365 unified audit logs and Defender alerts.
// A record with an Operation field is an audit entry; one with a title and
// severity is a Defender alert. Defender alerts convert directly to
// vulnerabilities, carrying their ATT&CK techniques as tags.
type M365DefenderParser struct {
	BruteForceThreshold   int
	ExfiltrationThreshold int
}

// NewM365DefenderParser returns a parser with production thresholds.
func NewM365DefenderParser() *M365DefenderParser {
	return &M365DefenderParser{BruteForceThreshold: 5, ExfiltrationThreshold: 50}
}

// Name implements Parser.
func (p *M365DefenderParser) Name() string { return SourceM365 }

// Parse implements Parser.
func (p *M365DefenderParser) Parse(ctx context.Context, batch Batch) (*Report, error) {
	report := &Report{Parser: p.Name()}

	failedLogins := make(map[string]int)
	var downloads int
	hosts := make(map[string]bool)

	for i, record := range batch.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var probe struct {
			Operation string `json:"Operation"`
			Title     string `json:"title"`
			Severity  string `json:"severity"`
		}
		if err := json.Unmarshal([]byte(record), &probe); err != nil {
			report.Rejected = append(report.Rejected, RejectedRecord{Index: i, Reason: "invalid JSON"})
			continue
		}

		switch {
		case probe.Operation != "":
			p.parseAudit(record, report, failedLogins, &downloads)
		case probe.Title != "" && probe.Severity != "":
			p.parseAlert(record, report, hosts)
		default:
			report.Rejected = append(report.Rejected, RejectedRecord{
				Index:  i,
				Reason: "neither audit record nor Defender alert",
			})
		}
	}

	for key, count := range failedLogins {
		if count < p.BruteForceThreshold {
			continue
		}
		report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
			ID:           "vuln_m365_bruteforce_" + sanitizeID(key),
			Title:        "M365 Brute Force Attack",
			Description:  fmt.Sprintf("Multiple failed login attempts (%d) for %s", count, key),
			Severity:     model.SeverityHigh,
			CVSSScore:    7.5,
			AttackVector: model.VectorNetwork,
			Source:       SourceM365,
			Tags:         []string{"brute-force", "m365", "authentication"},
			DiscoveredAt: time.Now(),
		})
	}
	if downloads >= p.ExfiltrationThreshold {
		report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
			ID:           "vuln_data_exfil",
			Title:        "Potential Data Exfiltration",
			Description:  fmt.Sprintf("Unusual volume of file downloads detected (%d files)", downloads),
			Severity:     model.SeverityHigh,
			CVSSScore:    8.0,
			Source:       SourceM365,
			Tags:         []string{"data-exfiltration", "insider-threat"},
			DiscoveredAt: time.Now(),
		})
	}

	for h := range hosts {
		report.Hostnames = append(report.Hostnames, h)
	}
	return report, nil
}

func (p *M365DefenderParser) parseAudit(record string, report *Report, failedLogins map[string]int, downloads *int) {
	var rec m365AuditRecord
	if err := json.Unmarshal([]byte(record), &rec); err != nil {
		return
	}

	ts := parseISOTime(rec.CreationTime)
	info, ok := criticalOperations[rec.Operation]
	if !ok {
		info = operationInfo{Severity: "Informational", Category: "General"}
	}

	id := rec.ID
	if id == "" {
		id = fmt.Sprintf("%d", ts.Unix())
	}
	report.Events = append(report.Events, Event{
		ID:        "m365_" + id,
		Timestamp: ts,
		Source:    SourceM365,
		Severity:  info.Severity,
		Hostname:  rec.Workload,
		IPAddress: rec.ClientIP,
		User:      rec.UserID,
		Fields: map[string]string{
			"operation": rec.Operation,
			"category":  info.Category,
			"workload":  rec.Workload,
		},
	})

	switch rec.Operation {
	case "UserLoginFailed":
		failedLogins[rec.ClientIP+"_"+rec.UserID]++
	case "FileDownloaded", "FileSyncDownloadedFull":
		*downloads++
	case "New-InboxRule", "Set-InboxRule":
		for _, param := range rec.Parameters {
			if forwardingParams[param.Name] {
				report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
					ID:           "vuln_inbox_rule_m365_" + id,
					Title:        "Suspicious Email Rule Created",
					Description:  fmt.Sprintf("Potentially malicious inbox rule created by %s", rec.UserID),
					Severity:     model.SeverityHigh,
					CVSSScore:    7.8,
					Source:       SourceM365,
					Tags:         []string{"email-forwarding", "persistence", "data-theft"},
					DiscoveredAt: ts,
				})
				break
			}
		}
	case "AnonymousLinkCreated":
		report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
			ID:           "vuln_anon_share_m365_" + id,
			Title:        "Anonymous Link Created",
			Description:  fmt.Sprintf("Anonymous sharing link created by %s", rec.UserID),
			Severity:     model.SeverityMedium,
			CVSSScore:    6.0,
			Source:       SourceM365,
			Tags:         []string{"data-sharing", "data-leak-risk"},
			DiscoveredAt: ts,
		})
	case "Set-AntiPhishPolicy", "Set-MalwareFilterPolicy", "Disable-AntispamUpdates":
		report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
			ID:           "vuln_policy_change_m365_" + id,
			Title:        "Critical Security Policy Modified",
			Description:  fmt.Sprintf("Security policy changed: %s", rec.Operation),
			Severity:     model.SeverityHigh,
			CVSSScore:    8.5,
			Source:       SourceM365,
			Tags:         []string{"policy-change", "security-weakening"},
			DiscoveredAt: ts,
		})
	}
}

func (p *M365DefenderParser) parseAlert(record string, report *Report, hosts map[string]bool) {
	var alert defenderAlert
	if err := json.Unmarshal([]byte(record), &alert); err != nil {
		return
	}

	ts := parseISOTime(alert.CreationTime)
	machine := alert.ComputerDNSName
	if machine == "" {
		machine = alert.MachineID
	}

	severity, err := model.ParseSeverity(alert.Severity)
	if err != nil {
		severity = model.SeverityMedium
	}

	report.Events = append(report.Events, Event{
		ID:        "defender_" + alert.ID,
		Timestamp: ts,
		Source:    SourceDefender,
		Severity:  alert.Severity,
		Hostname:  machine,
		Fields: map[string]string{
			"title":    alert.Title,
			"category": alert.Category,
		},
	})
	if machine != "" {
		hosts[machine] = true
	}

	tags := []string{alert.Category}
	tags = append(tags, alert.MITRETechniques...)

	report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
		ID:               "vuln_defender_" + alert.ID,
		Title:            alert.Title,
		Description:      alert.Description,
		Severity:         severity,
		CVSSScore:        defenderCVSS[severity],
		Source:           SourceDefender,
		AffectedAssetIDs: []string{AssetIDFor(machine)},
		Tags:             tags,
		DiscoveredAt:     ts,
	})
}

func parseISOTime(s string) time.Time {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts
	}
	return time.Now()
}
