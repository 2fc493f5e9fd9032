package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lvonguyen/riskforge/internal/model"
)

// SourceWindowsEvent is the batch source handled by WindowsEventParser.
const SourceWindowsEvent = "windows_event"

// eventInfo names a security-relevant Windows event id.
type eventInfo struct {
	Name     string
	Severity string
}

// securityEventIDs is the table of event ids worth normalizing. Anything
// else parses as an unknown informational event.
var securityEventIDs = map[int]eventInfo{
	4624: {"Successful Logon", "Informational"},
	4625: {"Failed Logon", "Warning"},
	4634: {"Logoff", "Informational"},
	4648: {"Logon using explicit credentials", "Warning"},
	4672: {"Special privileges assigned to new logon", "Warning"},

	4720: {"User account created", "Notice"},
	4722: {"User account enabled", "Notice"},
	4724: {"Password reset attempt", "Warning"},
	4738: {"User account changed", "Notice"},
	4740: {"User account locked out", "Warning"},

	4688: {"New process created", "Informational"},
	4689: {"Process exited", "Informational"},

	4719: {"System audit policy changed", "Alert"},

	7045: {"Service installed", "Notice"},
	7040: {"Service start type changed", "Notice"},

	1102: {"Audit log cleared", "Critical"},
	4657: {"Registry value modified", "Warning"},
	4670: {"Permissions on object changed", "Warning"},

	4768: {"Kerberos TGT requested", "Informational"},
	4771: {"Kerberos pre-authentication failed", "Warning"},
}

// suspiciousProcessPatterns flag living-off-the-land tooling in 4688 events.
var suspiciousProcessPatterns = []string{
	"powershell.exe -enc",
	"cmd.exe /c",
	"wmic.exe",
	"psexec",
	"mimikatz",
	"procdump",
	"net user",
	"net group",
	"reg.exe add",
}

// winEventRecord is the EVTX-to-JSON shape. Exporters differ on nesting, so
// both the flat and the Event.System layouts are accepted.
type winEventRecord struct {
	EventID     json.Number       `json:"EventID"`
	TimeCreated string            `json:"TimeCreated"`
	Computer    string            `json:"Computer"`
	EventData   map[string]string `json:"EventData"`
	Event       *struct {
		System struct {
			EventID     json.Number `json:"EventID"`
			Computer    string      `json:"Computer"`
			TimeCreated struct {
				SystemTime string `json:"@SystemTime"`
			} `json:"TimeCreated"`
		} `json:"System"`
	} `json:"Event"`
}

// WindowsEventParser parses Windows security events exported as JSON and
// derives vulnerabilities from per-batch attack patterns.
type WindowsEventParser struct {
	BruteForceThreshold        int
	SuspiciousProcessThreshold int
	AccountActivityThreshold   int
}

// NewWindowsEventParser returns a parser with production thresholds.
func NewWindowsEventParser() *WindowsEventParser {
	return &WindowsEventParser{
		BruteForceThreshold:        5,
		SuspiciousProcessThreshold: 3,
		AccountActivityThreshold:   5,
	}
}

// Name implements Parser.
func (p *WindowsEventParser) Name() string { return SourceWindowsEvent }

// Parse implements Parser.
func (p *WindowsEventParser) Parse(ctx context.Context, batch Batch) (*Report, error) {
	report := &Report{Parser: p.Name()}

	failedLogins := make(map[string]int)
	var suspiciousProcesses, accountChanges int
	hosts := make(map[string]bool)

	for i, record := range batch.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, data, ok := p.parseRecord(record)
		if !ok {
			report.Rejected = append(report.Rejected, RejectedRecord{
				Index:  i,
				Reason: "not a recognized Windows event record",
			})
			continue
		}
		report.Events = append(report.Events, ev)
		hosts[ev.Hostname] = true

		switch ev.Fields["eventId"] {
		case "4625":
			key := ev.IPAddress + "|" + ev.User
			failedLogins[key]++
		case "4688":
			process := strings.ToLower(data["NewProcessName"])
			cmdLine := strings.ToLower(data["CommandLine"])
			for _, pattern := range suspiciousProcessPatterns {
				if strings.Contains(process, pattern) || strings.Contains(cmdLine, pattern) {
					suspiciousProcesses++
					break
				}
			}
		case "4720", "4722", "4738":
			accountChanges++
		case "1102":
			report.Vulnerabilities = append(report.Vulnerabilities, auditClearVuln(ev))
		case "7045":
			name := strings.ToLower(data["ServiceName"])
			if containsAny(name, "temp", "test", "update", "$") {
				report.Vulnerabilities = append(report.Vulnerabilities, suspiciousServiceVuln(ev))
			}
		}
	}

	for key, count := range failedLogins {
		if count < p.BruteForceThreshold {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		report.Vulnerabilities = append(report.Vulnerabilities, winBruteForceVuln(parts[0], parts[1], count))
	}
	if suspiciousProcesses >= p.SuspiciousProcessThreshold {
		report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
			ID:           "vuln_suspicious_processes",
			Title:        "Suspicious Process Execution Pattern",
			Description:  fmt.Sprintf("Multiple suspicious processes detected (%d instances)", suspiciousProcesses),
			Severity:     model.SeverityHigh,
			CVSSScore:    8.0,
			Source:       SourceWindowsEvent,
			Tags:         []string{"suspicious-process", "potential-malware", "living-off-the-land"},
			DiscoveredAt: time.Now(),
		})
	}
	if accountChanges >= p.AccountActivityThreshold {
		report.Vulnerabilities = append(report.Vulnerabilities, &model.Vulnerability{
			ID:           "vuln_account_manipulation",
			Title:        "Unusual Account Activity",
			Description:  fmt.Sprintf("Multiple account modifications detected (%d changes)", accountChanges),
			Severity:     model.SeverityMedium,
			CVSSScore:    6.5,
			Source:       SourceWindowsEvent,
			Tags:         []string{"account-manipulation", "privilege-escalation"},
			DiscoveredAt: time.Now(),
		})
	}

	for h := range hosts {
		report.Hostnames = append(report.Hostnames, h)
	}
	return report, nil
}

func (p *WindowsEventParser) parseRecord(record string) (Event, map[string]string, bool) {
	var rec winEventRecord
	if err := json.Unmarshal([]byte(record), &rec); err != nil {
		return Event{}, nil, false
	}

	eventID := rec.EventID.String()
	computer := rec.Computer
	timestampStr := rec.TimeCreated
	if rec.Event != nil {
		if eventID == "" {
			eventID = rec.Event.System.EventID.String()
		}
		if computer == "" {
			computer = rec.Event.System.Computer
		}
		if timestampStr == "" {
			timestampStr = rec.Event.System.TimeCreated.SystemTime
		}
	}
	if eventID == "" || computer == "" {
		return Event{}, nil, false
	}

	ts, err := time.Parse(time.RFC3339, timestampStr)
	if err != nil {
		ts = time.Now()
	}

	var id int
	fmt.Sscanf(eventID, "%d", &id)
	info, ok := securityEventIDs[id]
	if !ok {
		info = eventInfo{Name: "Unknown Event", Severity: "Informational"}
	}

	data := rec.EventData
	user := data["TargetUserName"]
	if user == "" {
		user = data["SubjectUserName"]
	}
	ip := data["IpAddress"]
	if ip == "" {
		ip = data["WorkstationName"]
	}

	return Event{
		ID:        fmt.Sprintf("winevent_%s_%d", eventID, ts.Unix()),
		Timestamp: ts,
		Source:    SourceWindowsEvent,
		Severity:  info.Severity,
		Hostname:  computer,
		IPAddress: ip,
		User:      user,
		Fields: map[string]string{
			"eventId":   eventID,
			"eventName": info.Name,
		},
	}, data, true
}

func auditClearVuln(ev Event) *model.Vulnerability {
	return &model.Vulnerability{
		ID:               "vuln_logclear_" + ev.ID,
		Title:            "Audit Log Cleared - Potential Anti-Forensics",
		Description:      fmt.Sprintf("Security audit log was cleared on %s", ev.Hostname),
		Severity:         model.SeverityCritical,
		CVSSScore:        8.5,
		Source:           SourceWindowsEvent,
		AffectedAssetIDs: []string{AssetIDFor(ev.Hostname)},
		Tags:             []string{"anti-forensics", "log-tampering", "covering-tracks"},
		DiscoveredAt:     ev.Timestamp,
	}
}

func suspiciousServiceVuln(ev Event) *model.Vulnerability {
	return &model.Vulnerability{
		ID:               "vuln_suspicious_service_" + ev.ID,
		Title:            "Suspicious Service Installation",
		Description:      fmt.Sprintf("Potentially malicious service installed on %s", ev.Hostname),
		Severity:         model.SeverityHigh,
		CVSSScore:        7.5,
		Source:           SourceWindowsEvent,
		AffectedAssetIDs: []string{AssetIDFor(ev.Hostname)},
		Tags:             []string{"persistence", "malicious-service"},
		DiscoveredAt:     ev.Timestamp,
	}
}

func winBruteForceVuln(ip, user string, count int) *model.Vulnerability {
	return &model.Vulnerability{
		ID:           fmt.Sprintf("vuln_winbruteforce_%s_%s", sanitizeID(ip), sanitizeID(user)),
		Title:        "Windows Brute Force Attack Detected",
		Description:  fmt.Sprintf("Multiple failed Windows login attempts (%d) for user %s from %s", count, user, ip),
		Severity:     model.SeverityHigh,
		CVSSScore:    7.8,
		AttackVector: model.VectorNetwork,
		Source:       SourceWindowsEvent,
		Tags:         []string{"brute-force", "windows-authentication"},
		DiscoveredAt: time.Now(),
	}
}
