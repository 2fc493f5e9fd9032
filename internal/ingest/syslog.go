package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lvonguyen/riskforge/internal/model"
)

// SourceSyslog is the batch source handled by SyslogParser.
const SourceSyslog = "syslog"

// RFC 3164 line with priority, and the common priority-less variant.
var (
	syslogLinePattern   = regexp.MustCompile(`^<(\d+)>(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(\S+?)(?:\[(\d+)\])?:\s+(.+)$`)
	syslogSimplePattern = regexp.MustCompile(`^(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(\S+?):\s+(.+)$`)

	failedLoginPattern = regexp.MustCompile(`Failed password for (?:invalid user )?(\w+) from ([\d.]+)`)
	sudoPattern        = regexp.MustCompile(`sudo:\s+(\w+) : TTY=(\S+) ; PWD=(\S+) ; USER=(\w+) ; COMMAND=(.+)`)
	firewallPattern    = regexp.MustCompile(`(?:BLOCK|DROP|DENY).*SRC=([\d.]+).*DST=([\d.]+).*PROTO=(\w+)`)
	portScanPattern    = regexp.MustCompile(`(?i)(?:portscan|Port scan).*from ([\d.]+)`)
	malwarePattern     = regexp.MustCompile(`(?i)(?:malware|virus|trojan).*detected`)

	ipPattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	userPattern = regexp.MustCompile(`(?:user|for)\s+(\w+)`)
)

// syslogSeverities maps RFC 5424 priority levels to names.
var syslogSeverities = [8]string{
	"Emergency", "Alert", "Critical", "Error",
	"Warning", "Notice", "Informational", "Debug",
}

// SyslogParser parses RFC 3164 syslog lines and derives vulnerabilities from
// attack patterns observed within one batch. Brute-force and flood counters
// are per batch: detections across batches dedupe in the store instead.
type SyslogParser struct {
	// BruteForceThreshold is the failed-login count per user and source IP
	// that raises a finding.
	BruteForceThreshold int
	// FloodThreshold is the blocked-connection count per source IP that
	// raises a finding.
	FloodThreshold int
}

// NewSyslogParser returns a parser with production thresholds.
func NewSyslogParser() *SyslogParser {
	return &SyslogParser{BruteForceThreshold: 5, FloodThreshold: 100}
}

// Name implements Parser.
func (p *SyslogParser) Name() string { return SourceSyslog }

// Parse implements Parser. Unparseable lines are rejected individually; the
// batch as a whole only fails on context cancellation.
func (p *SyslogParser) Parse(ctx context.Context, batch Batch) (*Report, error) {
	report := &Report{Parser: p.Name()}

	failedLogins := make(map[string]int)
	blockedIPs := make(map[string]int)
	hosts := make(map[string]bool)

	for i, line := range batch.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, ok := p.parseLine(strings.TrimSpace(line))
		if !ok {
			report.Rejected = append(report.Rejected, RejectedRecord{
				Index:  i,
				Reason: "not a recognized syslog line",
			})
			continue
		}
		report.Events = append(report.Events, ev)
		hosts[ev.Hostname] = true

		msg := ev.Fields["message"]

		if m := failedLoginPattern.FindStringSubmatch(msg); m != nil {
			failedLogins[m[2]+"|"+m[1]]++
		}
		if m := firewallPattern.FindStringSubmatch(msg); m != nil {
			blockedIPs[m[1]]++
		}
		if sudoPattern.MatchString(msg) && suspiciousCommand(msg) {
			report.Vulnerabilities = append(report.Vulnerabilities, suspiciousSudoVuln(ev))
		}
		if portScanPattern.MatchString(msg) {
			report.Vulnerabilities = append(report.Vulnerabilities, portScanVuln(ev))
		}
		if malwarePattern.MatchString(msg) {
			report.Vulnerabilities = append(report.Vulnerabilities, malwareVuln(ev))
		}
	}

	for key, count := range failedLogins {
		if count < p.BruteForceThreshold {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		report.Vulnerabilities = append(report.Vulnerabilities, bruteForceVuln(parts[0], parts[1], count))
	}
	for ip, count := range blockedIPs {
		if count < p.FloodThreshold {
			continue
		}
		report.Vulnerabilities = append(report.Vulnerabilities, floodVuln(ip, count))
	}

	for h := range hosts {
		report.Hostnames = append(report.Hostnames, h)
	}
	return report, nil
}

func (p *SyslogParser) parseLine(line string) (Event, bool) {
	var priority int
	var timestampStr, hostname, process, message string

	if m := syslogLinePattern.FindStringSubmatch(line); m != nil {
		priority, _ = strconv.Atoi(m[1])
		timestampStr, hostname, process, message = m[2], m[3], m[4], m[6]
	} else if m := syslogSimplePattern.FindStringSubmatch(line); m != nil {
		priority = 6
		timestampStr, hostname, process, message = m[1], m[2], m[3], m[4]
	} else {
		return Event{}, false
	}

	ts, err := time.Parse("Jan 2 15:04:05", timestampStr)
	if err != nil {
		ts = time.Now()
	} else {
		// RFC 3164 timestamps carry no year.
		now := time.Now()
		ts = ts.AddDate(now.Year(), 0, 0)
	}

	severity := syslogSeverities[priority&0x07]

	var ip, user string
	if m := ipPattern.FindString(message); m != "" {
		ip = m
	}
	if m := userPattern.FindStringSubmatch(message); m != nil {
		user = m[1]
	}

	return Event{
		ID:        fmt.Sprintf("syslog_%d_%s", ts.Unix(), hostname),
		Timestamp: ts,
		Source:    SourceSyslog,
		Severity:  severity,
		Hostname:  hostname,
		IPAddress: ip,
		User:      user,
		Fields: map[string]string{
			"process":  process,
			"message":  message,
			"priority": strconv.Itoa(priority),
		},
	}, true
}

func suspiciousCommand(msg string) bool {
	return strings.Contains(msg, "rm -rf") ||
		strings.Contains(msg, "chmod 777") ||
		strings.Contains(msg, "/etc/passwd")
}

func bruteForceVuln(ip, user string, count int) *model.Vulnerability {
	return &model.Vulnerability{
		ID:           fmt.Sprintf("vuln_bruteforce_%s_%s", sanitizeID(ip), user),
		Title:        "Brute Force Attack Detected",
		Description:  fmt.Sprintf("Multiple failed login attempts (%d) for user %s from %s", count, user, ip),
		Severity:     model.SeverityHigh,
		CVSSScore:    7.5,
		AttackVector: model.VectorNetwork,
		Source:       SourceSyslog,
		Tags:         []string{"brute-force", "authentication"},
		DiscoveredAt: time.Now(),
	}
}

func floodVuln(ip string, count int) *model.Vulnerability {
	return &model.Vulnerability{
		ID:           "vuln_ddos_" + sanitizeID(ip),
		Title:        "Potential DDoS Attack",
		Description:  fmt.Sprintf("High volume of blocked traffic (%d attempts) from %s", count, ip),
		Severity:     model.SeverityHigh,
		CVSSScore:    7.0,
		AttackVector: model.VectorNetwork,
		Source:       SourceSyslog,
		Tags:         []string{"ddos", "denial-of-service"},
		DiscoveredAt: time.Now(),
	}
}

func portScanVuln(ev Event) *model.Vulnerability {
	return &model.Vulnerability{
		ID:               "vuln_portscan_" + ev.ID,
		Title:            "Port Scanning Activity Detected",
		Description:      fmt.Sprintf("Port scanning activity detected from %s", ev.IPAddress),
		Severity:         model.SeverityMedium,
		CVSSScore:        5.0,
		Source:           SourceSyslog,
		AffectedAssetIDs: []string{AssetIDFor(ev.Hostname)},
		Tags:             []string{"port-scan", "reconnaissance"},
		DiscoveredAt:     ev.Timestamp,
	}
}

func malwareVuln(ev Event) *model.Vulnerability {
	return &model.Vulnerability{
		ID:               "vuln_malware_" + ev.ID,
		Title:            "Malware Detected",
		Description:      fmt.Sprintf("Malware activity detected on %s", ev.Hostname),
		Severity:         model.SeverityCritical,
		CVSSScore:        9.5,
		Source:           SourceSyslog,
		AffectedAssetIDs: []string{AssetIDFor(ev.Hostname)},
		Tags:             []string{"malware", "infection"},
		DiscoveredAt:     ev.Timestamp,
	}
}

func suspiciousSudoVuln(ev Event) *model.Vulnerability {
	return &model.Vulnerability{
		ID:               "vuln_suspicious_" + ev.ID,
		Title:            "Suspicious Command Execution",
		Description:      fmt.Sprintf("Potentially malicious command detected on %s", ev.Hostname),
		Severity:         model.SeverityHigh,
		CVSSScore:        7.8,
		Source:           SourceSyslog,
		AffectedAssetIDs: []string{AssetIDFor(ev.Hostname)},
		Tags:             []string{"suspicious-activity", "privilege-escalation"},
		DiscoveredAt:     ev.Timestamp,
	}
}
