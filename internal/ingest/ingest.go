// Package ingest parses raw security log batches into normalized events and
// vulnerabilities. Each log format lives behind the Parser interface so the
// engine can dispatch on batch source without knowing format details.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/riskforge/internal/model"
)

// Batch is one submission of raw log records from a single source.
type Batch struct {
	Source  string   `json:"source"`
	Records []string `json:"records"`
}

// Event is a normalized log event retained for parser statistics and asset
// discovery. It is not stored authoritatively.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Severity  string            `json:"severity"`
	Hostname  string            `json:"hostname"`
	IPAddress string            `json:"ipAddress,omitempty"`
	User      string            `json:"user,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// RejectedRecord is a record the parser could not handle, with the reason.
// Rejections are partial failures: the rest of the batch still parses.
type RejectedRecord struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Report is the outcome of parsing one batch.
type Report struct {
	Parser          string                 `json:"parser"`
	Events          []Event                `json:"events"`
	Vulnerabilities []*model.Vulnerability `json:"vulnerabilities"`
	Hostnames       []string               `json:"hostnames"`
	Rejected        []RejectedRecord       `json:"rejected"`
}

// Parser converts a raw batch into a report.
type Parser interface {
	Name() string
	Parse(ctx context.Context, batch Batch) (*Report, error)
}

// Stats tracks cumulative parsing counters across batches.
type Stats struct {
	RecordsParsed   int64     `json:"recordsParsed"`
	RecordsRejected int64     `json:"recordsRejected"`
	Vulnerabilities int64     `json:"vulnerabilities"`
	LastBatchAt     time.Time `json:"lastBatchAt"`
}

// Registry dispatches batches to the parser registered for their source.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
	stats   map[string]*Stats
	logger  *zap.Logger
}

// NewRegistry creates a registry with the given parsers registered under
// their names.
func NewRegistry(logger *zap.Logger, parsers ...Parser) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		parsers: make(map[string]Parser),
		stats:   make(map[string]*Stats),
		logger:  logger,
	}
	for _, p := range parsers {
		r.parsers[p.Name()] = p
		r.stats[p.Name()] = &Stats{}
	}
	return r
}

// Parse routes the batch to the parser for its source and updates counters.
func (r *Registry) Parse(ctx context.Context, batch Batch) (*Report, error) {
	r.mu.RLock()
	p, ok := r.parsers[batch.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no parser registered for source %q", batch.Source)
	}

	report, err := p.Parse(ctx, batch)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	st := r.stats[batch.Source]
	st.RecordsParsed += int64(len(report.Events))
	st.RecordsRejected += int64(len(report.Rejected))
	st.Vulnerabilities += int64(len(report.Vulnerabilities))
	st.LastBatchAt = time.Now()
	r.mu.Unlock()

	if len(report.Rejected) > 0 {
		r.logger.Warn("batch parsed with rejections",
			zap.String("source", batch.Source),
			zap.Int("rejected", len(report.Rejected)),
			zap.Int("parsed", len(report.Events)),
		)
	}
	return report, nil
}

// Sources lists the registered parser names.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		out = append(out, name)
	}
	return out
}

// Stats returns a copy of the counters for one source.
func (r *Registry) Stats(source string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stats[source]
	if !ok {
		return Stats{}, false
	}
	return *st, true
}

// DiscoverAsset builds an asset record for a hostname first seen in a log
// stream. Category is inferred from the hostname, OS from the log source;
// both are best-effort and can be corrected through the asset API later.
func DiscoverAsset(hostname, source string, seenAt time.Time) *model.Asset {
	return &model.Asset{
		ID:              AssetIDFor(hostname),
		Name:            hostname,
		Category:        inferCategory(hostname),
		OS:              inferOS(source),
		Criticality:     model.CriticalityMedium,
		PatchLevel:      model.PatchUnknown,
		AntivirusStatus: model.AntivirusUnknown,
		Tags:            []string{"auto-discovered"},
		Active:          true,
		LastScanAt:      seenAt,
	}
}

func inferCategory(hostname string) model.AssetCategory {
	h := strings.ToLower(hostname)
	switch {
	case containsAny(h, "db", "sql", "postgres", "oracle"):
		return model.CategoryDatabase
	case containsAny(h, "fw", "firewall", "rtr", "router", "switch"):
		return model.CategoryNetworkDevice
	case containsAny(h, "srv", "server", "dc", "app", "web", "mail"):
		return model.CategoryServer
	case containsAny(h, "cloud", "vm", "ec2", "azure", "exchange", "sharepoint", "onedrive"):
		return model.CategoryCloudInstance
	default:
		return model.CategoryWorkstation
	}
}

func inferOS(source string) string {
	switch source {
	case "windows_event", "defender":
		return "Windows"
	case "syslog":
		return "Linux"
	default:
		return ""
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// AssetIDFor derives the store id for a hostname seen in a log stream. The
// same derivation is used by DiscoverAsset, so vulnerability links and
// discovered assets agree on ids.
func AssetIDFor(hostname string) string {
	return "asset_" + sanitizeID(hostname)
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
