package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/lvonguyen/riskforge/internal/model"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(nil, NewSyslogParser(), NewWindowsEventParser(), NewM365DefenderParser())

	if _, err := r.Parse(context.Background(), Batch{Source: "netflow"}); err == nil {
		t.Error("unknown source should be rejected")
	}

	report, err := r.Parse(context.Background(), Batch{
		Source:  SourceSyslog,
		Records: []string{"Mar 15 10:23:45 web01 sshd[1234]: Accepted password for admin from 10.0.0.5"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Parser != SourceSyslog {
		t.Errorf("report parser = %s, want %s", report.Parser, SourceSyslog)
	}

	st, ok := r.Stats(SourceSyslog)
	if !ok || st.RecordsParsed != 1 {
		t.Errorf("stats not updated: %+v", st)
	}
}

func TestRegistryCancellation(t *testing.T) {
	r := NewRegistry(nil, NewSyslogParser())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Parse(ctx, Batch{Source: SourceSyslog, Records: []string{"x"}}); err == nil {
		t.Error("cancelled context should abort parsing")
	}
}

func TestDiscoverAsset(t *testing.T) {
	tests := []struct {
		hostname string
		source   string
		wantCat  model.AssetCategory
		wantOS   string
	}{
		{"db-prod-01", SourceSyslog, model.CategoryDatabase, "Linux"},
		{"DESKTOP-A1B2C3", SourceWindowsEvent, model.CategoryWorkstation, "Windows"},
		{"fw-edge", SourceSyslog, model.CategoryNetworkDevice, "Linux"},
		{"web-srv-9", SourceSyslog, model.CategoryServer, "Linux"},
	}
	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			a := DiscoverAsset(tt.hostname, tt.source, time.Now())
			if a.Category != tt.wantCat {
				t.Errorf("category = %s, want %s", a.Category, tt.wantCat)
			}
			if a.OS != tt.wantOS {
				t.Errorf("os = %q, want %q", a.OS, tt.wantOS)
			}
			if a.ID == "" || a.ID == "asset_" {
				t.Errorf("bad id %q", a.ID)
			}
			if len(a.Tags) == 0 || a.Tags[0] != "auto-discovered" {
				t.Errorf("discovered asset should be tagged, got %v", a.Tags)
			}
			if a.PatchLevel != model.PatchUnknown {
				t.Errorf("patch level should default to unknown, got %s", a.PatchLevel)
			}
		})
	}
}

func TestAssetIDMatchesVulnerabilityLinks(t *testing.T) {
	host := "Web-Server.corp.local"
	a := DiscoverAsset(host, SourceSyslog, time.Now())
	if a.ID != AssetIDFor(host) {
		t.Errorf("discovered asset id %q does not match link id %q", a.ID, AssetIDFor(host))
	}
}
