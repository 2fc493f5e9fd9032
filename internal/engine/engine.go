// Package engine orchestrates the full evaluation pipeline: ingestion into
// the entity store, concurrent asset scoring, scenario correlation, the
// confidence gate and drift monitoring. The engine is the only component
// that mutates the store during an evaluation; everything downstream works
// on snapshots.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/riskforge/internal/gate"
	"github.com/lvonguyen/riskforge/internal/ingest"
	"github.com/lvonguyen/riskforge/internal/intel"
	"github.com/lvonguyen/riskforge/internal/model"
	"github.com/lvonguyen/riskforge/internal/remediation"
	"github.com/lvonguyen/riskforge/internal/scenario"
	"github.com/lvonguyen/riskforge/internal/scoring"
	"github.com/lvonguyen/riskforge/internal/store"
)

// Risk band boundaries for the summary.
const (
	BandCritical = 90.0
	BandHigh     = 70.0
	BandMedium   = 40.0
)

// Profile is one scoring configuration used as a gate estimator. The
// profiles deliberately weight the same facts differently so their spread
// measures how sensitive an asset's score is to modeling choices.
type Profile struct {
	Name           string
	Config         scoring.Config
	BaseConfidence float64
}

// DefaultProfiles returns the three production estimator profiles: the
// balanced production tables, an exploit-forward variant and an
// exposure-forward variant.
func DefaultProfiles() []Profile {
	balanced := scoring.DefaultConfig()

	exploit := scoring.DefaultConfig()
	exploit.ExploitPublicFactor = 1.6
	exploit.ExploitAvailableFactor = 1.4
	exploit.TopVulnerabilityWeight = 0.7

	exposure := scoring.DefaultConfig()
	exposure.Weights.VulnerabilitySeverity = 0.30
	exposure.Weights.Exposure = 0.15

	return []Profile{
		{Name: "balanced", Config: balanced, BaseConfidence: 0.98},
		{Name: "exploit-forward", Config: exploit, BaseConfidence: 0.97},
		{Name: "exposure-forward", Config: exposure, BaseConfidence: 0.96},
	}
}

// Options wires the engine's collaborators. Nil fields get working defaults.
type Options struct {
	Store      *store.Store
	Registry   *ingest.Registry
	Scoring    scoring.Config
	Profiles   []Profile
	Correlator *scenario.Correlator
	Thresholds gate.Thresholds
	Drift      *gate.Monitor
	Plans      *remediation.Library
	Intel      intel.Provider
	Workers    int
	Logger     *zap.Logger
}

// Evaluation is the outcome of one full pipeline pass.
type Evaluation struct {
	Summary     model.Summary               `json:"summary"`
	Results     map[string]scoring.Result   `json:"results"`
	Decisions   map[string]gate.Decision    `json:"decisions"`
	Scenarios   []model.RiskScenario        `json:"scenarios"`
	Drift       *gate.Observation           `json:"drift,omitempty"`
	EvaluatedAt time.Time                   `json:"evaluatedAt"`
}

// Engine owns the store and runs the pipeline.
type Engine struct {
	store      *store.Store
	registry   *ingest.Registry
	scoring    scoring.Config
	profiles   []Profile
	correlator *scenario.Correlator
	thresholds gate.Thresholds
	drift      *gate.Monitor
	plans      *remediation.Library
	intel      intel.Provider
	workers    int
	logger     *zap.Logger

	mu         sync.Mutex
	lastScores []float64
	lastEval   *Evaluation
}

// New creates an engine from options, filling defaults for nil fields.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = store.New(opts.Logger)
	}
	if opts.Registry == nil {
		opts.Registry = ingest.NewRegistry(opts.Logger,
			ingest.NewSyslogParser(),
			ingest.NewWindowsEventParser(),
			ingest.NewM365DefenderParser(),
		)
	}
	if opts.Scoring.SeverityMultipliers == nil {
		opts.Scoring = scoring.DefaultConfig()
	}
	if opts.Profiles == nil {
		opts.Profiles = DefaultProfiles()
	}
	if opts.Correlator == nil {
		opts.Correlator = scenario.New(nil, opts.Logger)
	}
	if opts.Thresholds == (gate.Thresholds{}) {
		opts.Thresholds = gate.DefaultThresholds()
	}
	if opts.Drift == nil {
		opts.Drift = gate.NewMonitor(gate.DefaultMonitorConfig(), opts.Logger)
	}
	if opts.Plans == nil {
		opts.Plans = remediation.NewLibrary(opts.Logger)
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Engine{
		store:      opts.Store,
		registry:   opts.Registry,
		scoring:    opts.Scoring,
		profiles:   opts.Profiles,
		correlator: opts.Correlator,
		thresholds: opts.Thresholds,
		drift:      opts.Drift,
		plans:      opts.Plans,
		intel:      opts.Intel,
		workers:    opts.Workers,
		logger:     opts.Logger,
	}
}

// Store exposes the entity store for the query surface.
func (e *Engine) Store() *store.Store { return e.store }

// Registry exposes the parser registry.
func (e *Engine) Registry() *ingest.Registry { return e.registry }

// IngestBatch parses a raw batch, auto-discovers unseen hosts, and applies
// the parsed vulnerabilities to the store. Rejected records are reported,
// not fatal; a vulnerability the store refuses is logged and skipped.
func (e *Engine) IngestBatch(ctx context.Context, batch ingest.Batch) (*ingest.Report, error) {
	report, err := e.registry.Parse(ctx, batch)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, hostname := range report.Hostnames {
		id := ingest.AssetIDFor(hostname)
		if _, err := e.store.Asset(id); err == nil {
			continue
		}
		discovered := ingest.DiscoverAsset(hostname, batch.Source, now)
		if err := e.store.UpsertAsset(discovered); err != nil {
			e.logger.Warn("auto-discovery rejected",
				zap.String("hostname", hostname),
				zap.Error(err),
			)
		}
	}

	for _, v := range report.Vulnerabilities {
		if _, err := e.store.AddVulnerability(v); err != nil {
			e.logger.Warn("vulnerability rejected",
				zap.String("id", v.ID),
				zap.Error(err),
			)
		}
	}

	assets, vulns := e.store.Counts()
	e.logger.Info("batch ingested",
		zap.String("source", batch.Source),
		zap.Int("events", len(report.Events)),
		zap.Int("rejected", len(report.Rejected)),
		zap.Int("storeAssets", assets),
		zap.Int("storeVulnerabilities", vulns),
	)
	return report, nil
}

// RefreshIntel pulls weights from the configured provider and merges them
// into the store. A nil provider is a no-op.
func (e *Engine) RefreshIntel(ctx context.Context, since time.Time) error {
	if e.intel == nil {
		return nil
	}
	weights, err := e.intel.FetchWeights(ctx, since)
	if err != nil {
		return fmt.Errorf("refreshing threat intel from %s: %w", e.intel.Name(), err)
	}
	e.store.MergeThreatIntel(weights)
	e.logger.Info("threat intel refreshed",
		zap.String("provider", e.intel.Name()),
		zap.Int("weights", len(weights)),
	)
	return nil
}

type scoreJob struct {
	assetID string
}

type scoreOutcome struct {
	assetID  string
	result   scoring.Result
	decision gate.Decision
}

// Evaluate runs the full pipeline: snapshot, concurrent scoring, the
// correlation barrier, gating, drift observation and summary. Correlation
// never starts before every asset's aggregation has completed.
func (e *Engine) Evaluate(ctx context.Context) (*Evaluation, error) {
	snap := e.store.Snapshot()
	ids := snap.SortedAssetIDs()

	jobs := make(chan scoreJob)
	outcomes := make(chan scoreOutcome, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				outcomes <- e.scoreOne(snap, job.assetID)
			}
		}()
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		case jobs <- scoreJob{assetID: id}:
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	results := make(map[string]scoring.Result, len(ids))
	decisions := make(map[string]gate.Decision, len(ids))
	scores := make(map[string]float64, len(ids))
	for out := range outcomes {
		results[out.assetID] = out.result
		decisions[out.assetID] = out.decision
		scores[out.assetID] = out.result.TotalRiskScore
	}

	for id, score := range scores {
		if err := e.store.SetRiskScore(id, score); err != nil {
			e.logger.Warn("persisting score failed", zap.String("asset", id), zap.Error(err))
		}
	}

	scenarios, err := e.correlator.Correlate(ctx, snap, scores)
	if err != nil {
		return nil, err
	}
	for i := range scenarios {
		scenarios[i].RemediationPlan = e.plans.PlanFor(scenarios[i])
	}

	eval := &Evaluation{
		Summary:     e.summarize(snap, scores, len(scenarios)),
		Results:     results,
		Decisions:   decisions,
		Scenarios:   scenarios,
		EvaluatedAt: time.Now(),
	}

	current := make([]float64, 0, len(ids))
	for _, id := range ids {
		if snap.Assets[id].Active {
			current = append(current, scores[id])
		}
	}
	e.mu.Lock()
	if len(e.lastScores) > 0 {
		obs := e.drift.Observe(e.lastScores, current)
		eval.Drift = &obs
	}
	e.lastScores = current
	e.lastEval = eval
	e.mu.Unlock()

	e.logger.Info("evaluation complete",
		zap.Int("assets", len(ids)),
		zap.Int("scenarios", len(scenarios)),
		zap.Float64("averageRisk", eval.Summary.AverageRiskScore),
	)
	return eval, nil
}

// scoreOne computes the canonical result and the gate decision for an asset.
func (e *Engine) scoreOne(snap *store.Snapshot, assetID string) scoreOutcome {
	asset := snap.Assets[assetID]
	vulns := snap.AssetVulnerabilities(assetID)

	weights := make(map[string]float64, len(vulns))
	for _, v := range vulns {
		if w := snap.ThreatWeight(v); w > 0 {
			weights[v.ID] = w
		}
	}

	result := e.scoring.ScoreAsset(asset, vulns, weights)

	conf := completeness(asset, vulns)
	estimates := make([]gate.Estimate, 0, len(e.profiles))
	for _, p := range e.profiles {
		r := p.Config.ScoreAsset(asset, vulns, weights)
		estimates = append(estimates, gate.Estimate{
			Score:      r.TotalRiskScore,
			Confidence: p.BaseConfidence * conf,
		})
	}

	return scoreOutcome{
		assetID:  assetID,
		result:   result,
		decision: gate.Classify(estimates, e.thresholds),
	}
}

// completeness discounts estimator confidence for unknown posture fields and
// vulnerabilities without a CVE id, so thin data never certifies.
func completeness(a model.Asset, vulns []model.Vulnerability) float64 {
	c := 1.0
	if a.PatchLevel == model.PatchUnknown {
		c -= 0.02
	}
	if a.AntivirusStatus == model.AntivirusUnknown {
		c -= 0.02
	}
	if len(vulns) > 0 {
		missing := 0
		for _, v := range vulns {
			if v.CVEID == "" {
				missing++
			}
		}
		c -= 0.03 * float64(missing) / float64(len(vulns))
	}
	return c
}

func (e *Engine) summarize(snap *store.Snapshot, scores map[string]float64, scenarios int) model.Summary {
	s := model.Summary{
		TotalVulnerabilities: len(snap.Vulnerabilities),
		SeverityCounts:       make(map[model.Severity]int),
		RiskScenarios:        scenarios,
		LastEvaluatedAt:      time.Now(),
	}

	var sum float64
	for id, a := range snap.Assets {
		if !a.Active {
			continue
		}
		s.TotalAssets++
		score := scores[id]
		sum += score
		switch {
		case score >= BandCritical:
			s.CriticalAssets++
		case score >= BandHigh:
			s.HighRiskAssets++
		case score >= BandMedium:
			s.MediumRiskAssets++
		default:
			s.LowRiskAssets++
		}
	}
	if s.TotalAssets > 0 {
		s.AverageRiskScore = sum / float64(s.TotalAssets)
	}

	for _, v := range snap.Vulnerabilities {
		s.SeverityCounts[v.Severity]++
	}
	return s
}

// LastEvaluation returns the most recent pipeline result, or nil before the
// first Evaluate call.
func (e *Engine) LastEvaluation() *Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastEval
}

// Assets returns all assets in deterministic order.
func (e *Engine) Assets() []model.Asset {
	snap := e.store.Snapshot()
	out := make([]model.Asset, 0, len(snap.Assets))
	for _, id := range snap.SortedAssetIDs() {
		out = append(out, snap.Assets[id])
	}
	return out
}

// Vulnerabilities returns all vulnerabilities in deterministic order.
func (e *Engine) Vulnerabilities() []model.Vulnerability {
	snap := e.store.Snapshot()
	ids := make([]string, 0, len(snap.Vulnerabilities))
	for id := range snap.Vulnerabilities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Vulnerability, 0, len(ids))
	for _, id := range ids {
		out = append(out, snap.Vulnerabilities[id])
	}
	return out
}
