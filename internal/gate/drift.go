package gate

import (
	"sync"

	"go.uber.org/zap"
)

// DriftState is the monitor's current position in the detection lifecycle.
type DriftState string

const (
	NoDrift        DriftState = "NoDrift"
	PotentialDrift DriftState = "PotentialDrift"
	ConfirmedDrift DriftState = "ConfirmedDrift"
)

// MonitorConfig tunes the drift battery. The defaults are deliberately
// conservative: the monitor trades detection latency for a very low false
// positive rate, because a false drift alarm invalidates scoring confidence
// downstream. A missed early detection only delays the next alarm by one
// observation window.
type MonitorConfig struct {
	// SignificanceLevel is the family-wide alpha before Bonferroni
	// correction across the battery.
	SignificanceLevel float64 `yaml:"significance_level"`
	// MinEffectSize is the minimum Cohen's d; statistically significant
	// but tiny shifts are ignored.
	MinEffectSize float64 `yaml:"min_effect_size"`
	// ConsecutiveThreshold is how many consecutive detections confirm drift.
	ConsecutiveThreshold int `yaml:"consecutive_threshold"`
	// MinSamples is the smallest window the battery will evaluate.
	MinSamples int `yaml:"min_samples"`
	// PSIThreshold is the Population Stability Index breach level.
	PSIThreshold float64 `yaml:"psi_threshold"`
}

// DefaultMonitorConfig returns the production thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SignificanceLevel:    0.001,
		MinEffectSize:        0.3,
		ConsecutiveThreshold: 3,
		MinSamples:           30,
		PSIThreshold:         0.25,
	}
}

// numDriftTests is the battery size, used for the Bonferroni correction.
const numDriftTests = 5

// Observation is the outcome of one Observe call.
type Observation struct {
	State            DriftState            `json:"state"`
	ConsecutiveCount int                   `json:"consecutiveCount"`
	Unanimous        bool                  `json:"unanimous"`
	MinPValue        float64               `json:"minPValue"`
	EffectSize       float64               `json:"effectSize"`
	Reason           string                `json:"reason,omitempty"`
	Tests            map[string]TestResult `json:"tests,omitempty"`
}

// Monitor tracks score distribution drift for one metric. Confirmation
// requires every test in the battery to agree, the smallest p-value to clear
// the Bonferroni-corrected alpha, a material effect size, and the whole
// verdict to repeat on consecutive observations. Any disagreeing observation
// resets the monitor to NoDrift.
type Monitor struct {
	cfg    MonitorConfig
	logger *zap.Logger

	mu          sync.Mutex
	state       DriftState
	consecutive int
}

// NewMonitor creates a drift monitor.
func NewMonitor(cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SignificanceLevel <= 0 {
		cfg.SignificanceLevel = 0.001
	}
	if cfg.MinEffectSize <= 0 {
		cfg.MinEffectSize = 0.3
	}
	if cfg.ConsecutiveThreshold <= 0 {
		cfg.ConsecutiveThreshold = 3
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.PSIThreshold <= 0 {
		cfg.PSIThreshold = 0.25
	}
	return &Monitor{cfg: cfg, logger: logger, state: NoDrift}
}

// State returns the monitor's current state.
func (m *Monitor) State() DriftState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset returns the monitor to NoDrift, clearing the consecutive counter.
// Called after the reference window is rebaselined.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = NoDrift
	m.consecutive = 0
}

// Observe runs the battery on a reference/current window pair and advances
// the state machine. Windows below MinSamples produce a no-drift
// observation, never an error: an undersized window is not evidence.
func (m *Monitor) Observe(reference, current []float64) Observation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(reference) < m.cfg.MinSamples || len(current) < m.cfg.MinSamples {
		return Observation{
			State:     m.state,
			Unanimous: false,
			MinPValue: 1.0,
			Reason:    "insufficient samples",
		}
	}

	alpha := m.cfg.SignificanceLevel / numDriftTests

	tests := map[string]TestResult{
		"ks":             ksTest(reference, current, alpha),
		"mann_whitney":   mannWhitneyTest(reference, current, alpha),
		"brown_forsythe": brownForsytheTest(reference, current, alpha),
		"psi":            psiTest(reference, current, m.cfg.PSIThreshold),
		"cusum":          cusumTest(reference, current),
	}

	unanimous := true
	minP := 1.0
	for _, r := range tests {
		if !r.Drift {
			unanimous = false
		}
		if r.PValue < minP {
			minP = r.PValue
		}
	}

	effect := cohensD(reference, current)
	detected := unanimous && minP < alpha && effect >= m.cfg.MinEffectSize

	obs := Observation{
		Unanimous:  unanimous,
		MinPValue:  minP,
		EffectSize: effect,
		Tests:      tests,
	}

	if !detected {
		m.state = NoDrift
		m.consecutive = 0
		obs.State = NoDrift
		return obs
	}

	m.consecutive++
	obs.ConsecutiveCount = m.consecutive
	if m.consecutive >= m.cfg.ConsecutiveThreshold {
		m.state = ConfirmedDrift
		m.logger.Warn("distribution drift confirmed",
			zap.Float64("minPValue", minP),
			zap.Float64("effectSize", effect),
			zap.Int("consecutive", m.consecutive),
		)
	} else {
		m.state = PotentialDrift
	}
	obs.State = m.state
	return obs
}
