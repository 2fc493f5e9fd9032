package gate

import "math"

// Precision labels the gate's verdict on an ensemble of score estimates.
type Precision string

const (
	// PrecisionUltraHigh marks a score every estimator agrees on with high
	// calibrated confidence and low spread.
	PrecisionUltraHigh Precision = "UltraHigh"
	// PrecisionStandard marks everything else. Standard scores are still
	// served, just not certified.
	PrecisionStandard Precision = "Standard"
)

// Estimate is one estimator's score and calibrated confidence.
type Estimate struct {
	Score      float64 `json:"score"`      // 0-100
	Confidence float64 `json:"confidence"` // 0-1
}

// Thresholds are the certification bounds. All three must hold for an
// UltraHigh verdict.
type Thresholds struct {
	MinAgreement   float64 `yaml:"min_agreement"`
	MinConfidence  float64 `yaml:"min_confidence"`
	MaxUncertainty float64 `yaml:"max_uncertainty"`
}

// DefaultThresholds returns the production certification bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAgreement:   0.90,
		MinConfidence:  0.95,
		MaxUncertainty: 0.05,
	}
}

// Decision is the gate's verdict plus the derived quantities behind it, so
// callers can explain a downgrade.
type Decision struct {
	Precision      Precision `json:"precision"`
	Score          float64   `json:"score"`
	Agreement      float64   `json:"agreement"`
	MeanConfidence float64   `json:"meanConfidence"`
	Uncertainty    float64   `json:"uncertainty"`
}

// Classify gates an ensemble of estimates. Pure and stateless: the same
// estimates always produce the same decision.
//
// Agreement is 1 minus the coefficient of variation of the scores (capped at
// 1), so identical estimates agree perfectly and widely spread ones do not.
// Uncertainty is the score standard deviation on the 0-1 scale.
func Classify(estimates []Estimate, t Thresholds) Decision {
	if len(estimates) == 0 {
		return Decision{Precision: PrecisionStandard}
	}

	scores := make([]float64, len(estimates))
	var confSum float64
	for i, e := range estimates {
		scores[i] = e.Score
		confSum += e.Confidence
	}

	scoreMean := mean(scores)
	scoreStd := stdDev(scores)

	agreement := 1.0
	if scoreMean > 0 {
		agreement = 1.0 - math.Min(scoreStd/scoreMean, 1.0)
	} else if scoreStd > 0 {
		agreement = 0
	}

	uncertainty := scoreStd / 100.0
	meanConfidence := confSum / float64(len(estimates))

	d := Decision{
		Precision:      PrecisionStandard,
		Score:          scoreMean,
		Agreement:      agreement,
		MeanConfidence: meanConfidence,
		Uncertainty:    uncertainty,
	}
	if agreement >= t.MinAgreement &&
		meanConfidence >= t.MinConfidence &&
		uncertainty <= t.MaxUncertainty {
		d.Precision = PrecisionUltraHigh
	}
	return d
}
