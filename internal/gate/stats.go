package gate

import (
	"math"
	"sort"
)

// Two-sample statistical tests used by the drift battery. Windows are large
// (hundreds of samples), so normal approximations are used where the exact
// distribution would need special functions.

// TestResult is one test's verdict on a reference/current window pair.
type TestResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"pValue"`
	Drift     bool    `json:"drift"`
}

// normalCDF is the standard normal CDF.
func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs)-1)
}

func stdDev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// ksTest is the two-sample Kolmogorov-Smirnov test. The p-value uses the
// asymptotic Kolmogorov distribution.
func ksTest(ref, cur []float64, alpha float64) TestResult {
	refSorted := append([]float64(nil), ref...)
	curSorted := append([]float64(nil), cur...)
	sort.Float64s(refSorted)
	sort.Float64s(curSorted)

	n1, n2 := len(refSorted), len(curSorted)
	var d float64
	i, j := 0, 0
	for i < n1 && j < n2 {
		if refSorted[i] <= curSorted[j] {
			i++
		} else {
			j++
		}
		diff := math.Abs(float64(i)/float64(n1) - float64(j)/float64(n2))
		if diff > d {
			d = diff
		}
	}

	ne := float64(n1) * float64(n2) / float64(n1+n2)
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * d

	// Kolmogorov distribution tail.
	var p float64
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k)*float64(k)*lambda*lambda)
		p += term
		sign = -sign
		if math.Abs(term) < 1e-12 {
			break
		}
	}
	p = clamp01(2 * p)

	return TestResult{Statistic: d, PValue: p, Drift: p < alpha}
}

// mannWhitneyTest is the Mann-Whitney U test for a location shift, using the
// normal approximation with average ranks for ties.
func mannWhitneyTest(ref, cur []float64, alpha float64) TestResult {
	n1, n2 := len(ref), len(cur)
	type sample struct {
		value float64
		ref   bool
	}
	all := make([]sample, 0, n1+n2)
	for _, x := range ref {
		all = append(all, sample{x, true})
	}
	for _, x := range cur {
		all = append(all, sample{x, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	// Average ranks across ties.
	ranks := make([]float64, len(all))
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].value == all[i].value {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[k] = avg
		}
		i = j
	}

	var r1 float64
	for i, s := range all {
		if s.ref {
			r1 += ranks[i]
		}
	}
	u1 := r1 - float64(n1)*float64(n1+1)/2
	u := math.Min(u1, float64(n1)*float64(n2)-u1)

	meanU := float64(n1) * float64(n2) / 2
	sdU := math.Sqrt(float64(n1) * float64(n2) * float64(n1+n2+1) / 12)
	if sdU == 0 {
		return TestResult{Statistic: u, PValue: 1, Drift: false}
	}
	z := (u - meanU) / sdU
	p := clamp01(2 * normalCDF(-math.Abs(z)))

	return TestResult{Statistic: u, PValue: p, Drift: p < alpha}
}

// brownForsytheTest compares spread. Each sample is transformed to absolute
// deviations from its median, then a Welch test runs on the transformed
// values; with drift windows this large the normal approximation holds.
func brownForsytheTest(ref, cur []float64, alpha float64) TestResult {
	refMed, curMed := median(ref), median(cur)

	refDev := make([]float64, len(ref))
	for i, x := range ref {
		refDev[i] = math.Abs(x - refMed)
	}
	curDev := make([]float64, len(cur))
	for i, x := range cur {
		curDev[i] = math.Abs(x - curMed)
	}

	se := math.Sqrt(variance(refDev)/float64(len(refDev)) + variance(curDev)/float64(len(curDev)))
	if se == 0 {
		return TestResult{Statistic: 0, PValue: 1, Drift: false}
	}
	t := (mean(curDev) - mean(refDev)) / se
	p := clamp01(2 * normalCDF(-math.Abs(t)))

	return TestResult{Statistic: t, PValue: p, Drift: p < alpha}
}

// psiTest is the Population Stability Index over 10 bins spanning the
// combined range. PSI has no p-value; the conventional pseudo p marks a
// breach of the 0.25 threshold.
func psiTest(ref, cur []float64, threshold float64) TestResult {
	const bins = 10
	const epsilon = 1e-10

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range append(append([]float64(nil), ref...), cur...) {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if hi <= lo {
		return TestResult{Statistic: 0, PValue: 1, Drift: false}
	}

	width := (hi - lo) / bins
	refCounts := make([]float64, bins)
	curCounts := make([]float64, bins)
	binOf := func(x float64) int {
		b := int((x - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		return b
	}
	for _, x := range ref {
		refCounts[binOf(x)]++
	}
	for _, x := range cur {
		curCounts[binOf(x)]++
	}

	var psi float64
	for b := 0; b < bins; b++ {
		refPct := refCounts[b]/float64(len(ref)) + epsilon
		curPct := curCounts[b]/float64(len(cur)) + epsilon
		psi += (curPct - refPct) * math.Log(curPct/refPct)
	}

	drift := psi >= threshold
	p := 1.0
	if drift {
		p = 0.01
	}
	return TestResult{Statistic: psi, PValue: p, Drift: drift}
}

// cusumTest accumulates deviations of the current window from the reference
// mean. The decision threshold is 6 reference standard deviations, with the
// usual half-sigma slack.
func cusumTest(ref, cur []float64) TestResult {
	refMean := mean(ref)
	refStd := stdDev(ref)
	if refStd == 0 {
		return TestResult{Statistic: 0, PValue: 1, Drift: false}
	}

	k := 0.5 * refStd
	h := 6 * refStd

	var pos, neg float64
	for _, x := range cur {
		pos = math.Max(0, pos+(x-refMean-k))
		neg = math.Max(0, neg-(x-refMean+k))
	}

	stat := math.Max(pos, neg)
	drift := stat > h
	p := 1.0
	if drift {
		p = 0.01
	}
	return TestResult{Statistic: stat, PValue: p, Drift: drift}
}

// cohensD is the absolute standardized mean difference.
func cohensD(ref, cur []float64) float64 {
	n1, n2 := float64(len(ref)), float64(len(cur))
	if n1 < 2 || n2 < 2 {
		return 0
	}
	pooled := math.Sqrt(((n1-1)*variance(ref) + (n2-1)*variance(cur)) / (n1 + n2 - 2))
	if pooled == 0 {
		return 0
	}
	return math.Abs(mean(cur)-mean(ref)) / pooled
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
