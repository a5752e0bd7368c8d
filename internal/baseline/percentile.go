package baseline

import "sort"

// Percentile computes the p-quantile (0 <= p <= 1) of samples using linear
// interpolation between order statistics: rank h = (n-1)*p, value =
// x[floor(h)] + (h - floor(h)) * (x[floor(h)+1] - x[floor(h)]). This is the
// R-7 definition, matching the reference computation the historical tables
// were validated against. Returns false when samples is empty.
func Percentile(samples []float64, p float64) (float64, bool) {
	n := len(samples)
	if n == 0 {
		return 0, false
	}
	if n == 1 {
		return samples[0], true
	}
	if p <= 0 {
		p = 0
	}
	if p >= 1 {
		p = 1
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	h := float64(n-1) * p
	lo := int(h)
	if lo >= n-1 {
		return sorted[n-1], true
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo]), true
}
