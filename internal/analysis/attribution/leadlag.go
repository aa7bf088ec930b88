package attribution

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/seenimoa/marketlens/pkg/models"
)

// Lead-lag scan settings.
const (
	DefaultMaxLag       = 5
	MinLeadLagObs       = 60
	SignificantLeadCorr = 0.3
)

// LeadLag correlates the driver's return k days earlier with the target's
// return, for k = 1..maxLag over the dates both series share, and reports the
// lag with the largest absolute correlation.
func (e *Engine) LeadLag(driver string, target, driverReturns Returns, maxLag int) models.LeadLag {
	if maxLag <= 0 {
		maxLag = DefaultMaxLag
	}
	out := models.LeadLag{Driver: driver}

	var dates []time.Time
	for d, v := range target {
		if dv, ok := driverReturns[d]; ok && finite(v) && finite(dv) {
			dates = append(dates, d)
		}
	}
	if len(dates) < MinLeadLagObs {
		out.Error = fmt.Sprintf("Insufficient data for lead-lag scan (%d < %d observations)", len(dates), MinLeadLagObs)
		return out
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	t := make([]float64, len(dates))
	d := make([]float64, len(dates))
	for i, day := range dates {
		t[i], d[i] = target[day], driverReturns[day]
	}

	for k := 1; k <= maxLag && k < len(dates)-1; k++ {
		c := correlation(d[:len(d)-k], t[k:])
		if out.BestLag == 0 || math.Abs(c) > math.Abs(out.Correlation) {
			out.BestLag, out.Correlation = k, c
		}
	}

	out.Significant = math.Abs(out.Correlation) >= SignificantLeadCorr
	if out.Significant {
		out.Interpretation = fmt.Sprintf("Leads by %d day(s)", out.BestLag)
	} else {
		out.Interpretation = "No significant lead"
	}
	return out
}

// correlation is the Pearson coefficient, 0 when either series has no variance.
func correlation(a, b []float64) float64 {
	if len(a) < 2 {
		return 0
	}
	c := stat.Correlation(a, b, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}
