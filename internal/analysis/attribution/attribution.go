// Package attribution explains a target asset's daily return through the
// returns of correlated driver assets, using a ridge regression fitted on
// a trailing window that ends before the day being explained.
package attribution

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/seenimoa/marketlens/internal/config"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/pkg/models"
)

// Errors carried in AttributionResult.Error. The messages are shown to users as is.
var (
	ErrInsufficientData = errors.New("Insufficient training data (< 20 days)")
	ErrNoOverlap        = errors.New("No overlapping data found between target and drivers")
	ErrDateNotFound     = errors.New("not found in data")
	ErrNoDrivers        = errors.New("no drivers")
)

// Defaults for a zero config.
const (
	DefaultWindow          = 60
	DefaultMinObservations = 20
	DefaultAlpha           = 0.1
)

// Returns is a daily simple-return series keyed by models.DateKey.
type Returns map[time.Time]float64

// FrameReturns builds a return series from a price frame.
func FrameReturns(f *models.Frame) Returns {
	return Returns(f.Returns())
}

// Engine is stateless apart from its settings and safe for concurrent use.
type Engine struct {
	window int
	minObs int
	alpha  float64
	log    *logger.Entry
}

// New creates an engine; zero settings take the defaults. Alpha must be
// positive so the regularized system is always solvable.
func New(cfg config.AttributionConfig) *Engine {
	e := &Engine{
		window: cfg.Window,
		minObs: cfg.MinObservations,
		alpha:  cfg.Alpha,
		log:    logger.GetLogger().WithComponent("attribution"),
	}
	if e.window <= 0 {
		e.window = DefaultWindow
	}
	if e.minObs <= 0 {
		e.minObs = DefaultMinObservations
	}
	if e.alpha <= 0 {
		e.alpha = DefaultAlpha
	}
	return e
}

// AttributeDriverReturns explains the target's return on date. Failures are
// reported in the result's Error field. A zero date means the last aligned
// date; a date with no row uses the closest previous one. window <= 0 uses
// the engine default.
func (e *Engine) AttributeDriverReturns(target string, targetReturns Returns, drivers map[string]Returns, date time.Time, window int) models.AttributionResult {
	res, err := e.Attribute(target, targetReturns, drivers, date, window)
	if err != nil {
		e.log.WithError(err).WithField("target", target).Debug("attribution unavailable")
		return models.AttributionResult{Target: target, Error: err.Error()}
	}
	return res
}

// Attribute is AttributeDriverReturns with the failure returned as an error.
func (e *Engine) Attribute(target string, targetReturns Returns, drivers map[string]Returns, date time.Time, window int) (models.AttributionResult, error) {
	if window <= 0 {
		window = e.window
	}
	if len(drivers) == 0 {
		return models.AttributionResult{}, ErrNoDrivers
	}

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)

	dates, y, x := align(targetReturns, drivers, names)
	if len(dates) == 0 {
		return models.AttributionResult{}, ErrNoOverlap
	}

	idx := len(dates) - 1
	if !date.IsZero() {
		idx = closestOnOrBefore(dates, models.DateKey(date))
		if idx < 0 {
			return models.AttributionResult{}, fmt.Errorf("date %s %w", date.Format("2006-01-02"), ErrDateNotFound)
		}
	}

	// rows strictly before idx
	start := max(0, idx-window)
	if idx-start < e.minObs {
		return models.AttributionResult{}, ErrInsufficientData
	}
	trainX, trainY := x[start:idx], y[start:idx]

	fit, err := fitRidge(trainX, trainY, e.alpha)
	if err != nil {
		return models.AttributionResult{}, err
	}

	targetRet := y[idx]
	res := models.AttributionResult{
		Date:         dates[idx],
		Target:       target,
		TargetReturn: targetRet * 100,
		Intercept:    fit.intercept * 100,
		RSquared:     fit.rSquared(trainX, trainY),
		Observations: len(trainY),
	}
	res.TotalExplained = res.Intercept

	for j, name := range names {
		driverRet := x[idx][j]
		contribution := fit.coef[j] * driverRet
		dc := models.DriverContribution{
			Symbol:       name,
			Coefficient:  fit.coef[j],
			DriverReturn: driverRet * 100,
			Contribution: contribution * 100,
		}
		if targetRet != 0 {
			dc.ContributionPct = contribution / targetRet * 100
		}
		res.Contributions = append(res.Contributions, dc)
		res.TotalExplained += dc.Contribution
	}
	sort.SliceStable(res.Contributions, func(i, j int) bool {
		return math.Abs(res.Contributions[i].ContributionPct) > math.Abs(res.Contributions[j].ContributionPct)
	})

	res.Unexplained = res.TargetReturn - res.TotalExplained
	if targetRet != 0 {
		res.UnexplainedPct = res.Unexplained / res.TargetReturn * 100
	}
	return res, nil
}

// align keeps dates where the target and every driver have a finite return,
// ascending. Column j of x belongs to names[j].
func align(target Returns, drivers map[string]Returns, names []string) ([]time.Time, []float64, [][]float64) {
	var dates []time.Time
	for d, v := range target {
		if !finite(v) {
			continue
		}
		ok := true
		for _, name := range names {
			if dv, has := drivers[name][d]; !has || !finite(dv) {
				ok = false
				break
			}
		}
		if ok {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	y := make([]float64, len(dates))
	x := make([][]float64, len(dates))
	for i, d := range dates {
		y[i] = target[d]
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = drivers[name][d]
		}
		x[i] = row
	}
	return dates, y, x
}

// closestOnOrBefore returns the index of date, or of the latest earlier date, or -1.
func closestOnOrBefore(dates []time.Time, date time.Time) int {
	i := sort.Search(len(dates), func(i int) bool { return dates[i].After(date) })
	return i - 1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
