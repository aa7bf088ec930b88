package attribution

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/marketlens/internal/config"
	"github.com/seenimoa/marketlens/pkg/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dayN(i int) time.Time { return day0.AddDate(0, 0, i) }

// linearSeries builds n days where target = 0.001 + 0.8·a - 0.5·b exactly.
func linearSeries(n int, seed int64) (Returns, map[string]Returns) {
	rng := rand.New(rand.NewSource(seed))
	target := Returns{}
	a, b := Returns{}, Returns{}
	for i := 0; i < n; i++ {
		ra := rng.NormFloat64() * 0.01
		rb := rng.NormFloat64() * 0.01
		a[dayN(i)] = ra
		b[dayN(i)] = rb
		target[dayN(i)] = 0.001 + 0.8*ra - 0.5*rb
	}
	return target, map[string]Returns{"A": a, "B": b}
}

func coefficients(r models.AttributionResult) map[string]float64 {
	out := make(map[string]float64, len(r.Contributions))
	for _, c := range r.Contributions {
		out[c.Symbol] = c.Coefficient
	}
	return out
}

func TestInsufficientTrainingData(t *testing.T) {
	target, drivers := linearSeries(16, 1)
	e := New(config.AttributionConfig{})

	res := e.AttributeDriverReturns("NIFTY", target, drivers, time.Time{}, 60)
	assert.Equal(t, "Insufficient training data (< 20 days)", res.Error)
	assert.Empty(t, res.Contributions)

	_, err := e.Attribute("NIFTY", target, drivers, time.Time{}, 60)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrainingWindowCountsOnlyPriorRows(t *testing.T) {
	target, drivers := linearSeries(21, 1)
	e := New(config.AttributionConfig{})

	// 20 rows before the last date is exactly enough
	res, err := e.Attribute("NIFTY", target, drivers, time.Time{}, 60)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Observations)

	_, err = e.Attribute("NIFTY", target, drivers, dayN(19), 60)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestNoOverlap(t *testing.T) {
	target := Returns{dayN(0): 0.01, dayN(1): 0.02}
	drivers := map[string]Returns{"A": {dayN(5): 0.01}}

	res := New(config.AttributionConfig{}).AttributeDriverReturns("X", target, drivers, time.Time{}, 0)
	assert.Equal(t, "No overlapping data found between target and drivers", res.Error)
}

func TestNoDrivers(t *testing.T) {
	_, err := New(config.AttributionConfig{}).Attribute("X", Returns{dayN(0): 0.01}, nil, time.Time{}, 0)
	assert.ErrorIs(t, err, ErrNoDrivers)
}

func TestCoefficientRecovery(t *testing.T) {
	target, drivers := linearSeries(100, 2)
	e := New(config.AttributionConfig{Alpha: 1e-10})

	res, err := e.Attribute("NIFTY", target, drivers, time.Time{}, 60)
	require.NoError(t, err)
	assert.Equal(t, 60, res.Observations)
	assert.Equal(t, dayN(99), res.Date)

	coef := coefficients(res)
	assert.InDelta(t, 0.8, coef["A"], 1e-4)
	assert.InDelta(t, -0.5, coef["B"], 1e-4)
	assert.InDelta(t, 0.1, res.Intercept, 1e-4)
	assert.InDelta(t, 1, res.RSquared, 1e-6)
	assert.InDelta(t, 0, res.Unexplained, 1e-4)
}

func TestRidgeShrinksCoefficients(t *testing.T) {
	target, drivers := linearSeries(100, 3)
	loose, err := New(config.AttributionConfig{Alpha: 1e-10}).Attribute("T", target, drivers, time.Time{}, 60)
	require.NoError(t, err)
	tight, err := New(config.AttributionConfig{Alpha: 0.1}).Attribute("T", target, drivers, time.Time{}, 60)
	require.NoError(t, err)

	assert.Less(t, math.Abs(coefficients(tight)["A"]), math.Abs(coefficients(loose)["A"]))
}

func TestExplainedPlusUnexplainedIsTargetReturn(t *testing.T) {
	target, drivers := linearSeries(90, 4)
	rng := rand.New(rand.NewSource(9))
	for d, v := range target {
		target[d] = v + rng.NormFloat64()*0.002
	}

	res, err := New(config.AttributionConfig{}).Attribute("T", target, drivers, time.Time{}, 0)
	require.NoError(t, err)

	sum := res.Intercept
	for _, c := range res.Contributions {
		sum += c.Contribution
	}
	assert.InDelta(t, res.TotalExplained, sum, 1e-12)
	assert.InDelta(t, res.TargetReturn, res.TotalExplained+res.Unexplained, 1e-12)
	for i := 1; i < len(res.Contributions); i++ {
		assert.GreaterOrEqual(t, math.Abs(res.Contributions[i-1].ContributionPct), math.Abs(res.Contributions[i].ContributionPct))
	}
}

func TestNoLookAhead(t *testing.T) {
	e := New(config.AttributionConfig{})
	rng := rand.New(rand.NewSource(11))

	for iter := 0; iter < 20; iter++ {
		target, drivers := linearSeries(80, int64(100+iter))
		date := dayN(40 + rng.Intn(40))

		base, err := e.Attribute("T", target, drivers, date, 30)
		require.NoError(t, err)

		target[date] = rng.NormFloat64()
		drivers["A"][date] = rng.NormFloat64()
		drivers["B"][date] = rng.NormFloat64()

		mutated, err := e.Attribute("T", target, drivers, date, 30)
		require.NoError(t, err)

		assert.Equal(t, coefficients(base), coefficients(mutated), "iteration %d", iter)
		assert.Equal(t, base.Intercept, mutated.Intercept)
		assert.Equal(t, base.RSquared, mutated.RSquared)
	}
}

func TestZeroTargetReturnGuard(t *testing.T) {
	target, drivers := linearSeries(40, 5)
	target[dayN(39)] = 0

	res, err := New(config.AttributionConfig{}).Attribute("T", target, drivers, time.Time{}, 0)
	require.NoError(t, err)
	assert.Zero(t, res.TargetReturn)
	assert.Zero(t, res.UnexplainedPct)
	for _, c := range res.Contributions {
		assert.Zero(t, c.ContributionPct)
		assert.False(t, math.IsNaN(c.ContributionPct))
	}
}

func TestClosestPreviousDate(t *testing.T) {
	target, drivers := linearSeries(40, 6)
	delete(target, dayN(35))
	e := New(config.AttributionConfig{})

	res, err := e.Attribute("T", target, drivers, dayN(35).Add(15*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, dayN(34), res.Date)

	_, err = e.Attribute("T", target, drivers, day0.AddDate(0, 0, -3), 0)
	assert.ErrorIs(t, err, ErrDateNotFound)
}

func TestNonFiniteRowsDropped(t *testing.T) {
	target, drivers := linearSeries(30, 7)
	drivers["A"][dayN(29)] = math.NaN()

	res, err := New(config.AttributionConfig{}).Attribute("T", target, drivers, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, dayN(28), res.Date)
}

func TestFrameReturns(t *testing.T) {
	f := &models.Frame{Bars: []models.OHLCV{
		{Timestamp: dayN(0), Close: 100},
		{Timestamp: dayN(1), Close: 105},
	}}
	r := FrameReturns(f)
	require.Len(t, r, 1)
	assert.InDelta(t, 0.05, r[dayN(1)], 1e-12)
}

// ── Lead-lag ──

func TestLeadLagFindsLag(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	driver, target := Returns{}, Returns{}
	raw := make([]float64, 120)
	for i := range raw {
		raw[i] = rng.NormFloat64() * 0.01
		driver[dayN(i)] = raw[i]
	}
	for i := range raw {
		if i < 2 {
			target[dayN(i)] = rng.NormFloat64() * 0.01
			continue
		}
		target[dayN(i)] = raw[i-2]
	}

	ll := New(config.AttributionConfig{}).LeadLag("USDINR", target, driver, 0)
	assert.Empty(t, ll.Error)
	assert.Equal(t, 2, ll.BestLag)
	assert.InDelta(t, 1, ll.Correlation, 1e-9)
	assert.True(t, ll.Significant)
	assert.Equal(t, "Leads by 2 day(s)", ll.Interpretation)
}

func TestLeadLagIndependentSeries(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	driver, target := Returns{}, Returns{}
	for i := 0; i < 250; i++ {
		driver[dayN(i)] = rng.NormFloat64()
		target[dayN(i)] = rng.NormFloat64()
	}

	ll := New(config.AttributionConfig{}).LeadLag("CRUDE", target, driver, 5)
	assert.Empty(t, ll.Error)
	assert.False(t, ll.Significant)
	assert.Equal(t, "No significant lead", ll.Interpretation)
	assert.GreaterOrEqual(t, ll.BestLag, 1)
	assert.LessOrEqual(t, ll.BestLag, 5)
}

func TestLeadLagInsufficientData(t *testing.T) {
	target, drivers := linearSeries(MinLeadLagObs-1, 8)
	ll := New(config.AttributionConfig{}).LeadLag("A", target, drivers["A"], 5)
	assert.NotEmpty(t, ll.Error)
	assert.Zero(t, ll.BestLag)
}

func TestFitRidgeSingularWithoutPenalty(t *testing.T) {
	x := [][]float64{{1, 5}, {2, 5}, {3, 5}, {4, 5}}
	y := []float64{1, 2, 3, 4}
	_, err := fitRidge(x, y, 0)
	assert.ErrorIs(t, err, errSingular)

	fit, err := fitRidge(x, y, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 5/5.1, fit.coef[0], 1e-12)
	assert.Zero(t, fit.coef[1])
}

func TestFitRidgeExactWithoutPenalty(t *testing.T) {
	x := [][]float64{{1, 0}, {0, 1}, {1, 1}, {2, 1}, {0, 3}}
	y := make([]float64, len(x))
	for i, row := range x {
		y[i] = 0.5 + 2*row[0] - row[1]
	}
	fit, err := fitRidge(x, y, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fit.intercept, 1e-9)
	assert.InDelta(t, 2, fit.coef[0], 1e-9)
	assert.InDelta(t, -1, fit.coef[1], 1e-9)
	assert.InDelta(t, 1, fit.rSquared(x, y), 1e-12)
	assert.Zero(t, fit.rSquared(x, []float64{3, 3, 3, 3, 3}))
}

func TestCorrelationFlatSeries(t *testing.T) {
	assert.Zero(t, correlation([]float64{1, 1, 1}, []float64{1, 2, 3}))
	assert.Zero(t, correlation(nil, nil))
	assert.InDelta(t, -1, correlation([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-12)
}
