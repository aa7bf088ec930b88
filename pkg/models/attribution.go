package models

import "time"

// DriverContribution explains part of a target return through one driver.
// Returns and contributions are in percentage points.
type DriverContribution struct {
	Symbol          string  `json:"symbol"`
	Coefficient     float64 `json:"coefficient"`
	DriverReturn    float64 `json:"driver_return"`
	Contribution    float64 `json:"contribution"`
	ContributionPct float64 `json:"contribution_pct"` // share of target return, 0 when target return is 0
}

// AttributionResult is the regression-based attribution of one day's target return.
// When Error is set no other field is meaningful.
type AttributionResult struct {
	Date           time.Time            `json:"date"`
	Target         string               `json:"target"`
	TargetReturn   float64              `json:"target_return"`
	Intercept      float64              `json:"intercept"`
	Contributions  []DriverContribution `json:"contributions"` // descending by |contribution_pct|
	TotalExplained float64              `json:"total_explained"`
	Unexplained    float64              `json:"unexplained"`
	UnexplainedPct float64              `json:"unexplained_pct"`
	RSquared       float64              `json:"r_squared"`
	Observations   int                  `json:"observations"`
	Error          string               `json:"error,omitempty"`
}

// LeadLag reports whether a driver's past returns line up with the target's.
type LeadLag struct {
	Driver         string  `json:"driver"`
	BestLag        int     `json:"best_lag"`
	Correlation    float64 `json:"correlation"`
	Significant    bool    `json:"significant"`
	Interpretation string  `json:"interpretation"`
	Error          string  `json:"error,omitempty"`
}
