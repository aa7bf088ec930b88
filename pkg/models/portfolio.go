package models

// HoldingKind classifies a holding for look-through decomposition.
type HoldingKind string

const (
	HoldingETF   HoldingKind = "ETF"
	HoldingStock HoldingKind = "STOCK"
)

// SourceDirect marks exposure held directly rather than through an ETF.
const SourceDirect = "Direct"

// Holding is a single portfolio position.
type Holding struct {
	Symbol    string      `json:"symbol" yaml:"symbol" validate:"required"`
	Name      string      `json:"name,omitempty" yaml:"name,omitempty"`
	Quantity  float64     `json:"quantity" yaml:"quantity" validate:"gte=0"`
	LastPrice float64     `json:"last_price" yaml:"last_price" validate:"gte=0"`
	Kind      HoldingKind `json:"kind,omitempty" yaml:"kind,omitempty"` // empty means classify automatically
}

// Value returns quantity × last price.
func (h Holding) Value() float64 {
	return h.Quantity * h.LastPrice
}

// ExposureEntry is the aggregated look-through exposure to one constituent.
type ExposureEntry struct {
	Symbol    string   `json:"symbol"`
	Value     float64  `json:"value"`   // currency value
	Weight    float64  `json:"weight"`  // fraction of total portfolio value, 0-1
	Sources   []string `json:"sources"` // sorted contributing parents, or "Direct"
	Sector    string   `json:"sector"`
	ChangePct float64  `json:"change_pct,omitempty"`
	Impact    float64  `json:"impact,omitempty"` // ChangePct × Weight
}

// SectorExposure is exposure summed by sector.
type SectorExposure struct {
	Sector string  `json:"sector"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"` // fraction of total portfolio value, 0-1
}

// Decomposition is the result of a look-through run.
type Decomposition struct {
	TotalValue float64          `json:"total_value"`
	Exposures  []ExposureEntry  `json:"exposures"` // descending by value
	Sectors    []SectorExposure `json:"sectors"`   // descending by value
	Warnings   []string         `json:"warnings,omitempty"`
}

// ConstituentContribution is a constituent's weighted contribution to a parent's move.
type ConstituentContribution struct {
	Symbol       string  `json:"symbol"`
	Sector       string  `json:"sector"`
	Weight       float64 `json:"weight"` // percentage, 0-100
	ChangePct    float64 `json:"change_pct"`
	Contribution float64 `json:"contribution"`
}

// SectorContribution sums contributions and weights by sector.
type SectorContribution struct {
	Sector       string  `json:"sector"`
	Weight       float64 `json:"weight"` // percentage, 0-100, as in the weight table
	Contribution float64 `json:"contribution"`
}

// ContributionReport is the output of contribution attribution.
type ContributionReport struct {
	Constituents []ConstituentContribution `json:"constituents"` // descending by contribution
	Sectors      []SectorContribution      `json:"sectors"`
	TotalScore   float64                   `json:"total_score"`
	Missing      []string                  `json:"missing,omitempty"` // constituents with no change data
}

// Pullers returns the top n positive contributors.
func (r *ContributionReport) Pullers(n int) []ConstituentContribution {
	var out []ConstituentContribution
	for _, c := range r.Constituents {
		if len(out) == n {
			break
		}
		if c.Contribution > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Draggers returns the bottom n negative contributors, most negative first.
func (r *ContributionReport) Draggers(n int) []ConstituentContribution {
	var out []ConstituentContribution
	for i := len(r.Constituents) - 1; i >= 0 && len(out) < n; i-- {
		if c := r.Constituents[i]; c.Contribution < 0 {
			out = append(out, c)
		}
	}
	return out
}
