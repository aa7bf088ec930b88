package decompose

import (
	"fmt"
	"sort"

	"github.com/seenimoa/marketlens/internal/refdata"
	"github.com/seenimoa/marketlens/pkg/models"
)

// AttributeContribution scores each constituent as weight% / 100 × changePct,
// so the total is the index's approximate move in percent. The sum is a
// first-order linear approximation and does not compound.
// Constituents without a change are listed in Missing and contribute nothing.
func (e *Engine) AttributeContribution(weights []refdata.Constituent, changes map[string]float64) *models.ContributionReport {
	report := &models.ContributionReport{}
	sectors := make(map[string]*models.SectorContribution)

	for _, c := range weights {
		sym := ExposureKey(c.Symbol)
		chg, ok := lookupChange(changes, sym)
		if !ok {
			report.Missing = append(report.Missing, sym)
			continue
		}
		cc := models.ConstituentContribution{
			Symbol:       sym,
			Sector:       e.comp.Sector(sym),
			Weight:       c.Weight,
			ChangePct:    chg,
			Contribution: c.Weight * chg / 100,
		}
		report.Constituents = append(report.Constituents, cc)
		report.TotalScore += cc.Contribution

		s, ok := sectors[cc.Sector]
		if !ok {
			s = &models.SectorContribution{Sector: cc.Sector}
			sectors[cc.Sector] = s
		}
		s.Weight += cc.Weight
		s.Contribution += cc.Contribution
	}

	sort.SliceStable(report.Constituents, func(i, j int) bool {
		return report.Constituents[i].Contribution > report.Constituents[j].Contribution
	})
	for _, s := range sectors {
		report.Sectors = append(report.Sectors, *s)
	}
	sort.Slice(report.Sectors, func(i, j int) bool {
		a, b := report.Sectors[i], report.Sectors[j]
		if a.Contribution != b.Contribution {
			return a.Contribution > b.Contribution
		}
		return a.Sector < b.Sector
	})

	if len(report.Missing) > 0 {
		e.log.WithField("missing", len(report.Missing)).Debug("constituents without change data")
	}
	return report
}

// IndexContribution attributes a named index's move using its embedded weight table.
func (e *Engine) IndexContribution(index string, changes map[string]float64) (*models.ContributionReport, error) {
	weights, ok := e.comp.Weights(index)
	if !ok {
		return nil, fmt.Errorf("index %q: no constituent weights", index)
	}
	return e.AttributeContribution(weights, changes), nil
}
