package upstox

import (
	"context"
	"fmt"

	"github.com/seenimoa/marketlens/pkg/models"
)

type holdingPayload struct {
	TradingSymbol string  `json:"tradingsymbol"`
	CompanyName   string  `json:"company_name"`
	ISIN          string  `json:"isin"`
	Quantity      float64 `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
}

// Holdings returns the account's long-term holdings. Kind is left empty so
// decomposition classifies each position.
func (c *Client) Holdings(ctx context.Context) ([]models.Holding, error) {
	raw, err := c.get(ctx, "/portfolio/long-term-holdings", nil)
	if err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}

	var rows []holdingPayload
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parse holdings: %w", err)
	}

	holdings := make([]models.Holding, 0, len(rows))
	for _, r := range rows {
		if r.Quantity <= 0 {
			continue
		}
		holdings = append(holdings, models.Holding{
			Symbol:    r.TradingSymbol,
			Name:      r.CompanyName,
			Quantity:  r.Quantity,
			LastPrice: r.LastPrice,
		})
	}
	return holdings, nil
}
