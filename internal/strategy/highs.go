package strategy

import (
	"MarketScanner/internal/calculator"
	"MarketScanner/internal/model"
)

// DetectNewHigh reports whether the latest close ties or exceeds the highest close of the
// whole series. The latest close is part of the maximum, so a new high always qualifies.
func DetectNewHigh(ticker, company string, series model.PriceSeries) (model.HighEvent, bool) {
	if series.Len() == 0 {
		return model.HighEvent{}, false
	}
	high, err := calculator.MaxClose(series.Closes())
	if err != nil {
		return model.HighEvent{}, false
	}
	last := series.Last()
	if last.Close < high {
		return model.HighEvent{}, false
	}
	if company == "" {
		company = ticker
	}
	return model.HighEvent{
		Ticker:      ticker,
		CompanyName: company,
		Close:       last.Close,
		HighDate:    last.Date,
	}, true
}
