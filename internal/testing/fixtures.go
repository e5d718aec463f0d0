package testing

import (
	"time"

	"github.com/aristath/sentinel-invest/internal/domain"
)

// FixtureTime is the creation time used by fixtures
var FixtureTime = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// NewPortfolioFixture returns a EUR portfolio with the given ids
func NewPortfolioFixture(id, userID, name string) domain.Portfolio {
	return domain.Portfolio{
		PortfolioID:     id,
		UserID:          userID,
		Name:            name,
		DefaultCurrency: domain.CurrencyEUR,
		CashReserve:     domain.CashReserve{TotalAmount: 1000, WarChestAmount: 250},
		TaxSettings:     domain.TaxSettings{CapitalGainTaxRate: 26.4},
		CreatedAt:       FixtureTime,
		ModifiedAt:      FixtureTime,
	}
}

// NewHoldingFixture returns a stock holding with one lot per (quantity, price) pair
func NewHoldingFixture(id, portfolioID, userID, ticker string, lots ...[2]float64) domain.Holding {
	h := domain.Holding{
		HoldingID:    id,
		PortfolioID:  portfolioID,
		UserID:       userID,
		Ticker:       ticker,
		SecurityType: domain.SecurityTypeStock,
		AssetClass:   domain.AssetClassEquity,
		Currency:     domain.CurrencyUSD,
		CreatedAt:    FixtureTime,
		ModifiedAt:   FixtureTime,
	}
	for i, l := range lots {
		h.Lots = append(h.Lots, domain.Lot{
			LotID:         id + "-lot-" + string(rune('a'+i)),
			PurchaseDate:  FixtureTime.AddDate(0, 0, -30*(i+1)).Format(domain.DateLayout),
			Quantity:      l[0],
			PurchasePrice: l[1],
			CreatedAt:     FixtureTime,
			ModifiedAt:    FixtureTime,
		})
	}
	return h
}

// NewBarsFixture returns n closes rising by step per day from start
func NewBarsFixture(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return closes
}
