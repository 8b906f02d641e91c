package services

import (
	"time"

	"github.com/shopspring/decimal"

	"ticket-inventory/models"
)

var hundred = decimal.NewFromInt(100)

// CalculatePenalty prices a cancellation. A departure less than one day away
// costs 90%, less than three days 50%, anything later 20%. Departures in the
// past fall in the first tier.
func CalculatePenalty(price decimal.Decimal, timeToDeparture time.Duration) models.PenaltyQuote {
	percent := 20
	switch {
	case timeToDeparture < 24*time.Hour:
		percent = 90
	case timeToDeparture < 72*time.Hour:
		percent = 50
	}

	penalty := price.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round(2)
	return models.PenaltyQuote{
		PenaltyPercent: percent,
		PenaltyAmount:  penalty,
		RefundAmount:   price.Sub(penalty).Round(2),
	}
}
