package trading

import (
	"time"

	"github.com/shopspring/decimal"

	"trading_scheduler/models"
)

// PositionValue is the valuation of one open position
type PositionValue struct {
	PositionID    uint            `json:"position_id"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// Stale is set when no fresh price was available and the last known one was used
	Stale bool `json:"stale"`
}

// Valuation is a model's portfolio value at one instant
type Valuation struct {
	ModelID        uint            `json:"model_id"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Positions      []PositionValue `json:"positions"`
	ValuedAt       time.Time       `json:"valued_at"`
}

// Revalue prices pos at price. A zero price keeps the position's last known
// price, or its average price if it was never marked.
func Revalue(pos *models.Position, price decimal.Decimal, at time.Time) PositionValue {
	stale := false
	if price.IsZero() {
		stale = true
		price = pos.CurrentPrice
		if price.IsZero() {
			price = pos.AvgPrice
		}
	} else {
		pos.CurrentPrice = price
		pos.PriceAt = &at
	}
	pos.MarketValue = price.Mul(pos.Quantity)
	pos.UnrealizedPnL = price.Sub(pos.AvgPrice).Mul(pos.Quantity)

	return PositionValue{
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Quantity:      pos.Quantity,
		Price:         price,
		MarketValue:   pos.MarketValue,
		UnrealizedPnL: pos.UnrealizedPnL,
		Stale:         stale,
	}
}

// Value revalues positions with prices (keyed by symbol) and totals them with
// the portfolio cash. A nil portfolio counts as zero cash. Positions and
// portfolio are updated in place so the caller can save them.
func Value(modelID uint, portfolio *models.Portfolio, positions []models.Position, prices map[string]decimal.Decimal, at time.Time) Valuation {
	v := Valuation{
		ModelID:        modelID,
		PositionsValue: decimal.Zero,
		Positions:      make([]PositionValue, 0, len(positions)),
		ValuedAt:       at,
	}
	if portfolio != nil {
		v.Cash = portfolio.Cash
	}
	for i := range positions {
		pv := Revalue(&positions[i], prices[positions[i].Symbol], at)
		v.PositionsValue = v.PositionsValue.Add(pv.MarketValue)
		v.Positions = append(v.Positions, pv)
	}
	v.TotalValue = v.Cash.Add(v.PositionsValue)

	if portfolio != nil {
		portfolio.PositionsValue = v.PositionsValue
		portfolio.TotalValue = v.TotalValue
		portfolio.ValuedAt = &at
	}
	return v
}
