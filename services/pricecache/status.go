package pricecache

import (
	"context"
	"math"
	"time"
)

// Market phases reported by MarketStatus
const (
	PhaseOpen       = "open"
	PhasePreMarket  = "pre_market"
	PhaseAfterHours = "after_hours"
	PhaseClosed     = "closed"
)

// Status describes the exchange session at the moment it was computed
type Status struct {
	IsOpen           bool       `json:"is_open"`
	IsTradingDay     bool       `json:"is_trading_day"`
	Phase            string     `json:"phase"`
	CurrentTime      time.Time  `json:"current_time"`
	Timezone         string     `json:"timezone"`
	OpensAt          string     `json:"opens_at"`
	ClosesAt         string     `json:"closes_at"`
	MinutesUntilOpen *int       `json:"minutes_until_open,omitempty"`
	NextOpen         *time.Time `json:"next_open,omitempty"`
	CacheTTLSeconds  int        `json:"cache_ttl_seconds"`
}

// MarketStatus reports the current session phase. MinutesUntilOpen is only
// set before the open of a trading day; NextOpen whenever the market is not
// open.
func (c *Cache) MarketStatus(_ context.Context) Status {
	now := c.calendar.Now()
	st := Status{
		IsOpen:          c.calendar.IsMarketOpen(now),
		IsTradingDay:    c.calendar.IsTradingDay(now),
		CurrentTime:     now,
		Timezone:        c.calendar.Location().String(),
		OpensAt:         c.calendar.OpenTime().String(),
		ClosesAt:        c.calendar.CloseTime().String(),
		CacheTTLSeconds: int(c.ttl / time.Second),
	}

	open := c.calendar.OpenAt(now)
	switch {
	case st.IsOpen:
		st.Phase = PhaseOpen
	case st.IsTradingDay && now.Before(open):
		st.Phase = PhasePreMarket
		mins := int(math.Ceil(open.Sub(now).Minutes()))
		st.MinutesUntilOpen = &mins
	case st.IsTradingDay:
		st.Phase = PhaseAfterHours
	default:
		st.Phase = PhaseClosed
	}

	if !st.IsOpen {
		if next := c.calendar.NextOpen(now); !next.IsZero() {
			st.NextOpen = &next
		}
	}
	return st
}
