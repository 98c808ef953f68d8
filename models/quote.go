package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MarketQuote is one fetched quote snapshot. Rows are only ever appended; the
// newest row per symbol is the current quote.
type MarketQuote struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	Symbol    string              `gorm:"index:idx_symbol_ts;not null" json:"symbol"`
	Price     decimal.Decimal     `gorm:"type:decimal(15,4)" json:"price"`
	Volume    *int64              `json:"volume"`
	Bid       decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"bid"`
	Ask       decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"ask"`
	DayHigh   decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"day_high"`
	DayLow    decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"day_low"`
	Source    string              `json:"source"`
	Timestamp time.Time           `gorm:"index:idx_symbol_ts" json:"timestamp"`
	CreatedAt time.Time           `json:"created_at"`
}

// MigrateQuoteModels runs database migrations for market data models
func MigrateQuoteModels(db *gorm.DB) error {
	return db.AutoMigrate(&MarketQuote{})
}

// Migrate runs every migration of the service
func Migrate(db *gorm.DB) error {
	if err := MigrateTradingModels(db); err != nil {
		return err
	}
	return MigrateQuoteModels(db)
}
