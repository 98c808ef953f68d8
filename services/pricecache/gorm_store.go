package pricecache

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trading_scheduler/models"
)

// GormStore appends entries to the market_quotes table. The latest entry of
// a symbol is its row with the greatest timestamp.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Latest(ctx context.Context, symbol string) (*Entry, error) {
	var row models.MarketQuote
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "timestamp"}, Desc: true},
			{Column: clause.Column{Name: "id"}, Desc: true},
		}}).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quote for %s: %w", symbol, err)
	}
	e := entryFromRow(row)
	return &e, nil
}

func (s *GormStore) Append(ctx context.Context, e Entry) error {
	row := models.MarketQuote{
		Symbol:    e.Symbol,
		Price:     e.Price,
		Volume:    e.Volume,
		Bid:       e.Bid,
		Ask:       e.Ask,
		DayHigh:   e.DayHigh,
		DayLow:    e.DayLow,
		Source:    e.Source,
		Timestamp: e.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to store quote for %s: %w", e.Symbol, err)
	}
	return nil
}

func entryFromRow(row models.MarketQuote) Entry {
	return Entry{
		Symbol:    row.Symbol,
		Price:     row.Price,
		Volume:    row.Volume,
		Bid:       row.Bid,
		Ask:       row.Ask,
		DayHigh:   row.DayHigh,
		DayLow:    row.DayLow,
		Source:    row.Source,
		Timestamp: row.Timestamp,
	}
}
