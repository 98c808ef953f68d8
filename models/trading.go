package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position statuses
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// TradingModel is one independently run research/trading model. Every batch
// job fans out over the active models.
type TradingModel struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `gorm:"index" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Portfolio holds the cash balance and the last computed valuation of a model
type Portfolio struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ModelID        uint            `gorm:"uniqueIndex;not null" json:"model_id"`
	Cash           decimal.Decimal `gorm:"type:decimal(20,4)" json:"cash"`
	PositionsValue decimal.Decimal `gorm:"type:decimal(20,4)" json:"positions_value"`
	TotalValue     decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_value"`
	ValuedAt       *time.Time      `json:"valued_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Position is a holding of one symbol by one model
type Position struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	ModelID       uint            `gorm:"index:idx_model_status" json:"model_id"`
	Symbol        string          `gorm:"index;not null" json:"symbol"`
	Status        string          `gorm:"index:idx_model_status" json:"status"` // open, closed
	Quantity      decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	AvgPrice      decimal.Decimal `gorm:"type:decimal(15,4)" json:"avg_price"`
	CurrentPrice  decimal.Decimal `gorm:"type:decimal(15,4)" json:"current_price"`
	MarketValue   decimal.Decimal `gorm:"type:decimal(20,4)" json:"market_value"`
	UnrealizedPnL decimal.Decimal `gorm:"type:decimal(20,4)" json:"unrealized_pnl"`
	PriceAt       *time.Time      `json:"price_at"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Decision records what the decision engine returned for a model during a batch
type Decision struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	ModelID          uint                `gorm:"index" json:"model_id"`
	JobID            string              `gorm:"index" json:"job_id"`
	RunID            string              `gorm:"index" json:"run_id"`
	Action           string              `json:"action"` // BUY, SELL, HOLD
	Reasoning        string              `json:"reasoning"`
	Confidence       decimal.Decimal     `gorm:"type:decimal(5,4)" json:"confidence"`
	Executed         bool                `json:"executed"`
	ExecutionSymbol  string              `json:"execution_symbol,omitempty"`
	ExecutionPrice   decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"execution_price"`
	ExecutionMessage string              `json:"execution_message,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// PortfolioSnapshot is the end-of-day valuation of a model's portfolio
type PortfolioSnapshot struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ModelID        uint            `gorm:"index:idx_model_date" json:"model_id"`
	Date           string          `gorm:"index:idx_model_date" json:"date"` // YYYY-MM-DD in market time
	Cash           decimal.Decimal `gorm:"type:decimal(20,4)" json:"cash"`
	PositionsValue decimal.Decimal `gorm:"type:decimal(20,4)" json:"positions_value"`
	TotalValue     decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_value"`
	OpenPositions  int             `json:"open_positions"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MigrateTradingModels runs database migrations for trading-related models
func MigrateTradingModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&TradingModel{},
		&Portfolio{},
		&Position{},
		&Decision{},
		&PortfolioSnapshot{},
	)
}
