package trading

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"trading_scheduler/models"
)

// PersistenceStore opens batch scoped transactions
type PersistenceStore interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one batch's view of the trading data. Nothing it writes is visible to
// other batches before Commit.
type Tx interface {
	// ListEntities returns the active trading models in ascending id order
	ListEntities() ([]models.TradingModel, error)
	// GetPortfolio returns nil when the model has no portfolio yet
	GetPortfolio(modelID uint) (*models.Portfolio, error)
	// ListOpenPositions returns the open positions of one model, or of every
	// model when modelID is nil
	ListOpenPositions(modelID *uint) ([]models.Position, error)
	SavePosition(p *models.Position) error
	SavePortfolio(p *models.Portfolio) error
	RecordDecision(d *models.Decision) error
	CreateSnapshot(s *models.PortfolioSnapshot) error

	// SavePoint and RollbackTo scope the writes of a single entity so a
	// failing entity leaves no partial changes in the batch
	SavePoint(name string) error
	RollbackTo(name string) error

	Commit() error
	Rollback() error
}

// GormStore is the PersistenceStore backed by the service database
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Begin(ctx context.Context) (Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	return &gormTx{db: tx}, nil
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) ListEntities() ([]models.TradingModel, error) {
	var rows []models.TradingModel
	if err := t.db.Where("is_active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list trading models: %w", err)
	}
	return rows, nil
}

func (t *gormTx) GetPortfolio(modelID uint) (*models.Portfolio, error) {
	var p models.Portfolio
	err := t.db.Where("model_id = ?", modelID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio of model %d: %w", modelID, err)
	}
	return &p, nil
}

func (t *gormTx) ListOpenPositions(modelID *uint) ([]models.Position, error) {
	q := t.db.Where("status = ?", models.PositionOpen)
	if modelID != nil {
		q = q.Where("model_id = ?", *modelID)
	}
	var rows []models.Position
	if err := q.Order("model_id").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	return rows, nil
}

func (t *gormTx) SavePosition(p *models.Position) error {
	if err := t.db.Save(p).Error; err != nil {
		return fmt.Errorf("failed to save position %s of model %d: %w", p.Symbol, p.ModelID, err)
	}
	return nil
}

func (t *gormTx) SavePortfolio(p *models.Portfolio) error {
	if err := t.db.Save(p).Error; err != nil {
		return fmt.Errorf("failed to save portfolio of model %d: %w", p.ModelID, err)
	}
	return nil
}

func (t *gormTx) RecordDecision(d *models.Decision) error {
	if err := t.db.Create(d).Error; err != nil {
		return fmt.Errorf("failed to record decision of model %d: %w", d.ModelID, err)
	}
	return nil
}

func (t *gormTx) CreateSnapshot(s *models.PortfolioSnapshot) error {
	if err := t.db.Create(s).Error; err != nil {
		return fmt.Errorf("failed to create snapshot of model %d: %w", s.ModelID, err)
	}
	return nil
}

func (t *gormTx) SavePoint(name string) error {
	return t.db.SavePoint(name).Error
}

func (t *gormTx) RollbackTo(name string) error {
	return t.db.RollbackTo(name).Error
}

func (t *gormTx) Commit() error {
	return t.db.Commit().Error
}

func (t *gormTx) Rollback() error {
	return t.db.Rollback().Error
}
