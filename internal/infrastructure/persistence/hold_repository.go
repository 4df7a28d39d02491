package persistence

import (
	"context"
	"errors"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormHoldRepository implements compliance.HoldRepository using GORM
type GormHoldRepository struct {
	db *gorm.DB
}

// NewGormHoldRepository creates a new GormHoldRepository
func NewGormHoldRepository(db *gorm.DB) *GormHoldRepository {
	return &GormHoldRepository{db: db}
}

// FindLatest returns the active hold of a group, else its most recent cleared one
func (r *GormHoldRepository) FindLatest(ctx context.Context, orderID int64, groupIndex int) (*compliance.ComplianceHold, error) {
	var row models.ComplianceHoldModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND group_index = ?", orderID, groupIndex).
		Order("CASE WHEN cleared_at IS NULL THEN 0 ELSE 1 END, started_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByOrder returns the hold history of an order
func (r *GormHoldRepository) FindByOrder(ctx context.Context, orderID int64) ([]compliance.ComplianceHold, error) {
	var rows []models.ComplianceHoldModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("group_index ASC, started_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	holds := make([]compliance.ComplianceHold, len(rows))
	for i := range rows {
		holds[i] = *rows[i].ToDomain()
	}
	return holds, nil
}

// Save inserts or updates a hold by ID
func (r *GormHoldRepository) Save(ctx context.Context, hold *compliance.ComplianceHold) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"hold_type", "cleared_at", "note", "cleared_note"}),
		}).
		Create(models.ComplianceHoldModelFromDomain(hold)).Error
}

// Replace closes previous and opens next atomically
func (r *GormHoldRepository) Replace(ctx context.Context, previous, next *compliance.ComplianceHold) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if previous != nil {
			result := tx.Model(&models.ComplianceHoldModel{}).
				Where("id = ? AND cleared_at IS NULL", previous.ID).
				Updates(map[string]any{
					"cleared_at":   previous.ClearedAt,
					"cleared_note": previous.ClearedNote,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return compliance.ErrHoldNotActive
			}
		}
		return tx.Create(models.ComplianceHoldModelFromDomain(next)).Error
	})
}
