package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDealRecordRepository implements fulfillment.DealRecordRepository using GORM
type GormDealRecordRepository struct {
	db *gorm.DB
}

// NewGormDealRecordRepository creates a new GormDealRecordRepository
func NewGormDealRecordRepository(db *gorm.DB) *GormDealRecordRepository {
	return &GormDealRecordRepository{db: db}
}

// Find returns the record of a group, or nil, nil when none exists
func (r *GormDealRecordRepository) Find(ctx context.Context, orderID int64, groupIndex int) (*fulfillment.ExternalDealRecord, error) {
	var row models.DealRecordModel
	if err := r.db.WithContext(ctx).
		First(&row, "order_id = ? AND group_index = ?", orderID, groupIndex).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByOrder returns all deal records of an order by group index
func (r *GormDealRecordRepository) FindByOrder(ctx context.Context, orderID int64) ([]fulfillment.ExternalDealRecord, error) {
	var rows []models.DealRecordModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("group_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]fulfillment.ExternalDealRecord, len(rows))
	for i := range rows {
		records[i] = *rows[i].ToDomain()
	}
	return records, nil
}

// Save upserts the record. A stored deal id is never replaced by a different one.
func (r *GormDealRecordRepository) Save(ctx context.Context, record *fulfillment.ExternalDealRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DealRecordModel
		err := tx.First(&existing, "order_id = ? AND group_index = ?", record.OrderID, record.GroupIndex).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = models.DealRecordModel{}
		case err != nil:
			return err
		case existing.ExternalDealID != "" && existing.ExternalDealID != record.ExternalDealID:
			return fulfillment.ErrDealIDImmutable
		}

		now := time.Now().UTC()
		var row models.DealRecordModel
		row.FromDomain(record)
		row.CreatedAt = existing.CreatedAt
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		row.UpdatedAt = now

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}, {Name: "group_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"external_deal_id", "contact_id", "product_record_ids",
				"last_synced_at", "last_sync_error", "updated_at",
			}),
		}).Create(&row).Error
	})
}
