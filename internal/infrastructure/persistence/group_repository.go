package persistence

import (
	"context"
	"errors"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormGroupRepository implements fulfillment.GroupRepository using GORM
type GormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository creates a new GormGroupRepository
func NewGormGroupRepository(db *gorm.DB) *GormGroupRepository {
	return &GormGroupRepository{db: db}
}

// CreateAll inserts groups, skipping any (order_id, group_index) already stored
func (r *GormGroupRepository) CreateAll(ctx context.Context, groups []fulfillment.FulfillmentGroup) error {
	if len(groups) == 0 {
		return nil
	}
	rows := make([]models.FulfillmentGroupModel, len(groups))
	for i := range groups {
		if err := rows[i].FromDomain(&groups[i]); err != nil {
			return err
		}
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "group_index"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

// FindByOrder returns an order's groups by index
func (r *GormGroupRepository) FindByOrder(ctx context.Context, orderID int64) ([]fulfillment.FulfillmentGroup, error) {
	var rows []models.FulfillmentGroupModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("group_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	groups := make([]fulfillment.FulfillmentGroup, len(rows))
	for i := range rows {
		g, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		groups[i] = *g
	}
	return groups, nil
}

// FindOne returns a single group or fulfillment.ErrGroupNotFound
func (r *GormGroupRepository) FindOne(ctx context.Context, orderID int64, groupIndex int) (*fulfillment.FulfillmentGroup, error) {
	var row models.FulfillmentGroupModel
	if err := r.db.WithContext(ctx).
		First(&row, "order_id = ? AND group_index = ?", orderID, groupIndex).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fulfillment.ErrGroupNotFound
		}
		return nil, err
	}
	return row.ToDomain()
}

// Save persists the mutable group fields
func (r *GormGroupRepository) Save(ctx context.Context, group *fulfillment.FulfillmentGroup) error {
	result := r.db.WithContext(ctx).
		Model(&models.FulfillmentGroupModel{}).
		Where("order_id = ? AND group_index = ?", group.OrderID, group.GroupIndex).
		Updates(map[string]any{
			"status":           group.Status,
			"attempts":         group.Attempts,
			"last_error_class": group.LastErrorClass,
			"last_error":       group.LastError,
			"consignee_ref":    group.ConsigneeRef,
			"updated_at":       group.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fulfillment.ErrGroupNotFound
	}
	return nil
}
