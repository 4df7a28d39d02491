package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormOrderRepository implements fulfillment.OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create inserts the order and its line items in one transaction.
// A zero ID is assigned by the database sequence.
func (r *GormOrderRepository) Create(ctx context.Context, order *fulfillment.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := models.OrderModelFromDomain(order)
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fulfillment.ErrOrderExists
			}
			return err
		}
		order.ID = model.ID

		if len(order.Items) == 0 {
			return nil
		}
		items := make([]models.OrderLineItemModel, len(order.Items))
		for i, item := range order.Items {
			items[i] = models.LineItemModelFromDomain(model.ID, item)
		}
		return tx.Create(&items).Error
	})
}

// FindByID loads an order with its line items
func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*fulfillment.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fulfillment.ErrOrderNotFound
		}
		return nil, err
	}

	var items []models.OrderLineItemModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("line_number ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return model.ToDomain(items), nil
}

// FindPending returns pending and processing orders, oldest first
func (r *GormOrderRepository) FindPending(ctx context.Context, limit int) ([]fulfillment.Order, error) {
	var orderModels []models.OrderModel
	query := r.db.WithContext(ctx).
		Where("status IN ?", []fulfillment.OrderStatus{fulfillment.OrderStatusPending, fulfillment.OrderStatusProcessing}).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orderModels).Error; err != nil {
		return nil, err
	}
	if len(orderModels) == 0 {
		return []fulfillment.Order{}, nil
	}

	ids := make([]int64, len(orderModels))
	for i, m := range orderModels {
		ids[i] = m.ID
	}
	var items []models.OrderLineItemModel
	if err := r.db.WithContext(ctx).
		Where("order_id IN ?", ids).
		Order("order_id ASC, line_number ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	byOrder := make(map[int64][]models.OrderLineItemModel, len(orderModels))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	orders := make([]fulfillment.Order, len(orderModels))
	for i := range orderModels {
		orders[i] = *orderModels[i].ToDomain(byOrder[orderModels[i].ID])
	}
	return orders, nil
}

// Update saves the mutable order fields. Line items are never rewritten.
func (r *GormOrderRepository) Update(ctx context.Context, order *fulfillment.Order) error {
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"external_order_number": order.ExternalOrderNumber,
			"status":                order.Status,
			"dealer_ref":            order.DealerRef,
			"cancelled_at":          order.CancelledAt,
			"updated_at":            order.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fulfillment.ErrOrderNotFound
	}
	return nil
}

// CountRegulatedUnits sums regulated quantities of a customer's other live orders since a point in time
func (r *GormOrderRepository) CountRegulatedUnits(ctx context.Context, customerEmail string, since time.Time, excludeOrderID int64) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Table("order_line_items AS li").
		Select("COALESCE(SUM(li.quantity), 0)").
		Joins("JOIN orders o ON o.id = li.order_id").
		Where("o.customer_email = ?", customerEmail).
		Where("o.created_at >= ?", since).
		Where("o.id <> ?", excludeOrderID).
		Where("o.status <> ?", fulfillment.OrderStatusCancelled).
		Where("li.requires_license_holder = ?", true).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}
