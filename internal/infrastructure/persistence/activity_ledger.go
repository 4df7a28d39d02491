package persistence

import (
	"context"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormActivityLedger implements activity.Ledger. It only ever inserts.
type GormActivityLedger struct {
	db *gorm.DB
}

// NewGormActivityLedger creates a new GormActivityLedger
func NewGormActivityLedger(db *gorm.DB) *GormActivityLedger {
	return &GormActivityLedger{db: db}
}

// Append inserts one entry
func (l *GormActivityLedger) Append(ctx context.Context, entry activity.Entry) error {
	return l.db.WithContext(ctx).Create(models.ActivityEntryModelFromDomain(entry)).Error
}

// ListByOrder returns an order's entries in append order
func (l *GormActivityLedger) ListByOrder(ctx context.Context, orderID int64) ([]activity.Entry, error) {
	var rows []models.ActivityEntryModel
	if err := l.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]activity.Entry, len(rows))
	for i := range rows {
		entries[i] = rows[i].ToDomain()
	}
	return entries, nil
}
