package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
)

// ActivityEntryModel is one append-only ledger row. Seq preserves append order
// when several entries share a timestamp.
type ActivityEntryModel struct {
	Seq        int64              `gorm:"primaryKey;autoIncrement"`
	ID         uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_activity_log_entries_id"`
	OrderID    int64              `gorm:"not null;index:idx_activity_log_entries_order,priority:1"`
	GroupIndex *int               `gorm:"index:idx_activity_log_entries_order,priority:2"`
	EventType  activity.EventType `gorm:"type:varchar(50);not null"`
	Success    bool               `gorm:"not null"`
	Payload    string             `gorm:"type:jsonb;not null"`
	Timestamp  time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ActivityEntryModel) TableName() string {
	return "activity_log_entries"
}

// ToDomain converts the persistence model to a domain ledger Entry
func (m *ActivityEntryModel) ToDomain() activity.Entry {
	return activity.Entry{
		ID:         m.ID,
		OrderID:    m.OrderID,
		GroupIndex: m.GroupIndex,
		EventType:  m.EventType,
		Success:    m.Success,
		Payload:    []byte(m.Payload),
		Timestamp:  m.Timestamp,
	}
}

// ActivityEntryModelFromDomain creates a new persistence model from a ledger Entry
func ActivityEntryModelFromDomain(e activity.Entry) *ActivityEntryModel {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	return &ActivityEntryModel{
		ID:         e.ID,
		OrderID:    e.OrderID,
		GroupIndex: e.GroupIndex,
		EventType:  e.EventType,
		Success:    e.Success,
		Payload:    payload,
		Timestamp:  e.Timestamp,
	}
}

// All returns every model in migration order
func All() []any {
	return []any{
		&OrderModel{},
		&OrderLineItemModel{},
		&FulfillmentGroupModel{},
		&DealRecordModel{},
		&ComplianceHoldModel{},
		&LicensedDealerModel{},
		&ActivityEntryModel{},
	}
}
