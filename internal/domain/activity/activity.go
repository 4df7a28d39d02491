// Package activity holds the append-only audit ledger of order processing.
// The ledger is read back to resume interrupted synchronization.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEntry = errors.New("activity: invalid ledger entry")

// EventType names what an entry records
type EventType string

const (
	EventOrderReceived      EventType = "order.received"
	EventOrderRejected      EventType = "order.rejected"
	EventOrderSplit         EventType = "order.split"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderCancelled     EventType = "order.cancelled"
	EventOrderArchived      EventType = "order.archived"
	EventDealerAttached     EventType = "order.dealer_attached"
	EventGroupTransition    EventType = "group.transition"
	EventComplianceChecked  EventType = "compliance.evaluated"
	EventHoldCleared        EventType = "compliance.hold_cleared"
	EventContactResolved    EventType = "crm.contact_resolved"
	EventProductResolved    EventType = "crm.product_resolved"
	EventDealUpserted       EventType = "crm.deal_upserted"
	EventAttemptFailed      EventType = "sync.attempt_failed"
	EventClaimRejected      EventType = "sync.claim_rejected"
)

// String returns the string representation of EventType
func (t EventType) String() string {
	return string(t)
}

// Entry is one ledger row. GroupIndex is nil for order-level events.
type Entry struct {
	ID         uuid.UUID
	OrderID    int64
	GroupIndex *int
	EventType  EventType
	Success    bool
	Payload    json.RawMessage
	Timestamp  time.Time
}

// NewEntry snapshots payload as JSON
func NewEntry(orderID int64, groupIndex *int, eventType EventType, success bool, payload any, at time.Time) (Entry, error) {
	if orderID <= 0 || eventType == "" {
		return Entry{}, fmt.Errorf("%w: order %d event %q", ErrInvalidEntry, orderID, eventType)
	}
	raw := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: marshal payload: %v", ErrInvalidEntry, err)
		}
		raw = b
	}
	return Entry{
		ID:         uuid.New(),
		OrderID:    orderID,
		GroupIndex: groupIndex,
		EventType:  eventType,
		Success:    success,
		Payload:    raw,
		Timestamp:  at,
	}, nil
}

// Group returns a pointer usable as Entry.GroupIndex
func Group(index int) *int {
	return &index
}

// Ledger is append-only: entries are never updated or deleted
type Ledger interface {
	Append(ctx context.Context, entry Entry) error
	// ListByOrder returns entries in append order
	ListByOrder(ctx context.Context, orderID int64) ([]Entry, error)
}

// DealUpsertedPayload is the payload of EventDealUpserted entries
type DealUpsertedPayload struct {
	GroupIdentifier string `json:"group_identifier"`
	DealID          string `json:"deal_id"`
	Created         bool   `json:"created"`
}

// RecoverDealID scans entries for the last acknowledged deal id of a group.
// It covers a crash between the CRM acknowledging a create and the deal
// record being stored.
func RecoverDealID(entries []Entry, groupIndex int) string {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.EventType != EventDealUpserted || !e.Success || e.GroupIndex == nil || *e.GroupIndex != groupIndex {
			continue
		}
		var p DealUpsertedPayload
		if err := json.Unmarshal(e.Payload, &p); err == nil && p.DealID != "" {
			return p.DealID
		}
	}
	return ""
}
