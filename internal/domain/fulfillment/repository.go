package fulfillment

import (
	"context"
	"fmt"
	"time"
)

// OrderRepository is the order source and order status store
type OrderRepository interface {
	// Create persists a new order with its line items and assigns its sequence id
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id int64) (*Order, error)
	// FindPending returns orders that still need a processing pass, oldest first
	FindPending(ctx context.Context, limit int) ([]Order, error)
	// Update saves status, label, dealer reference and cancellation fields
	Update(ctx context.Context, order *Order) error
	// CountRegulatedUnits sums regulated units ordered by a customer since a point
	// in time, excluding one order and cancelled orders
	CountRegulatedUnits(ctx context.Context, customerEmail string, since time.Time, excludeOrderID int64) (int, error)
}

// GroupRepository stores fulfillment groups, unique on (orderID, groupIndex)
type GroupRepository interface {
	// CreateAll inserts freshly split groups; existing (orderID, groupIndex) rows are left untouched
	CreateAll(ctx context.Context, groups []FulfillmentGroup) error
	FindByOrder(ctx context.Context, orderID int64) ([]FulfillmentGroup, error)
	FindOne(ctx context.Context, orderID int64, groupIndex int) (*FulfillmentGroup, error)
	// Save persists status, attempts, error fields and consignee reference
	Save(ctx context.Context, group *FulfillmentGroup) error
}

// DealRecordRepository stores the CRM deal mirror of each group
type DealRecordRepository interface {
	// Find returns nil, nil when no record exists yet
	Find(ctx context.Context, orderID int64, groupIndex int) (*ExternalDealRecord, error)
	FindByOrder(ctx context.Context, orderID int64) ([]ExternalDealRecord, error)
	Save(ctx context.Context, record *ExternalDealRecord) error
}

// ClaimStore grants short-lived exclusive claims so one worker at a time
// drives a group through the CRM
type ClaimStore interface {
	// Claim returns a token and true when the key was free; false when another holder has it
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees the key if token still owns it
	Release(ctx context.Context, key, token string) error
}

// ClaimKey is the claim key of one group
func ClaimKey(orderID int64, groupIndex int) string {
	return fmt.Sprintf("order:%d:group:%d", orderID, groupIndex)
}
