package fulfillment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the overall status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusHeld       OrderStatus = "held"
	OrderStatusSynced     OrderStatus = "synced"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsValid returns true if the status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusHeld,
		OrderStatusSynced, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further processing happens without operator action
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusSynced || s == OrderStatusFailed || s == OrderStatusCancelled
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// Customer identifies the purchaser. Email is the CRM natural key.
type Customer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// NormalizedEmail returns the lookup key used for CRM contacts and order history
func (c Customer) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}

// LineItem is one purchased SKU. LineNumber is 1-based and unique within the order.
type LineItem struct {
	LineNumber             int
	ProductSKU             string
	ManufacturerPartNumber string
	DistributorStockNumber string
	Name                   string
	Manufacturer           string
	Category               string
	Quantity               int
	UnitPrice              decimal.Decimal
	RequiresLicenseHolder  bool
	DropShipEligible       bool
	InHouseOnly            bool
}

// IsRegulated reports whether the item counts toward regulated quantity limits
func (li LineItem) IsRegulated() bool {
	return li.RequiresLicenseHolder
}

// Total returns quantity * unit price
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is a paid customer purchase. Items are immutable once placed.
type Order struct {
	ID                  int64
	ExternalOrderNumber string
	Customer            Customer
	Items               []LineItem
	TotalAmount         decimal.Decimal
	Status              OrderStatus
	IsTest              bool
	DealerRef           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CancelledAt         *time.Time
}

// ItemsTotal sums the line item totals
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Total())
	}
	return total
}

// RegulatedUnits counts regulated units across the whole order
func (o *Order) RegulatedUnits() int {
	return regulatedUnits(o.Items)
}

// IsCancelled reports whether cancellation was requested
func (o *Order) IsCancelled() bool {
	return o.Status == OrderStatusCancelled
}

// AssignLabel sets ExternalOrderNumber once. Reassigning the same value is a no-op.
func (o *Order) AssignLabel(label string) error {
	if o.ExternalOrderNumber == "" {
		o.ExternalOrderNumber = label
		return nil
	}
	if o.ExternalOrderNumber != label {
		return Invariant(ErrLabelMismatch, "order %d already labelled %s, derived %s",
			o.ID, o.ExternalOrderNumber, label)
	}
	return nil
}

// Cancel marks the order cancelled. Cancelling twice keeps the first timestamp.
func (o *Order) Cancel(now time.Time) {
	if o.Status == OrderStatusCancelled {
		return
	}
	o.Status = OrderStatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
}

func regulatedUnits(items []LineItem) int {
	units := 0
	for _, item := range items {
		if item.IsRegulated() {
			units += item.Quantity
		}
	}
	return units
}
