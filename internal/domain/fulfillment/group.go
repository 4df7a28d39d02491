package fulfillment

import (
	"time"

	"github.com/shopspring/decimal"
)

// GroupStatus is the sync state of one fulfillment group
type GroupStatus string

const (
	GroupStatusPending   GroupStatus = "pending"
	GroupStatusHolding   GroupStatus = "holding"
	GroupStatusResolving GroupStatus = "resolving"
	GroupStatusUpserting GroupStatus = "upserting"
	GroupStatusSynced    GroupStatus = "synced"
	GroupStatusFailed    GroupStatus = "failed"
	GroupStatusCancelled GroupStatus = "cancelled"
)

var groupTransitions = map[GroupStatus][]GroupStatus{
	GroupStatusPending:   {GroupStatusHolding, GroupStatusResolving, GroupStatusCancelled},
	GroupStatusHolding:   {GroupStatusResolving, GroupStatusCancelled},
	GroupStatusResolving: {GroupStatusUpserting, GroupStatusFailed, GroupStatusCancelled},
	GroupStatusUpserting: {GroupStatusSynced, GroupStatusFailed, GroupStatusCancelled},
	GroupStatusFailed:    {GroupStatusPending, GroupStatusCancelled},
}

// IsValid returns true if the status is valid
func (s GroupStatus) IsValid() bool {
	switch s {
	case GroupStatusPending, GroupStatusHolding, GroupStatusResolving, GroupStatusUpserting,
		GroupStatusSynced, GroupStatusFailed, GroupStatusCancelled:
		return true
	default:
		return false
	}
}

// IsInFlight reports whether the group still has automatic work ahead of it
func (s GroupStatus) IsInFlight() bool {
	return s == GroupStatusPending || s == GroupStatusResolving || s == GroupStatusUpserting
}

// CanTransitionTo reports whether next is reachable from s
func (s GroupStatus) CanTransitionTo(next GroupStatus) bool {
	for _, allowed := range groupTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String returns the string representation of GroupStatus
func (s GroupStatus) String() string {
	return string(s)
}

// FulfillmentGroup is a subset of an order's items sharing one fulfillment path.
// Groups are created once by Split and never merged or re-split.
type FulfillmentGroup struct {
	OrderID         int64
	GroupIndex      int
	GroupIdentifier string
	Items           []LineItem
	FulfillmentType FulfillmentType
	Consignee       Consignee
	ConsigneeRef    string
	Status          GroupStatus
	Attempts        int
	LastErrorClass  ErrorClass
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransitionTo moves the group to next, or returns ErrInvalidTransition
func (g *FulfillmentGroup) TransitionTo(next GroupStatus, now time.Time) error {
	if !g.Status.CanTransitionTo(next) {
		return Invariant(ErrInvalidTransition, "group %s: %s -> %s", g.GroupIdentifier, g.Status, next)
	}
	g.Status = next
	g.UpdatedAt = now
	if next == GroupStatusPending {
		g.Attempts = 0
		g.LastErrorClass = ErrorClassNone
		g.LastError = ""
	}
	return nil
}

// Fail records the terminal cause and moves the group to failed
func (g *FulfillmentGroup) Fail(class ErrorClass, cause error, now time.Time) error {
	if err := g.TransitionTo(GroupStatusFailed, now); err != nil {
		return err
	}
	g.LastErrorClass = class
	if cause != nil {
		g.LastError = cause.Error()
	}
	return nil
}

// Amount sums the group's line item totals
func (g *FulfillmentGroup) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range g.Items {
		total = total.Add(item.Total())
	}
	return total
}

// RegulatedUnits counts regulated units in the group
func (g *FulfillmentGroup) RegulatedUnits() int {
	return regulatedUnits(g.Items)
}

// DistinctSKUs returns each SKU once, in first-seen order
func (g *FulfillmentGroup) DistinctSKUs() []string {
	seen := make(map[string]struct{}, len(g.Items))
	skus := make([]string, 0, len(g.Items))
	for _, item := range g.Items {
		if _, ok := seen[item.ProductSKU]; ok {
			continue
		}
		seen[item.ProductSKU] = struct{}{}
		skus = append(skus, item.ProductSKU)
	}
	return skus
}

// LineNumbers returns the line numbers of the group's items
func (g *FulfillmentGroup) LineNumbers() []int {
	numbers := make([]int, len(g.Items))
	for i, item := range g.Items {
		numbers[i] = item.LineNumber
	}
	return numbers
}

// ExternalDealRecord is the CRM-side mirror of one group.
// ExternalDealID is empty until the first successful create and immutable afterwards.
type ExternalDealRecord struct {
	OrderID          int64
	GroupIndex       int
	ExternalDealID   string
	ContactID        string
	ProductRecordIDs []string
	LastSyncedAt     *time.Time
	LastSyncError    string
}

// HasDeal reports whether the CRM already acknowledged a deal for the group
func (r *ExternalDealRecord) HasDeal() bool {
	return r != nil && r.ExternalDealID != ""
}

// AssignDealID sets the deal id once. Reassigning the same id is a no-op.
func (r *ExternalDealRecord) AssignDealID(id string) error {
	if r.ExternalDealID == "" {
		r.ExternalDealID = id
		return nil
	}
	if r.ExternalDealID != id {
		return ErrDealIDImmutable
	}
	return nil
}

// MarkSynced records a successful create or update
func (r *ExternalDealRecord) MarkSynced(now time.Time) {
	r.LastSyncedAt = &now
	r.LastSyncError = ""
}
