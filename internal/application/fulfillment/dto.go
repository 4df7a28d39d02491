package fulfillment

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

const (
	holdingMessage = "awaiting compliance clearance"
	failedMessage  = "synchronization failed; see activity log"
)

// OrderStatusView is the operator-facing status of one order.
// Partial outcomes are reported per group, never folded into a single flag.
type OrderStatusView struct {
	OrderID     int64             `json:"order_id"`
	OrderLabel  string            `json:"order_label"`
	Status      string            `json:"status"`
	IsTest      bool              `json:"is_test"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
	Summary     GroupSummary      `json:"summary"`
	Groups      []GroupStatusView `json:"groups"`
}

// GroupSummary counts groups by outcome
type GroupSummary struct {
	Total     int `json:"total"`
	Synced    int `json:"synced"`
	Holding   int `json:"holding"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
	Cancelled int `json:"cancelled"`
}

// GroupStatusView is the status of one fulfillment group
type GroupStatusView struct {
	GroupIndex      int             `json:"group_index"`
	GroupIdentifier string          `json:"group_identifier"`
	FulfillmentType string          `json:"fulfillment_type"`
	Consignee       string          `json:"consignee"`
	ConsigneeRef    string          `json:"consignee_ref,omitempty"`
	Status          string          `json:"status"`
	Message         string          `json:"message,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	LineNumbers     []int           `json:"line_numbers"`
	Hold            *HoldView       `json:"hold,omitempty"`
	DealID          string          `json:"deal_id,omitempty"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
	Attempts        int             `json:"attempts"`
	LastErrorClass  string          `json:"last_error_class,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	// LedgerRef is the id of the latest failed activity entry of the group
	LedgerRef string `json:"ledger_ref,omitempty"`
}

// HoldView is the latest compliance hold of a group
type HoldView struct {
	ID          string     `json:"id"`
	HoldType    string     `json:"hold_type"`
	Reason      string     `json:"reason,omitempty"`
	Active      bool       `json:"active"`
	StartedAt   time.Time  `json:"started_at"`
	ClearedAt   *time.Time `json:"cleared_at,omitempty"`
	ClearedNote string     `json:"cleared_note,omitempty"`
}

func toHoldView(h *compliance.ComplianceHold) *HoldView {
	if h == nil {
		return nil
	}
	return &HoldView{
		ID:          h.ID.String(),
		HoldType:    h.HoldType.String(),
		Reason:      h.HoldType.Reason(),
		Active:      h.IsActive(),
		StartedAt:   h.StartedAt,
		ClearedAt:   h.ClearedAt,
		ClearedNote: h.ClearedNote,
	}
}

func buildStatusView(
	order *domain.Order,
	groups []domain.FulfillmentGroup,
	holds map[int]*compliance.ComplianceHold,
	deals map[int]*domain.ExternalDealRecord,
	entries []activity.Entry,
) *OrderStatusView {
	view := &OrderStatusView{
		OrderID:     order.ID,
		OrderLabel:  order.ExternalOrderNumber,
		Status:      order.Status.String(),
		IsTest:      order.IsTest,
		TotalAmount: order.TotalAmount,
		CancelledAt: order.CancelledAt,
		Groups:      make([]GroupStatusView, 0, len(groups)),
	}
	view.Summary.Total = len(groups)

	for i := range groups {
		g := &groups[i]
		gv := GroupStatusView{
			GroupIndex:      g.GroupIndex,
			GroupIdentifier: g.GroupIdentifier,
			FulfillmentType: g.FulfillmentType.String(),
			Consignee:       g.Consignee.String(),
			ConsigneeRef:    g.ConsigneeRef,
			Status:          g.Status.String(),
			Amount:          g.Amount(),
			LineNumbers:     g.LineNumbers(),
			Hold:            toHoldView(holds[g.GroupIndex]),
			Attempts:        g.Attempts,
			LastErrorClass:  g.LastErrorClass.String(),
			LastError:       g.LastError,
		}
		if rec := deals[g.GroupIndex]; rec != nil {
			gv.DealID = rec.ExternalDealID
			gv.LastSyncedAt = rec.LastSyncedAt
		}

		switch {
		case g.Status == domain.GroupStatusHolding:
			view.Summary.Holding++
			gv.Message = holdingMessage
			if h := holds[g.GroupIndex]; h.IsBlocking() {
				gv.Message += ": " + h.HoldType.Reason()
			}
		case g.Status == domain.GroupStatusFailed:
			view.Summary.Failed++
			gv.Message = failedMessage
			gv.LedgerRef = lastFailureRef(entries, g.GroupIndex)
		case g.Status == domain.GroupStatusSynced:
			view.Summary.Synced++
		case g.Status == domain.GroupStatusCancelled:
			view.Summary.Cancelled++
		case g.Status.IsInFlight():
			view.Summary.InFlight++
		}
		view.Groups = append(view.Groups, gv)
	}
	return view
}

func lastFailureRef(entries []activity.Entry, groupIndex int) string {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.Success && e.GroupIndex != nil && *e.GroupIndex == groupIndex {
			return e.ID.String()
		}
	}
	return ""
}

// CreateOrderRequest is an order handed over by the storefront after payment
type CreateOrderRequest struct {
	// Sequence is the storefront order number; zero lets the store assign one
	Sequence    int64                   `json:"sequence" validate:"gte=0"`
	Customer    CustomerRequest         `json:"customer" validate:"required"`
	Items       []CreateLineItemRequest `json:"items" validate:"required,min=1,dive"`
	TotalAmount *decimal.Decimal        `json:"total_amount,omitempty"`
	IsTest      bool                    `json:"is_test"`
	DealerRef   string                  `json:"dealer_ref,omitempty" validate:"omitempty,max=64"`
}

// CustomerRequest identifies the purchaser
type CustomerRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"max=50"`
}

// CreateLineItemRequest is one purchased SKU
type CreateLineItemRequest struct {
	ProductSKU             string          `json:"product_sku" validate:"required,max=64"`
	ManufacturerPartNumber string          `json:"manufacturer_part_number" validate:"max=64"`
	DistributorStockNumber string          `json:"distributor_stock_number" validate:"max=64"`
	Name                   string          `json:"name" validate:"required,max=255"`
	Manufacturer           string          `json:"manufacturer" validate:"max=100"`
	Category               string          `json:"category" validate:"max=100"`
	Quantity               int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	RequiresLicenseHolder  bool            `json:"requires_license_holder"`
	DropShipEligible       bool            `json:"drop_ship_eligible"`
	InHouseOnly            bool            `json:"in_house_only"`
}
