package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	fulfillmentapp "github.com/thegunfirm/Mag-Lock-sub003/internal/application/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/logger"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/router"
)

// FulfillmentService is the operator surface of the orchestrator
type FulfillmentService interface {
	SubmitOrder(ctx context.Context, req fulfillmentapp.CreateOrderRequest) (*fulfillment.Order, error)
	GetOrderStatus(ctx context.Context, orderID int64) (*fulfillmentapp.OrderStatusView, error)
	GetActivityLog(ctx context.Context, orderID int64) ([]activity.Entry, error)
	ClearHold(ctx context.Context, orderID int64, groupIndex int, note string) error
	CancelOrder(ctx context.Context, orderID int64) error
	SyncOrder(ctx context.Context, orderID int64) error
	AttachDealer(ctx context.Context, orderID int64, dealerRef string) error
}

// OrderQueue schedules a background processing pass
type OrderQueue interface {
	SubmitOrder(orderID int64) error
}

// FulfillmentHandler serves the order operations API
type FulfillmentHandler struct {
	BaseHandler
	svc   FulfillmentService
	queue OrderQueue
}

// FulfillmentHandlerOption configures a FulfillmentHandler
type FulfillmentHandlerOption func(*FulfillmentHandler)

// WithOrderQueue queues accepted orders for immediate processing instead of
// waiting for the next poll
func WithOrderQueue(q OrderQueue) FulfillmentHandlerOption {
	return func(h *FulfillmentHandler) {
		h.queue = q
	}
}

// NewFulfillmentHandler creates a new FulfillmentHandler
func NewFulfillmentHandler(svc FulfillmentService, opts ...FulfillmentHandlerOption) *FulfillmentHandler {
	h := &FulfillmentHandler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the /orders route group
func (h *FulfillmentHandler) Routes() *router.DomainGroup {
	g := router.NewDomainGroup("orders", "/orders").
		POST("", h.SubmitOrder).
		GET("/:id/status", h.GetOrderStatus).
		GET("/:id/activity", h.GetActivityLog).
		POST("/:id/cancel", h.CancelOrder).
		POST("/:id/sync", h.SyncOrder).
		POST("/:id/dealer", h.AttachDealer)
	g.Group("groups", "/:id/groups").
		POST("/:index/clear-hold", h.ClearHold)
	return g
}

// SubmitOrderResponse acknowledges an accepted order
type SubmitOrderResponse struct {
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	LineItems int       `json:"line_items"`
	Total     string    `json:"total_amount"`
	CreatedAt time.Time `json:"created_at"`
}

// ClearHoldRequest carries the operator's clearance note
type ClearHoldRequest struct {
	Note string `json:"note" binding:"required,max=1000"`
}

// AttachDealerRequest names the licensed dealer receiving regulated items
type AttachDealerRequest struct {
	DealerRef string `json:"dealer_ref" binding:"required,max=64"`
}

// ActivityEntryResponse is one ledger entry
type ActivityEntryResponse struct {
	ID         string          `json:"id"`
	GroupIndex *int            `json:"group_index,omitempty"`
	EventType  string          `json:"event_type"`
	Success    bool            `json:"success"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SubmitOrder handles POST /orders
func (h *FulfillmentHandler) SubmitOrder(c *gin.Context) {
	var req fulfillmentapp.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.InvalidJSON(c, err)
		return
	}

	order, err := h.svc.SubmitOrder(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if h.queue != nil {
		if err := h.queue.SubmitOrder(order.ID); err != nil {
			// the poller still finds the pending order
			logger.GetGinLogger(c).Debug("order not queued", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	h.Created(c, SubmitOrderResponse{
		OrderID:   order.ID,
		Status:    order.Status.String(),
		LineItems: len(order.Items),
		Total:     order.TotalAmount.StringFixed(2),
		CreatedAt: order.CreatedAt,
	})
}

// GetOrderStatus handles GET /orders/:id/status
func (h *FulfillmentHandler) GetOrderStatus(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		h.BadRequest(c, "order id must be a positive integer")
		return
	}
	h.respondWithStatus(c, orderID)
}

// GetActivityLog handles GET /orders/:id/activity
func (h *FulfillmentHandler) GetActivityLog(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		h.BadRequest(c, "order id must be a positive integer")
		return
	}

	entries, err := h.svc.GetActivityLog(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]ActivityEntryResponse, len(entries))
	for i, e := range entries {
		payload := e.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		resp[i] = ActivityEntryResponse{
			ID:         e.ID.String(),
			GroupIndex: e.GroupIndex,
			EventType:  string(e.EventType),
			Success:    e.Success,
			Payload:    payload,
			Timestamp:  e.Timestamp,
		}
	}
	h.Success(c, resp)
}

// ClearHold handles POST /orders/:id/groups/:index/clear-hold
func (h *FulfillmentHandler) ClearHold(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		h.BadRequest(c, "order id must be a positive integer")
		return
	}
	groupIndex, ok := parseGroupIndex(c)
	if !ok {
		h.BadRequest(c, "group index must be between 0 and 25")
		return
	}
	var req ClearHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.InvalidJSON(c, err)
		return
	}

	if err := h.svc.ClearHold(c.Request.Context(), orderID, groupIndex, req.Note); err != nil {
		h.HandleError(c, err)
		return
	}
	h.respondWithStatus(c, orderID)
}

// CancelOrder handles POST /orders/:id/cancel
func (h *FulfillmentHandler) CancelOrder(c *gin.Context) {
	h.runAndReport(c, h.svc.CancelOrder)
}

// SyncOrder handles POST /orders/:id/sync
func (h *FulfillmentHandler) SyncOrder(c *gin.Context) {
	h.runAndReport(c, h.svc.SyncOrder)
}

// AttachDealer handles POST /orders/:id/dealer
func (h *FulfillmentHandler) AttachDealer(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		h.BadRequest(c, "order id must be a positive integer")
		return
	}
	var req AttachDealerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.InvalidJSON(c, err)
		return
	}

	if err := h.svc.AttachDealer(c.Request.Context(), orderID, req.DealerRef); err != nil {
		h.HandleError(c, err)
		return
	}
	h.respondWithStatus(c, orderID)
}

// runAndReport runs an order-level operation and replies with the new status
func (h *FulfillmentHandler) runAndReport(c *gin.Context, op func(context.Context, int64) error) {
	orderID, ok := parseOrderID(c)
	if !ok {
		h.BadRequest(c, "order id must be a positive integer")
		return
	}
	if err := op(c.Request.Context(), orderID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.respondWithStatus(c, orderID)
}

func (h *FulfillmentHandler) respondWithStatus(c *gin.Context, orderID int64) {
	view, err := h.svc.GetOrderStatus(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}
