package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// SubmitOrder validates an intake request and stores the order as pending.
// The scheduler picks it up on its next poll.
func (o *Orchestrator) SubmitOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	order, err := req.ToOrder(o.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := o.deps.Orders.Create(ctx, order); err != nil {
		return nil, err
	}
	o.appendOrderEntry(ctx, order.ID, activity.EventOrderReceived, true, map[string]any{
		"customer_email": order.Customer.NormalizedEmail(),
		"line_items":     len(order.Items),
		"total_amount":   order.TotalAmount.StringFixed(2),
		"is_test":        order.IsTest,
	})
	logger.L(ctx).Info("order received",
		zap.Int64("order_id", order.ID),
		zap.Int("line_items", len(order.Items)),
	)
	return order, nil
}

// GetOrderStatus reports the order and every group, including hold reasons
// and failure references
func (o *Orchestrator) GetOrderStatus(ctx context.Context, orderID int64) (*OrderStatusView, error) {
	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	groups, err := o.deps.Groups.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	holdList, err := o.deps.Holds.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	dealList, err := o.deps.Deals.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	entries, err := o.deps.Ledger.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	holds := latestHolds(holdList)
	deals := make(map[int]*domain.ExternalDealRecord, len(dealList))
	for i := range dealList {
		deals[dealList[i].GroupIndex] = &dealList[i]
	}
	return buildStatusView(order, groups, holds, deals, entries), nil
}

// latestHolds picks the active hold of each group, or its most recent one
func latestHolds(list []compliance.ComplianceHold) map[int]*compliance.ComplianceHold {
	latest := make(map[int]*compliance.ComplianceHold)
	for i := range list {
		h := &list[i]
		cur, ok := latest[h.GroupIndex]
		switch {
		case !ok:
			latest[h.GroupIndex] = h
		case cur.IsActive():
		case h.IsActive() || h.StartedAt.After(cur.StartedAt):
			latest[h.GroupIndex] = h
		}
	}
	return latest
}

// GetActivityLog returns the order's ledger in append order
func (o *Orchestrator) GetActivityLog(ctx context.Context, orderID int64) ([]activity.Entry, error) {
	if _, err := o.deps.Orders.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	return o.deps.Ledger.ListByOrder(ctx, orderID)
}

// ClearHold re-evaluates a holding group's supporting facts and releases it
// only when they no longer block. When another blocking reason now applies,
// the hold is superseded by one of that type and ErrHoldStillBlocking is
// returned.
func (o *Orchestrator) ClearHold(ctx context.Context, orderID int64, groupIndex int, note string) error {
	ctx, log := logger.WithOrderID(ctx, o.logger, orderID)

	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsCancelled() {
		return domain.ErrOrderCancelled
	}

	released, err := o.clearHoldClaimed(ctx, order, groupIndex, note)
	if err != nil {
		return err
	}
	if !released {
		return nil
	}

	log.Info("hold cleared, resuming group", zap.Int("group_index", groupIndex))
	if err := o.syncGroup(ctx, order, groupIndex); err != nil && !errors.Is(err, ErrGroupClaimed) {
		log.Warn("group sync after hold clearance ended with error", zap.Int("group_index", groupIndex), zap.Error(err))
	}
	_, err = o.refreshOrderStatus(ctx, orderID)
	return err
}

// clearHoldClaimed runs the clearance under the group's claim. It reports
// whether the group moved on to resolving.
func (o *Orchestrator) clearHoldClaimed(ctx context.Context, order *domain.Order, groupIndex int, note string) (bool, error) {
	release, err := o.claim(ctx, order.ID, groupIndex)
	if err != nil {
		return false, err
	}
	defer release()

	g, err := o.deps.Groups.FindOne(ctx, order.ID, groupIndex)
	if err != nil {
		return false, err
	}
	hold, err := o.deps.Holds.FindLatest(ctx, order.ID, groupIndex)
	if err != nil {
		return false, err
	}
	if !hold.IsBlocking() {
		return false, compliance.ErrHoldNotActive
	}

	facts, err := o.gatherFacts(ctx, order, g)
	if err != nil {
		return false, err
	}
	decision := o.deps.Evaluator.Decide(g, facts)

	switch {
	case decision == hold.HoldType:
		o.appendGroupEntry(ctx, order.ID, groupIndex, activity.EventComplianceChecked, false, map[string]any{
			"group_identifier": g.GroupIdentifier,
			"hold_id":          hold.ID.String(),
			"hold_type":        hold.HoldType.String(),
			"clear_requested":  true,
			"note":             note,
		})
		return false, fmt.Errorf("%w: %s", compliance.ErrHoldStillBlocking, hold.HoldType.Reason())

	case decision.IsBlocking():
		next := compliance.NewHold(order.ID, groupIndex, decision, facts.Now)
		if err := hold.Clear(facts.Now, "superseded by "+decision.String()); err != nil {
			return false, err
		}
		if err := o.deps.Holds.Replace(ctx, hold, &next); err != nil {
			return false, err
		}
		o.appendGroupEntry(ctx, order.ID, groupIndex, activity.EventComplianceChecked, false, map[string]any{
			"group_identifier": g.GroupIdentifier,
			"hold_id":          next.ID.String(),
			"hold_type":        next.HoldType.String(),
			"superseded":       hold.ID.String(),
			"note":             note,
		})
		if o.metrics != nil {
			o.metrics.HoldRaised(ctx, next.HoldType.String())
		}
		return false, fmt.Errorf("%w: %s", compliance.ErrHoldStillBlocking, decision.Reason())
	}

	if err := hold.Clear(facts.Now, note); err != nil {
		return false, err
	}
	if err := o.deps.Holds.Save(ctx, hold); err != nil {
		return false, err
	}
	o.appendGroupEntry(ctx, order.ID, groupIndex, activity.EventHoldCleared, true, map[string]any{
		"group_identifier": g.GroupIdentifier,
		"hold_id":          hold.ID.String(),
		"hold_type":        hold.HoldType.String(),
		"note":             note,
	})
	if g.Status == domain.GroupStatusHolding {
		if err := o.transition(ctx, g, domain.GroupStatusResolving, map[string]any{"hold_id": hold.ID.String()}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// CancelOrder stops further processing of an order. Groups already synced
// stay synced; groups a worker is driving right now are cancelled by that
// worker before its next step.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID int64) error {
	ctx, log := logger.WithOrderID(ctx, o.logger, orderID)

	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsCancelled() {
		return nil
	}
	from := order.Status
	order.Cancel(o.clock.Now())
	if err := o.deps.Orders.Update(ctx, order); err != nil {
		return err
	}
	o.appendOrderEntry(ctx, orderID, activity.EventOrderCancelled, true, map[string]any{
		"order_label": order.ExternalOrderNumber,
		"from":        from.String(),
	})
	log.Info("order cancelled", zap.String("from", from.String()))

	groups, err := o.deps.Groups.FindByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for i := range groups {
		if !groups[i].Status.CanTransitionTo(domain.GroupStatusCancelled) {
			continue
		}
		if err := o.cancelGroup(ctx, orderID, groups[i].GroupIndex); err != nil && !errors.Is(err, ErrGroupClaimed) {
			return err
		}
	}

	if o.metrics != nil {
		o.metrics.OrderOutcome(ctx, domain.OrderStatusCancelled.String())
	}
	o.archive(ctx, order)
	return nil
}

func (o *Orchestrator) cancelGroup(ctx context.Context, orderID int64, groupIndex int) error {
	release, err := o.claim(ctx, orderID, groupIndex)
	if err != nil {
		return err
	}
	defer release()

	g, err := o.deps.Groups.FindOne(ctx, orderID, groupIndex)
	if err != nil {
		return err
	}
	if !g.Status.CanTransitionTo(domain.GroupStatusCancelled) {
		return nil
	}
	return o.transition(ctx, g, domain.GroupStatusCancelled, nil)
}

// SyncOrder is the operator retry: failed groups go back to pending and the
// order gets an immediate processing pass
func (o *Orchestrator) SyncOrder(ctx context.Context, orderID int64) error {
	ctx, _ = logger.WithOrderID(ctx, o.logger, orderID)

	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsCancelled() {
		return domain.ErrOrderCancelled
	}

	groups, err := o.deps.Groups.FindByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	reset := 0
	for i := range groups {
		if groups[i].Status != domain.GroupStatusFailed {
			continue
		}
		if err := o.retryGroup(ctx, orderID, groups[i].GroupIndex); err != nil {
			return err
		}
		reset++
	}
	if order.Status != domain.OrderStatusProcessing && (reset > 0 || order.Status == domain.OrderStatusFailed) {
		if err := o.setOrderStatus(ctx, order, domain.OrderStatusProcessing); err != nil {
			return err
		}
	}
	return o.ProcessOrder(ctx, orderID)
}

func (o *Orchestrator) retryGroup(ctx context.Context, orderID int64, groupIndex int) error {
	release, err := o.claim(ctx, orderID, groupIndex)
	if err != nil {
		return err
	}
	defer release()

	g, err := o.deps.Groups.FindOne(ctx, orderID, groupIndex)
	if err != nil {
		return err
	}
	if g.Status != domain.GroupStatusFailed {
		return nil
	}
	return o.transition(ctx, g, domain.GroupStatusPending, map[string]any{"operator_retry": true})
}

// AttachDealer records the licensed dealer for an order, points its
// licensed-dealer groups at it and re-evaluates groups holding on it
func (o *Orchestrator) AttachDealer(ctx context.Context, orderID int64, dealerRef string) error {
	ctx, log := logger.WithOrderID(ctx, o.logger, orderID)

	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsCancelled() {
		return domain.ErrOrderCancelled
	}
	if _, err := o.deps.Dealers.Lookup(ctx, dealerRef); err != nil {
		return err
	}

	order.DealerRef = dealerRef
	order.UpdatedAt = o.clock.Now()
	if err := o.deps.Orders.Update(ctx, order); err != nil {
		return err
	}
	o.appendOrderEntry(ctx, orderID, activity.EventDealerAttached, true, map[string]any{"dealer_ref": dealerRef})
	log.Info("dealer attached", zap.String("dealer_ref", dealerRef))

	groups, err := o.deps.Groups.FindByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for i := range groups {
		g := &groups[i]
		if g.Consignee != domain.ConsigneeLicensedDealer || g.ConsigneeRef == dealerRef {
			continue
		}
		if g.Status == domain.GroupStatusSynced || g.Status == domain.GroupStatusCancelled {
			continue
		}
		if err := o.repointGroup(ctx, orderID, g.GroupIndex, dealerRef); err != nil {
			return err
		}
	}

	for i := range groups {
		if groups[i].Status != domain.GroupStatusHolding {
			continue
		}
		_, err := o.clearHoldClaimed(ctx, order, groups[i].GroupIndex, "dealer "+dealerRef+" attached")
		switch {
		case err == nil:
		case errors.Is(err, compliance.ErrHoldStillBlocking),
			errors.Is(err, compliance.ErrHoldNotActive),
			errors.Is(err, ErrGroupClaimed):
			log.Info("group still holding after dealer attach", zap.Int("group_index", groups[i].GroupIndex), zap.Error(err))
		default:
			return err
		}
	}
	return o.ProcessOrder(ctx, orderID)
}

func (o *Orchestrator) repointGroup(ctx context.Context, orderID int64, groupIndex int, dealerRef string) error {
	release, err := o.claim(ctx, orderID, groupIndex)
	if err != nil {
		return err
	}
	defer release()

	g, err := o.deps.Groups.FindOne(ctx, orderID, groupIndex)
	if err != nil {
		return err
	}
	g.ConsigneeRef = dealerRef
	g.UpdatedAt = o.clock.Now()
	return o.deps.Groups.Save(ctx, g)
}
