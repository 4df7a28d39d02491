package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/shared"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/logger"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

var (
	// ErrGroupClaimed is returned when another worker holds the group's claim
	ErrGroupClaimed = errors.New("fulfillment: group is being synchronized by another worker")

	errStopRetry = errors.New("fulfillment: group state changed during retry")
)

const dealStage = "closed-won"

// LedgerArchiver exports the ledger of an order that reached a terminal status
type LedgerArchiver interface {
	Archive(ctx context.Context, orderID int64, orderLabel string, entries []activity.Entry) (location string, err error)
}

// Dependencies are the ports the orchestrator drives
type Dependencies struct {
	Orders    domain.OrderRepository
	Groups    domain.GroupRepository
	Deals     domain.DealRecordRepository
	Holds     compliance.HoldRepository
	Dealers   compliance.DealerRegistry
	Ledger    activity.Ledger
	CRM       crm.Client
	Claims    domain.ClaimStore
	Evaluator *compliance.Evaluator
}

// Config tunes the orchestrator
type Config struct {
	MaxConcurrentGroups int
	// CallTimeout bounds every CRM and registry call; expiry is transient
	CallTimeout time.Duration
	ClaimTTL    time.Duration
	Retry       RetryPolicy
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrentGroups: 4,
		CallTimeout:         10 * time.Second,
		ClaimTTL:            2 * time.Minute,
		Retry:               DefaultRetryPolicy(),
	}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock injects the time source
func WithClock(c shared.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records sync outcomes
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithArchiver exports ledgers of terminal orders
func WithArchiver(a LedgerArchiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithSleeper replaces the backoff wait, for tests
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// Orchestrator runs the split, hold, resolve and upsert sequence per order
type Orchestrator struct {
	deps     Dependencies
	cfg      Config
	clock    shared.Clock
	logger   *zap.Logger
	metrics  *telemetry.SyncMetrics
	archiver LedgerArchiver
	sleep    Sleeper
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(deps Dependencies, cfg Config, opts ...Option) *Orchestrator {
	d := DefaultConfig()
	if cfg.MaxConcurrentGroups < 1 {
		cfg.MaxConcurrentGroups = d.MaxConcurrentGroups
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = d.CallTimeout
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = d.ClaimTTL
	}
	cfg.Retry = cfg.Retry.normalized()
	if deps.Evaluator == nil {
		deps.Evaluator = compliance.NewEvaluator(compliance.Rules{PerOrderLimit: 10})
	}

	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		clock:  shared.NewSystemClock(),
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessOrder runs one processing pass over an order. Group-level failures
// are recorded on the groups; the returned error covers load failures and
// invariant violations that halt the order.
func (o *Orchestrator) ProcessOrder(ctx context.Context, orderID int64) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "process_order")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrOrderID, orderID)

	ctx, log := logger.WithOrderID(ctx, o.logger, orderID)

	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsCancelled() {
		log.Debug("order cancelled, nothing to process")
		return nil
	}

	groups, err := o.prepareGroups(ctx, order)
	if err != nil {
		telemetry.RecordError(span, err)
		if ferr := o.failOrder(ctx, order, err); ferr != nil {
			log.Error("failed to record order failure", zap.Error(ferr))
		}
		return err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrOrderLabel, order.ExternalOrderNumber)

	if order.Status == domain.OrderStatusPending {
		if err := o.setOrderStatus(ctx, order, domain.OrderStatusProcessing); err != nil {
			return err
		}
	}

	o.processGroups(ctx, order, groups)

	status, err := o.refreshOrderStatus(ctx, orderID)
	if err != nil {
		return err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrOrderStatus, status.String())
	return nil
}

// prepareGroups splits the order, verifies the partition, assigns the label
// once and returns the stored groups, creating them on the first pass.
func (o *Orchestrator) prepareGroups(ctx context.Context, order *domain.Order) ([]domain.FulfillmentGroup, error) {
	derived, err := domain.Split(order)
	if err != nil {
		return nil, err
	}
	if err := domain.VerifyPartition(order, derived); err != nil {
		return nil, err
	}
	label, err := domain.BuildOrderLabel(order.ID, order.IsTest, len(derived))
	if err != nil {
		return nil, err
	}
	firstLabel := order.ExternalOrderNumber == ""
	if err := order.AssignLabel(label); err != nil {
		return nil, err
	}
	if firstLabel {
		order.UpdatedAt = o.clock.Now()
		if err := o.deps.Orders.Update(ctx, order); err != nil {
			return nil, err
		}
	}

	stored, err := o.deps.Groups.FindByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		domain.StampGroups(derived, o.clock.Now())
		if err := o.deps.Groups.CreateAll(ctx, derived); err != nil {
			return nil, err
		}
		o.appendOrderEntry(ctx, order.ID, activity.EventOrderSplit, true, splitPayload(label, derived))
		if stored, err = o.deps.Groups.FindByOrder(ctx, order.ID); err != nil {
			return nil, err
		}
	}

	if err := matchStoredGroups(derived, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// matchStoredGroups checks that a re-split reproduces the stored groups
func matchStoredGroups(derived, stored []domain.FulfillmentGroup) error {
	if len(derived) != len(stored) {
		return domain.Invariant(domain.ErrPartitionViolation, "derived %d groups, stored %d", len(derived), len(stored))
	}
	for i := range derived {
		d, s := derived[i], stored[i]
		if d.GroupIndex != s.GroupIndex || d.GroupIdentifier != s.GroupIdentifier {
			return domain.Invariant(domain.ErrDuplicateGroupID, "group %d derived %s, stored %s", i, d.GroupIdentifier, s.GroupIdentifier)
		}
		dl, sl := d.LineNumbers(), s.LineNumbers()
		if len(dl) != len(sl) {
			return domain.Invariant(domain.ErrPartitionViolation, "group %s item count changed", d.GroupIdentifier)
		}
		for j := range dl {
			if dl[j] != sl[j] {
				return domain.Invariant(domain.ErrPartitionViolation, "group %s items changed", d.GroupIdentifier)
			}
		}
	}
	return nil
}

func (o *Orchestrator) processGroups(ctx context.Context, order *domain.Order, groups []domain.FulfillmentGroup) {
	sem := make(chan struct{}, o.cfg.MaxConcurrentGroups)
	var wg sync.WaitGroup
	for i := range groups {
		g := groups[i]
		if !needsWork(g.Status) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.syncGroup(ctx, order, g.GroupIndex); err != nil && !errors.Is(err, ErrGroupClaimed) {
				logger.L(ctx).Warn("group sync pass ended with error",
					zap.Int("group_index", g.GroupIndex),
					zap.String("group_identifier", g.GroupIdentifier),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
}

func needsWork(s domain.GroupStatus) bool {
	return s.IsInFlight() || s == domain.GroupStatusHolding
}

// syncGroup drives one group as far as it can go under an exclusive claim
func (o *Orchestrator) syncGroup(ctx context.Context, order *domain.Order, groupIndex int) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "sync_group")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrGroupIndex, groupIndex)

	release, err := o.claim(ctx, order.ID, groupIndex)
	if err != nil {
		return err
	}
	defer release()

	g, err := o.deps.Groups.FindOne(ctx, order.ID, groupIndex)
	if err != nil {
		return err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrGroupIdentifier, g.GroupIdentifier)

	err = o.advanceGroup(ctx, order, g)
	telemetry.SetAttributes(span, telemetry.SpanAttrGroupStatus, g.Status.String())
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

// claim takes the group's claim marker. The returned func releases it.
func (o *Orchestrator) claim(ctx context.Context, orderID int64, groupIndex int) (func(), error) {
	key := domain.ClaimKey(orderID, groupIndex)
	token, ok, err := o.deps.Claims.Claim(ctx, key, o.cfg.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		o.appendGroupEntry(ctx, orderID, groupIndex, activity.EventClaimRejected, false, map[string]any{"claim_key": key})
		logger.L(ctx).Info("group claim rejected", zap.Int("group_index", groupIndex))
		return nil, ErrGroupClaimed
	}
	return func() {
		// release on a fresh context so a cancelled pass still frees the claim
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.deps.Claims.Release(rctx, key, token); err != nil {
			logger.L(ctx).Warn("failed to release group claim", zap.String("claim_key", key), zap.Error(err))
		}
	}, nil
}

// advanceGroup runs the state machine from the group's stored status.
// The caller holds the group's claim.
func (o *Orchestrator) advanceGroup(ctx context.Context, order *domain.Order, g *domain.FulfillmentGroup) error {
	if !needsWork(g.Status) {
		return nil
	}
	if cancelled, err := o.orderCancelled(ctx, order.ID); err != nil {
		return err
	} else if cancelled {
		return o.transition(ctx, g, domain.GroupStatusCancelled, nil)
	}

	if g.Status == domain.GroupStatusPending || g.Status == domain.GroupStatusHolding {
		hold, err := o.evaluateHold(ctx, order, g)
		if err != nil {
			return err
		}
		if hold.IsBlocking() {
			if g.Status == domain.GroupStatusPending {
				return o.transition(ctx, g, domain.GroupStatusHolding, map[string]any{
					"hold_type": hold.HoldType.String(),
					"hold_id":   hold.ID.String(),
				})
			}
			return nil
		}
		if err := o.transition(ctx, g, domain.GroupStatusResolving, nil); err != nil {
			return err
		}
	}

	contactID, productIDs, err := o.resolveRecords(ctx, order, g)
	if err != nil {
		return o.handleStepError(ctx, g, err)
	}

	if g.Status == domain.GroupStatusResolving {
		if cancelled, err := o.orderCancelled(ctx, order.ID); err != nil {
			return err
		} else if cancelled {
			return o.transition(ctx, g, domain.GroupStatusCancelled, nil)
		}
		if err := o.transition(ctx, g, domain.GroupStatusUpserting, nil); err != nil {
			return err
		}
	}

	if err := o.upsertDeal(ctx, order, g, contactID, productIDs); err != nil {
		return o.handleStepError(ctx, g, err)
	}
	return o.transition(ctx, g, domain.GroupStatusSynced, nil)
}

// handleStepError fails the group for terminal errors. Stops caused by a
// concurrent state change leave the group as the store has it.
func (o *Orchestrator) handleStepError(ctx context.Context, g *domain.FulfillmentGroup, err error) error {
	if errors.Is(err, errStopRetry) {
		return nil
	}
	if errors.Is(err, domain.ErrOrderCancelled) {
		return o.transition(ctx, g, domain.GroupStatusCancelled, nil)
	}
	class := domain.ClassOf(err)
	if class == domain.ErrorClassNone {
		class = domain.ErrorClassInternalInvariant
	}
	return o.fail(ctx, g, class, err)
}

// evaluateHold gathers supporting facts, applies the evaluator and persists
// the resulting hold. An active blocking hold is kept as is.
func (o *Orchestrator) evaluateHold(ctx context.Context, order *domain.Order, g *domain.FulfillmentGroup) (*compliance.ComplianceHold, error) {
	current, err := o.deps.Holds.FindLatest(ctx, g.OrderID, g.GroupIndex)
	if err != nil {
		return nil, err
	}
	if current.IsBlocking() {
		return current, nil
	}

	facts, err := o.gatherFacts(ctx, order, g)
	if err != nil {
		return nil, err
	}

	next := o.deps.Evaluator.Evaluate(g, facts, current)
	reused := current != nil && next.ID == current.ID
	switch {
	case reused:
	case current.IsActive():
		if err := current.Clear(facts.Now, "superseded by "+next.HoldType.String()); err != nil {
			return nil, err
		}
		if err := o.deps.Holds.Replace(ctx, current, &next); err != nil {
			return nil, err
		}
	default:
		if err := o.deps.Holds.Save(ctx, &next); err != nil {
			return nil, err
		}
	}

	o.appendGroupEntry(ctx, g.OrderID, g.GroupIndex, activity.EventComplianceChecked, !next.IsBlocking(), map[string]any{
		"group_identifier":        g.GroupIdentifier,
		"hold_id":                 next.ID.String(),
		"hold_type":               next.HoldType.String(),
		"reused":                  reused,
		"dealer_attached":         facts.Dealer != nil,
		"regulated_units":         g.RegulatedUnits(),
		"regulated_history_units": facts.RegulatedHistoryUnits,
	})
	if next.IsBlocking() && !reused && o.metrics != nil {
		o.metrics.HoldRaised(ctx, next.HoldType.String())
	}
	return &next, nil
}

func (o *Orchestrator) gatherFacts(ctx context.Context, order *domain.Order, g *domain.FulfillmentGroup) (compliance.SupportingFacts, error) {
	now := o.clock.Now()
	facts := compliance.SupportingFacts{Now: now}

	if g.Consignee == domain.ConsigneeLicensedDealer && g.ConsigneeRef != "" {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		dealer, err := o.deps.Dealers.Lookup(callCtx, g.ConsigneeRef)
		cancel()
		switch {
		case errors.Is(err, compliance.ErrDealerNotFound):
		case err != nil:
			return facts, fmt.Errorf("dealer lookup %s: %w", g.ConsigneeRef, err)
		default:
			facts.Dealer = dealer
		}
	}

	rules := o.deps.Evaluator.Rules()
	if rules.RollingLimit > 0 && g.RegulatedUnits() > 0 {
		units, err := o.deps.Orders.CountRegulatedUnits(ctx, order.Customer.NormalizedEmail(), now.Add(-rules.RollingWindow), order.ID)
		if err != nil {
			return facts, fmt.Errorf("regulated history: %w", err)
		}
		facts.RegulatedHistoryUnits = units
	}
	return facts, nil
}

// resolveRecords resolves the contact and each distinct SKU with retry
func (o *Orchestrator) resolveRecords(ctx context.Context, order *domain.Order, g *domain.FulfillmentGroup) (string, map[string]string, error) {
	resolver := NewResolver(o.deps.CRM)

	var contactID string
	err := o.withRetry(ctx, g, "resolve_contact", func(callCtx context.Context) error {
		id, err := resolver.ResolveContact(callCtx, order.Customer)
		contactID = id
		return err
	})
	if err != nil {
		return "", nil, err
	}
	o.appendGroupEntry(ctx, g.OrderID, g.GroupIndex, activity.EventContactResolved, true, map[string]any{
		"contact_id": contactID,
	})

	productIDs := make(map[string]string)
	for _, item := range g.Items {
		if _, done := productIDs[item.ProductSKU]; done {
			continue
		}
		item := item
		err := o.withRetry(ctx, g, "resolve_product", func(callCtx context.Context) error {
			id, err := resolver.ResolveProduct(callCtx, item)
			productIDs[item.ProductSKU] = id
			return err
		})
		if err != nil {
			return "", nil, err
		}
		o.appendGroupEntry(ctx, g.OrderID, g.GroupIndex, activity.EventProductResolved, true, map[string]any{
			"sku":        item.ProductSKU,
			"product_id": productIDs[item.ProductSKU],
		})
	}
	return contactID, productIDs, nil
}

// upsertDeal creates the group's deal once and updates it afterwards.
// The ledger entry is written before the deal record so a crash between the
// two is recovered from the ledger.
func (o *Orchestrator) upsertDeal(ctx context.Context, order *domain.Order, g *domain.FulfillmentGroup, contactID string, productIDs map[string]string) error {
	record, err := o.deps.Deals.Find(ctx, g.OrderID, g.GroupIndex)
	if err != nil {
		return err
	}
	if record == nil {
		record = &domain.ExternalDealRecord{OrderID: g.OrderID, GroupIndex: g.GroupIndex}
	}

	if !record.HasDeal() {
		entries, err := o.deps.Ledger.ListByOrder(ctx, g.OrderID)
		if err != nil {
			return err
		}
		if recovered := activity.RecoverDealID(entries, g.GroupIndex); recovered != "" {
			_ = record.AssignDealID(recovered)
			logger.L(ctx).Info("recovered deal id from activity log",
				zap.Int("group_index", g.GroupIndex), zap.String("deal_id", recovered))
		}
	}

	dealID := record.ExternalDealID
	deal := buildDeal(order, g, contactID, productIDs)

	var ackID string
	err = o.withRetry(ctx, g, "upsert_deal", func(callCtx context.Context) error {
		id, err := o.deps.CRM.UpsertDeal(callCtx, dealID, deal)
		ackID = id
		return err
	})
	if err != nil {
		if errors.Is(err, errStopRetry) {
			return err
		}
		record.LastSyncError = err.Error()
		if serr := o.deps.Deals.Save(ctx, record); serr != nil {
			logger.L(ctx).Error("failed to save deal record", zap.Error(serr))
		}
		return err
	}
	if ackID == "" {
		ackID = dealID
	}

	o.appendGroupEntry(ctx, g.OrderID, g.GroupIndex, activity.EventDealUpserted, true, activity.DealUpsertedPayload{
		GroupIdentifier: g.GroupIdentifier,
		DealID:          ackID,
		Created:         dealID == "",
	})

	if err := record.AssignDealID(ackID); err != nil {
		return domain.Invariant(err, "group %s acknowledged deal %s, stored %s", g.GroupIdentifier, ackID, record.ExternalDealID)
	}
	record.ContactID = contactID
	record.ProductRecordIDs = orderedProductIDs(g, productIDs)
	record.MarkSynced(o.clock.Now())
	return o.deps.Deals.Save(ctx, record)
}

func buildDeal(order *domain.Order, g *domain.FulfillmentGroup, contactID string, productIDs map[string]string) crm.Deal {
	lines := make([]crm.DealLineItem, len(g.Items))
	for i, item := range g.Items {
		lines[i] = crm.DealLineItem{
			ProductID: productIDs[item.ProductSKU],
			SKU:       item.ProductSKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return crm.Deal{
		Name:            g.GroupIdentifier,
		OrderLabel:      order.ExternalOrderNumber,
		OrderID:         order.ID,
		GroupIndex:      g.GroupIndex,
		ContactID:       contactID,
		Amount:          g.Amount(),
		Stage:           dealStage,
		FulfillmentType: g.FulfillmentType.String(),
		Consignee:       g.Consignee.String(),
		ConsigneeRef:    g.ConsigneeRef,
		IsTest:          order.IsTest,
		LineItems:       lines,
	}
}

func orderedProductIDs(g *domain.FulfillmentGroup, productIDs map[string]string) []string {
	skus := g.DistinctSKUs()
	ids := make([]string, len(skus))
	for i, sku := range skus {
		ids[i] = productIDs[sku]
	}
	return ids
}

// withRetry runs fn until it succeeds, fails permanently or exhausts the
// policy. Each call gets its own timeout. Before every retry the stored group
// and order are re-read; a group that reached synced or cancelled, or an
// order that was cancelled, ends the loop.
func (o *Orchestrator) withRetry(ctx context.Context, g *domain.FulfillmentGroup, op string, fn func(context.Context) error) error {
	schedule := o.cfg.Retry.NewBackOff()
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		class := crm.ClassOf(err)
		g.Attempts++
		o.appendGroupEntry(ctx, g.OrderID, g.GroupIndex, activity.EventAttemptFailed, false, map[string]any{
			"operation": op,
			"attempt":   attempt,
			"class":     class.String(),
			"error":     err.Error(),
		})
		if o.metrics != nil {
			o.metrics.AttemptFailed(ctx, op, class.String())
		}
		logger.L(ctx).Warn("crm call failed",
			zap.Int("group_index", g.GroupIndex),
			zap.String("group_identifier", g.GroupIdentifier),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.String("class", class.String()),
			zap.Error(err),
		)

		if !class.IsRetryable() {
			return domain.WithClass(domain.ErrorClassPermanentExternal, err)
		}
		if attempt >= o.cfg.Retry.MaxAttempts {
			return domain.WithClass(domain.ErrorClassTransientExternal,
				fmt.Errorf("%s: %d attempts exhausted: %w", op, attempt, err))
		}

		wait := schedule.NextBackOff()
		if ra := crm.RetryAfterOf(err); ra > wait {
			wait = ra
		}
		if serr := o.sleep(ctx, wait); serr != nil {
			return domain.WithClass(domain.ErrorClassTransientExternal, fmt.Errorf("%s: %w", op, serr))
		}

		if err := o.recheck(ctx, g); err != nil {
			return err
		}
	}
}

// recheck re-reads the stored state between retries
func (o *Orchestrator) recheck(ctx context.Context, g *domain.FulfillmentGroup) error {
	stored, err := o.deps.Groups.FindOne(ctx, g.OrderID, g.GroupIndex)
	if err != nil {
		return err
	}
	switch stored.Status {
	case domain.GroupStatusSynced, domain.GroupStatusCancelled:
		*g = *stored
		return errStopRetry
	}
	cancelled, err := o.orderCancelled(ctx, g.OrderID)
	if err != nil {
		return err
	}
	if cancelled {
		return domain.ErrOrderCancelled
	}
	return nil
}

func (o *Orchestrator) orderCancelled(ctx context.Context, orderID int64) (bool, error) {
	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	return order.IsCancelled(), nil
}

// transition moves the group, persists it and appends the ledger entry
func (o *Orchestrator) transition(ctx context.Context, g *domain.FulfillmentGroup, next domain.GroupStatus, extra map[string]any) error {
	from := g.Status
	if err := g.TransitionTo(next, o.clock.Now()); err != nil {
		return err
	}
	return o.persistTransition(ctx, g, from, extra)
}

// fail moves the group to failed with its terminal cause
func (o *Orchestrator) fail(ctx context.Context, g *domain.FulfillmentGroup, class domain.ErrorClass, cause error) error {
	from := g.Status
	if err := g.Fail(class, cause, o.clock.Now()); err != nil {
		return err
	}
	return o.persistTransition(ctx, g, from, nil)
}

func (o *Orchestrator) persistTransition(ctx context.Context, g *domain.FulfillmentGroup, from domain.GroupStatus, extra map[string]any) error {
	if err := o.deps.Groups.Save(ctx, g); err != nil {
		return err
	}

	payload := map[string]any{
		"group_identifier": g.GroupIdentifier,
		"from":             from.String(),
		"to":               g.Status.String(),
		"attempts":         g.Attempts,
	}
	if g.Status == domain.GroupStatusFailed {
		payload["error_class"] = g.LastErrorClass.String()
		payload["error"] = g.LastError
	}
	for k, v := range extra {
		payload[k] = v
	}
	success := g.Status != domain.GroupStatusFailed
	if err := o.appendEntry(ctx, g.OrderID, activity.Group(g.GroupIndex), activity.EventGroupTransition, success, payload); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int("group_index", g.GroupIndex),
		zap.String("group_identifier", g.GroupIdentifier),
		zap.String("from", from.String()),
		zap.String("to", g.Status.String()),
	}
	if g.Status == domain.GroupStatusFailed {
		fields = append(fields, zap.String("error_class", g.LastErrorClass.String()), zap.String("error", g.LastError))
		logger.L(ctx).Error("group transition", fields...)
	} else {
		logger.L(ctx).Info("group transition", fields...)
	}
	if o.metrics != nil {
		o.metrics.GroupTransition(ctx, g.Status.String())
	}
	return nil
}

// refreshOrderStatus derives the order status from its groups and persists a change
func (o *Orchestrator) refreshOrderStatus(ctx context.Context, orderID int64) (domain.OrderStatus, error) {
	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	groups, err := o.deps.Groups.FindByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	next := domain.DeriveOrderStatus(order.IsCancelled(), groups)
	if next != order.Status {
		if err := o.setOrderStatus(ctx, order, next); err != nil {
			return "", err
		}
	}
	return next, nil
}

func (o *Orchestrator) setOrderStatus(ctx context.Context, order *domain.Order, next domain.OrderStatus) error {
	from := order.Status
	order.Status = next
	order.UpdatedAt = o.clock.Now()
	if err := o.deps.Orders.Update(ctx, order); err != nil {
		return err
	}
	o.appendOrderEntry(ctx, order.ID, activity.EventOrderStatusChanged, next != domain.OrderStatusFailed, map[string]any{
		"order_label": order.ExternalOrderNumber,
		"from":        from.String(),
		"to":          next.String(),
	})
	logger.L(ctx).Info("order status changed",
		zap.String("order_label", order.ExternalOrderNumber),
		zap.String("from", from.String()),
		zap.String("to", next.String()),
	)
	if next.IsTerminal() {
		if o.metrics != nil {
			o.metrics.OrderOutcome(ctx, next.String())
		}
		o.archive(ctx, order)
	}
	return nil
}

// failOrder records an order-level halt: validation rejects and invariant violations
func (o *Orchestrator) failOrder(ctx context.Context, order *domain.Order, cause error) error {
	class := domain.ClassOf(cause)
	if class == domain.ErrorClassNone {
		class = domain.ErrorClassInternalInvariant
	}
	event := activity.EventOrderStatusChanged
	if class == domain.ErrorClassValidation {
		event = activity.EventOrderRejected
	}
	o.appendOrderEntry(ctx, order.ID, event, false, map[string]any{
		"error_class": class.String(),
		"error":       cause.Error(),
	})
	logger.L(ctx).Error("order processing halted",
		zap.String("error_class", class.String()),
		zap.Error(cause),
	)
	if order.Status == domain.OrderStatusFailed {
		return nil
	}
	return o.setOrderStatus(ctx, order, domain.OrderStatusFailed)
}

func (o *Orchestrator) archive(ctx context.Context, order *domain.Order) {
	if o.archiver == nil {
		return
	}
	entries, err := o.deps.Ledger.ListByOrder(ctx, order.ID)
	if err != nil {
		logger.L(ctx).Warn("ledger archive skipped", zap.Error(err))
		return
	}
	location, err := o.archiver.Archive(ctx, order.ID, order.ExternalOrderNumber, entries)
	if err != nil {
		logger.L(ctx).Warn("ledger archive failed", zap.Error(err))
		o.appendOrderEntry(ctx, order.ID, activity.EventOrderArchived, false, map[string]any{"error": err.Error()})
		return
	}
	o.appendOrderEntry(ctx, order.ID, activity.EventOrderArchived, true, map[string]any{
		"location": location,
		"entries":  len(entries),
	})
}

func (o *Orchestrator) appendEntry(ctx context.Context, orderID int64, groupIndex *int, event activity.EventType, success bool, payload any) error {
	entry, err := activity.NewEntry(orderID, groupIndex, event, success, payload, o.clock.Now())
	if err != nil {
		return err
	}
	if err := o.deps.Ledger.Append(ctx, entry); err != nil {
		logger.L(ctx).Error("failed to append activity entry",
			zap.String("event_type", event.String()), zap.Error(err))
		return err
	}
	return nil
}

// appendOrderEntry and appendGroupEntry log ledger failures without halting
func (o *Orchestrator) appendOrderEntry(ctx context.Context, orderID int64, event activity.EventType, success bool, payload any) {
	_ = o.appendEntry(ctx, orderID, nil, event, success, payload)
}

func (o *Orchestrator) appendGroupEntry(ctx context.Context, orderID int64, groupIndex int, event activity.EventType, success bool, payload any) {
	_ = o.appendEntry(ctx, orderID, activity.Group(groupIndex), event, success, payload)
}

func splitPayload(label string, groups []domain.FulfillmentGroup) map[string]any {
	summary := make([]map[string]any, len(groups))
	for i, g := range groups {
		summary[i] = map[string]any{
			"group_index":      g.GroupIndex,
			"group_identifier": g.GroupIdentifier,
			"fulfillment_type": g.FulfillmentType.String(),
			"consignee":        g.Consignee.String(),
			"line_numbers":     g.LineNumbers(),
		}
	}
	return map[string]any{"order_label": label, "groups": summary}
}
