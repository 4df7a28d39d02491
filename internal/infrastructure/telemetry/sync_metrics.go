package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
var (
	AttrGroupStatus  = attribute.Key("group_status")
	AttrOrderStatus  = attribute.Key("order_status")
	AttrErrorClass   = attribute.Key("error_class")
	AttrCRMOperation = attribute.Key("crm_operation")
	AttrHoldType     = attribute.Key("hold_type")
)

// SyncMetrics counts fulfillment sync outcomes
type SyncMetrics struct {
	groupOutcomes   *Counter
	orderOutcomes   *Counter
	attemptFailures *Counter
	holdsRaised     *Counter
	crmLatency      *Histogram
}

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &SyncMetrics{}
	var err error
	if m.groupOutcomes, err = NewCounter(meter, "fulfillment_group_transitions_total",
		"Fulfillment group status transitions", "{transitions}"); err != nil {
		return nil, err
	}
	if m.orderOutcomes, err = NewCounter(meter, "fulfillment_order_outcomes_total",
		"Order processing passes by resulting status", "{orders}"); err != nil {
		return nil, err
	}
	if m.attemptFailures, err = NewCounter(meter, "fulfillment_sync_attempt_failures_total",
		"Failed CRM attempts by error class", "{attempts}"); err != nil {
		return nil, err
	}
	if m.holdsRaised, err = NewCounter(meter, "fulfillment_compliance_holds_total",
		"Compliance holds raised by type", "{holds}"); err != nil {
		return nil, err
	}
	if m.crmLatency, err = NewHistogram(meter, "fulfillment_crm_call_duration_seconds",
		"CRM call latency", "s", 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10); err != nil {
		return nil, err
	}
	return m, nil
}

// GroupTransition counts a group reaching status
func (m *SyncMetrics) GroupTransition(ctx context.Context, status string) {
	m.groupOutcomes.Inc(ctx, AttrGroupStatus.String(status))
}

// OrderOutcome counts an order pass ending in status
func (m *SyncMetrics) OrderOutcome(ctx context.Context, status string) {
	m.orderOutcomes.Inc(ctx, AttrOrderStatus.String(status))
}

// AttemptFailed counts one failed CRM attempt
func (m *SyncMetrics) AttemptFailed(ctx context.Context, operation, class string) {
	m.attemptFailures.Inc(ctx, AttrCRMOperation.String(operation), AttrErrorClass.String(class))
}

// HoldRaised counts a newly opened blocking hold
func (m *SyncMetrics) HoldRaised(ctx context.Context, holdType string) {
	m.holdsRaised.Inc(ctx, AttrHoldType.String(holdType))
}

// CRMCall records the latency of one CRM call
func (m *SyncMetrics) CRMCall(ctx context.Context, operation string, d time.Duration) {
	m.crmLatency.RecordDuration(ctx, d, AttrCRMOperation.String(operation))
}
