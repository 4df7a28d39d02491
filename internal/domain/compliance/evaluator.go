package compliance

import (
	"time"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

// Rules are the configured quantity limits
type Rules struct {
	// PerOrderLimit caps regulated units in one group; zero disables the check
	PerOrderLimit int
	// RollingLimit caps regulated units across the customer's recent orders
	// plus this group; zero disables the check
	RollingLimit int
	// RollingWindow is how far back order history counts toward RollingLimit
	RollingWindow time.Duration
}

// SupportingFacts are looked up by the caller before evaluation
type SupportingFacts struct {
	// Dealer is the licensed dealer attached to the order, nil when none
	Dealer *DealerRecord
	// RegulatedHistoryUnits counts regulated units in the customer's other
	// orders within the rolling window
	RegulatedHistoryUnits int
	Now                   time.Time
}

// Evaluator applies the hold decision table to a fulfillment group
type Evaluator struct {
	rules Rules
}

// NewEvaluator creates an Evaluator
func NewEvaluator(rules Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

// Rules returns the configured rules
func (e *Evaluator) Rules() Rules {
	return e.rules
}

// Decide returns the hold type the facts call for. First match wins:
// missing dealer, expired dealer, quantity limit, none.
func (e *Evaluator) Decide(group *fulfillment.FulfillmentGroup, facts SupportingFacts) HoldType {
	if group.Consignee == fulfillment.ConsigneeLicensedDealer {
		if facts.Dealer == nil {
			return HoldTypeMissingLicenseHolder
		}
		if facts.Dealer.IsExpired(facts.Now) {
			return HoldTypeLicenseExpired
		}
	}

	units := group.RegulatedUnits()
	if units > 0 {
		if e.rules.PerOrderLimit > 0 && units > e.rules.PerOrderLimit {
			return HoldTypeQuantityLimit
		}
		if e.rules.RollingLimit > 0 && facts.RegulatedHistoryUnits+units > e.rules.RollingLimit {
			return HoldTypeQuantityLimit
		}
	}
	return HoldTypeNone
}

// Evaluate returns the hold that applies to the group given its current hold.
//
// An active blocking hold is returned unchanged whatever the facts say: only
// an explicit clear ends it. An active hold of the decided type is returned
// unchanged, so re-evaluation keeps its StartedAt. Anything else yields a new
// hold record; the caller supersedes an active non-blocking current hold.
func (e *Evaluator) Evaluate(group *fulfillment.FulfillmentGroup, facts SupportingFacts, current *ComplianceHold) ComplianceHold {
	if current.IsBlocking() {
		return *current
	}
	decision := e.Decide(group, facts)
	if current.IsActive() && current.HoldType == decision {
		return *current
	}
	return NewHold(group.OrderID, group.GroupIndex, decision, facts.Now)
}
