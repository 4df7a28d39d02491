package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

var evalNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func dealerGroup(units int) *fulfillment.FulfillmentGroup {
	return &fulfillment.FulfillmentGroup{
		OrderID:         7,
		GroupIndex:      0,
		FulfillmentType: fulfillment.FulfillmentTypeLicensedDealer,
		Consignee:       fulfillment.ConsigneeLicensedDealer,
		Items: []fulfillment.LineItem{
			{LineNumber: 1, ProductSKU: "GUN-1", Quantity: units, RequiresLicenseHolder: true},
		},
	}
}

func validDealer() *DealerRecord {
	return &DealerRecord{Ref: "FFL-1", ExpiresAt: evalNow.Add(30 * 24 * time.Hour)}
}

func TestEvaluator_Decide(t *testing.T) {
	e := NewEvaluator(Rules{PerOrderLimit: 3, RollingLimit: 5, RollingWindow: 5 * 24 * time.Hour})

	tests := []struct {
		name  string
		group *fulfillment.FulfillmentGroup
		facts SupportingFacts
		want  HoldType
	}{
		{
			name:  "missing dealer",
			group: dealerGroup(1),
			facts: SupportingFacts{Now: evalNow},
			want:  HoldTypeMissingLicenseHolder,
		},
		{
			name:  "expired dealer beats quantity",
			group: dealerGroup(10),
			facts: SupportingFacts{Dealer: &DealerRecord{Ref: "FFL-1", ExpiresAt: evalNow.Add(-time.Hour)}, Now: evalNow},
			want:  HoldTypeLicenseExpired,
		},
		{
			name:  "per order limit",
			group: dealerGroup(4),
			facts: SupportingFacts{Dealer: validDealer(), Now: evalNow},
			want:  HoldTypeQuantityLimit,
		},
		{
			name:  "rolling limit",
			group: dealerGroup(2),
			facts: SupportingFacts{Dealer: validDealer(), RegulatedHistoryUnits: 4, Now: evalNow},
			want:  HoldTypeQuantityLimit,
		},
		{
			name:  "within limits",
			group: dealerGroup(3),
			facts: SupportingFacts{Dealer: validDealer(), RegulatedHistoryUnits: 2, Now: evalNow},
			want:  HoldTypeNone,
		},
		{
			name: "non regulated group ignores dealer",
			group: &fulfillment.FulfillmentGroup{
				Consignee: fulfillment.ConsigneePlatform,
				Items:     []fulfillment.LineItem{{ProductSKU: "ACC", Quantity: 50}},
			},
			facts: SupportingFacts{Now: evalNow, RegulatedHistoryUnits: 100},
			want:  HoldTypeNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Decide(tt.group, tt.facts))
		})
	}
}

func TestEvaluator_DisabledLimits(t *testing.T) {
	e := NewEvaluator(Rules{})
	got := e.Decide(dealerGroup(1000), SupportingFacts{Dealer: validDealer(), RegulatedHistoryUnits: 1000, Now: evalNow})
	assert.Equal(t, HoldTypeNone, got)
}

func TestEvaluator_EvaluateIsIdempotent(t *testing.T) {
	e := NewEvaluator(Rules{PerOrderLimit: 10})
	group := dealerGroup(1)
	facts := SupportingFacts{Now: evalNow}

	first := e.Evaluate(group, facts, nil)
	assert.Equal(t, HoldTypeMissingLicenseHolder, first.HoldType)
	assert.Equal(t, evalNow, first.StartedAt)
	assert.True(t, first.IsBlocking())

	facts.Now = evalNow.Add(time.Hour)
	second := e.Evaluate(group, facts, &first)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, evalNow, second.StartedAt)
}

func TestEvaluator_NeverAutoClears(t *testing.T) {
	e := NewEvaluator(Rules{PerOrderLimit: 10})
	group := dealerGroup(1)

	held := e.Evaluate(group, SupportingFacts{Now: evalNow}, nil)
	after := e.Evaluate(group, SupportingFacts{Dealer: validDealer(), Now: evalNow.Add(time.Minute)}, &held)

	assert.Equal(t, held.ID, after.ID)
	assert.True(t, after.IsBlocking())
	assert.Nil(t, after.ClearedAt)
}

func TestEvaluator_RetriggerAfterClearCreatesNewHold(t *testing.T) {
	e := NewEvaluator(Rules{PerOrderLimit: 10})
	group := dealerGroup(1)

	held := e.Evaluate(group, SupportingFacts{Now: evalNow}, nil)
	require.NoError(t, held.Clear(evalNow.Add(time.Hour), "dealer attached"))

	expired := &DealerRecord{Ref: "FFL-1", ExpiresAt: evalNow.Add(90 * time.Minute)}
	later := evalNow.Add(2 * time.Hour)
	again := e.Evaluate(group, SupportingFacts{Dealer: expired, Now: later}, &held)

	assert.NotEqual(t, held.ID, again.ID)
	assert.Equal(t, HoldTypeLicenseExpired, again.HoldType)
	assert.Equal(t, later, again.StartedAt)
}

func TestEvaluator_NoneHoldSupersededByBlocking(t *testing.T) {
	e := NewEvaluator(Rules{PerOrderLimit: 2})
	group := dealerGroup(1)

	clear := e.Evaluate(group, SupportingFacts{Dealer: validDealer(), Now: evalNow}, nil)
	assert.Equal(t, HoldTypeNone, clear.HoldType)
	assert.False(t, clear.IsBlocking())

	same := e.Evaluate(group, SupportingFacts{Dealer: validDealer(), Now: evalNow.Add(time.Hour)}, &clear)
	assert.Equal(t, clear.ID, same.ID)

	group.Items[0].Quantity = 5
	blocked := e.Evaluate(group, SupportingFacts{Dealer: validDealer(), Now: evalNow.Add(time.Hour)}, &clear)
	assert.NotEqual(t, clear.ID, blocked.ID)
	assert.Equal(t, HoldTypeQuantityLimit, blocked.HoldType)
}

func TestComplianceHold_Clear(t *testing.T) {
	h := NewHold(1, 0, HoldTypeQuantityLimit, evalNow)
	assert.Equal(t, HoldTypeQuantityLimit.Reason(), h.Note)
	require.NoError(t, h.Clear(evalNow, "approved"))
	assert.False(t, h.IsActive())
	assert.ErrorIs(t, h.Clear(evalNow, "again"), ErrHoldNotActive)

	var nilHold *ComplianceHold
	assert.False(t, nilHold.IsActive())
	assert.False(t, nilHold.IsBlocking())
}
