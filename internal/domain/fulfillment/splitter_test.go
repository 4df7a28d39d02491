package fulfillment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(line int, sku string, opts ...func(*LineItem)) LineItem {
	item := LineItem{
		LineNumber: line,
		ProductSKU: sku,
		Quantity:   1,
		UnitPrice:  decimal.NewFromInt(10),
	}
	for _, opt := range opts {
		opt(&item)
	}
	return item
}

func licensed(li *LineItem) { li.RequiresLicenseHolder = true }
func inHouse(li *LineItem)  { li.InHouseOnly = true }
func dropShip(li *LineItem) { li.DropShipEligible = true }

func TestSplit_ScenarioSingleDropShipTestOrder(t *testing.T) {
	order := &Order{ID: 42, IsTest: true, Items: []LineItem{newItem(1, "ACC-1", dropShip)}}

	groups, err := Split(order)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "test00000420", groups[0].GroupIdentifier)
	assert.Equal(t, FulfillmentTypeDropShip, groups[0].FulfillmentType)
	assert.Equal(t, ConsigneeCustomer, groups[0].Consignee)
	assert.Equal(t, GroupStatusPending, groups[0].Status)
}

func TestSplit_ScenarioLicensedAndInHouse(t *testing.T) {
	order := &Order{ID: 7, Items: []LineItem{
		newItem(1, "INH-1", inHouse),
		newItem(2, "GUN-1", licensed),
	}}

	groups, err := Split(order)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, 0, groups[0].GroupIndex)
	assert.Equal(t, FulfillmentTypeLicensedDealer, groups[0].FulfillmentType)
	assert.Equal(t, "0000007A", groups[0].GroupIdentifier)
	assert.Equal(t, []int{2}, groups[0].LineNumbers())

	assert.Equal(t, FulfillmentTypeInHouse, groups[1].FulfillmentType)
	assert.Equal(t, "0000007B", groups[1].GroupIdentifier)

	label, err := BuildOrderLabel(order.ID, order.IsTest, len(groups))
	require.NoError(t, err)
	assert.Equal(t, "0000007Z", label)
}

func TestSplit_ScenarioAllDropShipCollapse(t *testing.T) {
	order := &Order{ID: 1000000, IsTest: true, Items: []LineItem{
		newItem(1, "A", dropShip),
		newItem(2, "B", dropShip),
		newItem(3, "C", dropShip),
	}}

	groups, err := Split(order)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "test10000000", groups[0].GroupIdentifier)
	assert.Equal(t, []int{1, 2, 3}, groups[0].LineNumbers())
}

func TestSplit_BucketOrderAndItemOrder(t *testing.T) {
	order := &Order{ID: 9, DealerRef: "FFL-9", Items: []LineItem{
		newItem(1, "DS-1", dropShip),
		newItem(2, "IH-1"),
		newItem(3, "GUN-1", licensed),
		newItem(4, "DS-2", dropShip),
		newItem(5, "GUN-2", licensed),
		newItem(6, "IH-2", inHouse),
	}}

	groups, err := Split(order)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, FulfillmentTypeLicensedDealer, groups[0].FulfillmentType)
	assert.Equal(t, "FFL-9", groups[0].ConsigneeRef)
	assert.Equal(t, []int{3, 5}, groups[0].LineNumbers())
	assert.Equal(t, FulfillmentTypeInHouse, groups[1].FulfillmentType)
	assert.Equal(t, []int{2, 6}, groups[1].LineNumbers())
	assert.Equal(t, FulfillmentTypeDropShip, groups[2].FulfillmentType)
	assert.Equal(t, []int{1, 4}, groups[2].LineNumbers())

	require.NoError(t, VerifyPartition(order, groups))

	again, err := Split(order)
	require.NoError(t, err)
	assert.Equal(t, groups, again)
}

func TestSplit_EmptyOrder(t *testing.T) {
	_, err := Split(&Order{ID: 1})
	assert.ErrorIs(t, err, ErrEmptyOrder)
	assert.Equal(t, ErrorClassValidation, ClassOf(err))

	_, err = Split(nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)
}

func TestVerifyPartition(t *testing.T) {
	order := &Order{ID: 3, Items: []LineItem{newItem(1, "A"), newItem(2, "B", dropShip)}}
	groups, err := Split(order)
	require.NoError(t, err)
	require.NoError(t, VerifyPartition(order, groups))

	t.Run("duplicated item", func(t *testing.T) {
		broken := append([]FulfillmentGroup(nil), groups...)
		broken[1].Items = append([]LineItem{order.Items[0]}, broken[1].Items...)
		err := VerifyPartition(order, broken)
		assert.ErrorIs(t, err, ErrPartitionViolation)
		assert.Equal(t, ErrorClassInternalInvariant, ClassOf(err))
	})

	t.Run("missing item", func(t *testing.T) {
		err := VerifyPartition(order, groups[:1])
		assert.ErrorIs(t, err, ErrPartitionViolation)
	})

	t.Run("duplicate identifier", func(t *testing.T) {
		broken := append([]FulfillmentGroup(nil), groups...)
		broken[1].GroupIdentifier = broken[0].GroupIdentifier
		assert.ErrorIs(t, VerifyPartition(order, broken), ErrDuplicateGroupID)
	})
}

func TestGroupTransitions(t *testing.T) {
	now := time.Now()
	g := &FulfillmentGroup{GroupIdentifier: "0000001A", Status: GroupStatusPending}

	require.NoError(t, g.TransitionTo(GroupStatusHolding, now))
	assert.Error(t, g.TransitionTo(GroupStatusUpserting, now))
	require.NoError(t, g.TransitionTo(GroupStatusResolving, now))
	require.NoError(t, g.TransitionTo(GroupStatusUpserting, now))
	require.NoError(t, g.Fail(ErrorClassTransientExternal, assert.AnError, now))
	assert.Equal(t, ErrorClassTransientExternal, g.LastErrorClass)

	require.NoError(t, g.TransitionTo(GroupStatusPending, now))
	assert.Equal(t, ErrorClassNone, g.LastErrorClass)
	assert.Empty(t, g.LastError)

	require.NoError(t, g.TransitionTo(GroupStatusCancelled, now))
	for _, next := range []GroupStatus{GroupStatusPending, GroupStatusResolving, GroupStatusSynced} {
		assert.ErrorIs(t, g.TransitionTo(next, now), ErrInvalidTransition)
	}
}

func TestDeriveOrderStatus(t *testing.T) {
	groups := func(statuses ...GroupStatus) []FulfillmentGroup {
		out := make([]FulfillmentGroup, len(statuses))
		for i, s := range statuses {
			out[i] = FulfillmentGroup{GroupIndex: i, Status: s}
		}
		return out
	}

	tests := []struct {
		name      string
		cancelled bool
		groups    []FulfillmentGroup
		want      OrderStatus
	}{
		{name: "no groups", want: OrderStatusPending},
		{name: "cancelled wins", cancelled: true, groups: groups(GroupStatusSynced, GroupStatusCancelled), want: OrderStatusCancelled},
		{name: "all synced", groups: groups(GroupStatusSynced, GroupStatusSynced), want: OrderStatusSynced},
		{name: "holding and synced", groups: groups(GroupStatusHolding, GroupStatusSynced), want: OrderStatusHeld},
		{name: "failed and synced", groups: groups(GroupStatusFailed, GroupStatusSynced), want: OrderStatusFailed},
		{name: "failed while another upserts", groups: groups(GroupStatusFailed, GroupStatusUpserting), want: OrderStatusProcessing},
		{name: "failed while another holds", groups: groups(GroupStatusFailed, GroupStatusHolding), want: OrderStatusHeld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveOrderStatus(tt.cancelled, tt.groups))
		})
	}
}

func TestExternalDealRecord_AssignDealID(t *testing.T) {
	r := &ExternalDealRecord{}
	assert.False(t, r.HasDeal())
	require.NoError(t, r.AssignDealID("deal-1"))
	require.NoError(t, r.AssignDealID("deal-1"))
	assert.ErrorIs(t, r.AssignDealID("deal-2"), ErrDealIDImmutable)
	assert.Equal(t, "deal-1", r.ExternalDealID)
}

func TestOrder_AssignLabelAndCancel(t *testing.T) {
	o := &Order{ID: 5, Status: OrderStatusProcessing}
	require.NoError(t, o.AssignLabel("0000005Z"))
	require.NoError(t, o.AssignLabel("0000005Z"))
	assert.ErrorIs(t, o.AssignLabel("00000050"), ErrLabelMismatch)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o.Cancel(first)
	o.Cancel(first.Add(time.Hour))
	assert.True(t, o.IsCancelled())
	assert.Equal(t, first, *o.CancelledAt)
}

func TestGroupAmounts(t *testing.T) {
	g := FulfillmentGroup{Items: []LineItem{
		{ProductSKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99"), RequiresLicenseHolder: true},
		{ProductSKU: "B", Quantity: 1, UnitPrice: decimal.RequireFromString("5.01")},
		{ProductSKU: "A", Quantity: 1, UnitPrice: decimal.RequireFromString("19.99"), RequiresLicenseHolder: true},
	}}

	assert.True(t, decimal.RequireFromString("64.98").Equal(g.Amount()))
	assert.Equal(t, 3, g.RegulatedUnits())
	assert.Equal(t, []string{"A", "B"}, g.DistinctSKUs())
}
