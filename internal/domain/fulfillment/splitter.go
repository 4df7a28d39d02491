package fulfillment

import (
	"sort"
	"time"
)

type bucketKey struct {
	fulfillmentType FulfillmentType
	consignee       Consignee
	consigneeRef    string
}

// Split partitions the order's items into fulfillment groups.
// Items keep their order inside a bucket; buckets are emitted licensed-dealer
// first, then in-house, then drop-ship, so the same order always yields the
// same groupIndex -> items mapping and the same identifiers.
func Split(order *Order) ([]FulfillmentGroup, error) {
	if order == nil || len(order.Items) == 0 {
		return nil, Validation(ErrEmptyOrder, "order cannot be split")
	}

	var keys []bucketKey
	buckets := make(map[bucketKey][]LineItem)
	for _, item := range order.Items {
		c := Classify(item, order.DealerRef)
		key := bucketKey{fulfillmentType: c.Type, consignee: c.Consignee, consigneeRef: c.ConsigneeRef}
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], item)
	}

	// Stable sort keeps first-seen order between buckets of the same type.
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].fulfillmentType.bucketRank() < keys[j].fulfillmentType.bucketRank()
	})

	if len(keys) > MaxGroups {
		return nil, Invariant(ErrTooManyGroups, "order %d splits into %d groups", order.ID, len(keys))
	}

	groups := make([]FulfillmentGroup, 0, len(keys))
	for idx, key := range keys {
		identifier, err := BuildGroupIdentifier(order.ID, order.IsTest, idx, len(keys))
		if err != nil {
			return nil, err
		}
		groups = append(groups, FulfillmentGroup{
			OrderID:         order.ID,
			GroupIndex:      idx,
			GroupIdentifier: identifier,
			Items:           buckets[key],
			FulfillmentType: key.fulfillmentType,
			Consignee:       key.consignee,
			ConsigneeRef:    key.consigneeRef,
			Status:          GroupStatusPending,
		})
	}
	return groups, nil
}

// VerifyPartition checks that every line item of the order lands in exactly
// one group and that group identifiers are pairwise distinct.
func VerifyPartition(order *Order, groups []FulfillmentGroup) error {
	seen := make(map[int]int, len(order.Items))
	for _, g := range groups {
		if len(g.Items) == 0 {
			return Invariant(ErrPartitionViolation, "group %d is empty", g.GroupIndex)
		}
		for _, item := range g.Items {
			if prev, dup := seen[item.LineNumber]; dup {
				return Invariant(ErrPartitionViolation, "line %d in groups %d and %d", item.LineNumber, prev, g.GroupIndex)
			}
			seen[item.LineNumber] = g.GroupIndex
		}
	}
	if len(seen) != len(order.Items) {
		return Invariant(ErrPartitionViolation, "%d of %d lines grouped", len(seen), len(order.Items))
	}
	for _, item := range order.Items {
		if _, ok := seen[item.LineNumber]; !ok {
			return Invariant(ErrPartitionViolation, "line %d not grouped", item.LineNumber)
		}
	}

	ids := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if _, dup := ids[g.GroupIdentifier]; dup {
			return Invariant(ErrDuplicateGroupID, "%s", g.GroupIdentifier)
		}
		ids[g.GroupIdentifier] = struct{}{}
	}
	return nil
}

// DeriveOrderStatus folds group statuses into the order status.
// Cancellation wins. Failed needs at least one failed group and no group
// pending, holding, resolving or upserting. Synced needs every group synced.
func DeriveOrderStatus(cancelled bool, groups []FulfillmentGroup) OrderStatus {
	if cancelled {
		return OrderStatusCancelled
	}
	if len(groups) == 0 {
		return OrderStatusPending
	}

	var inFlight, failed, holding, synced int
	for _, g := range groups {
		switch {
		case g.Status.IsInFlight():
			inFlight++
		case g.Status == GroupStatusFailed:
			failed++
		case g.Status == GroupStatusHolding:
			holding++
		case g.Status == GroupStatusSynced:
			synced++
		}
	}

	switch {
	case inFlight > 0:
		return OrderStatusProcessing
	case holding > 0:
		return OrderStatusHeld
	case failed > 0:
		return OrderStatusFailed
	case synced == len(groups):
		return OrderStatusSynced
	default:
		return OrderStatusProcessing
	}
}

// StampGroups sets creation time on freshly split groups
func StampGroups(groups []FulfillmentGroup, now time.Time) {
	for i := range groups {
		groups[i].CreatedAt = now
		groups[i].UpdatedAt = now
	}
}
