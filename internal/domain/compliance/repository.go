package compliance

import "context"

// HoldRepository stores compliance holds. At most one hold per group is active.
type HoldRepository interface {
	// FindLatest returns the most recent hold of a group, or nil, nil
	FindLatest(ctx context.Context, orderID int64, groupIndex int) (*ComplianceHold, error)
	FindByOrder(ctx context.Context, orderID int64) ([]ComplianceHold, error)
	// Save inserts or updates a hold by ID
	Save(ctx context.Context, hold *ComplianceHold) error
	// Replace clears previous and inserts next in one transaction
	Replace(ctx context.Context, previous, next *ComplianceHold) error
}

// DealerRegistry resolves a dealer reference to its current license record
type DealerRegistry interface {
	// Lookup returns ErrDealerNotFound for unknown references
	Lookup(ctx context.Context, ref string) (*DealerRecord, error)
}
