package compliance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrHoldNotFound      = errors.New("compliance: hold not found")
	ErrHoldStillBlocking = errors.New("compliance: supporting facts still block the group")
	ErrHoldNotActive     = errors.New("compliance: hold is not active")
	ErrDealerNotFound    = errors.New("compliance: licensed dealer not found")
)

// HoldType enumerates compliance hold reasons
type HoldType string

const (
	HoldTypeNone                 HoldType = "none"
	HoldTypeMissingLicenseHolder HoldType = "missing-license-holder"
	HoldTypeLicenseExpired       HoldType = "license-expired"
	HoldTypeQuantityLimit        HoldType = "quantity-limit"
)

// IsValid returns true if the hold type is valid
func (t HoldType) IsValid() bool {
	switch t {
	case HoldTypeNone, HoldTypeMissingLicenseHolder, HoldTypeLicenseExpired, HoldTypeQuantityLimit:
		return true
	default:
		return false
	}
}

// IsBlocking reports whether the hold type halts CRM synchronization
func (t HoldType) IsBlocking() bool {
	return t.IsValid() && t != HoldTypeNone
}

// Reason returns the operator-facing description of the hold
func (t HoldType) Reason() string {
	switch t {
	case HoldTypeMissingLicenseHolder:
		return "no licensed dealer attached to the order"
	case HoldTypeLicenseExpired:
		return "the attached dealer license has expired"
	case HoldTypeQuantityLimit:
		return "regulated quantity limit exceeded"
	default:
		return ""
	}
}

// String returns the string representation of HoldType
func (t HoldType) String() string {
	return string(t)
}

// ComplianceHold is attached to at most one group at a time while active.
// A hold is active until ClearedAt is set; cleared holds are kept as history.
type ComplianceHold struct {
	ID          uuid.UUID
	OrderID     int64
	GroupIndex  int
	HoldType    HoldType
	StartedAt   time.Time
	ClearedAt   *time.Time
	Note        string
	ClearedNote string
}

// NewHold opens a hold of holdType for a group
func NewHold(orderID int64, groupIndex int, holdType HoldType, startedAt time.Time) ComplianceHold {
	return ComplianceHold{
		ID:         uuid.New(),
		OrderID:    orderID,
		GroupIndex: groupIndex,
		HoldType:   holdType,
		StartedAt:  startedAt,
		Note:       holdType.Reason(),
	}
}

// IsActive reports whether the hold has not been cleared
func (h *ComplianceHold) IsActive() bool {
	return h != nil && h.ClearedAt == nil
}

// IsBlocking reports whether the hold is active and of a blocking kind
func (h *ComplianceHold) IsBlocking() bool {
	return h.IsActive() && h.HoldType.IsBlocking()
}

// Clear closes the hold. Only explicit operator actions or supersession call this.
func (h *ComplianceHold) Clear(now time.Time, note string) error {
	if !h.IsActive() {
		return ErrHoldNotActive
	}
	h.ClearedAt = &now
	h.ClearedNote = note
	return nil
}

// DealerRecord is a licensed dealer as returned by the registry
type DealerRecord struct {
	Ref           string
	Name          string
	LicenseNumber string
	ExpiresAt     time.Time
}

// IsExpired reports whether the license expired before now
func (d *DealerRecord) IsExpired(now time.Time) bool {
	return d.ExpiresAt.Before(now)
}
