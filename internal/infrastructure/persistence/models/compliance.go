package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
)

// ComplianceHoldModel is the persistence model for a ComplianceHold.
// PostgreSQL enforces one active hold per group with a partial unique index.
type ComplianceHoldModel struct {
	ID          uuid.UUID           `gorm:"type:uuid;primary_key"`
	OrderID     int64               `gorm:"not null;index:idx_compliance_holds_group,priority:1"`
	GroupIndex  int                 `gorm:"not null;index:idx_compliance_holds_group,priority:2"`
	HoldType    compliance.HoldType `gorm:"type:varchar(32);not null"`
	StartedAt   time.Time           `gorm:"not null"`
	ClearedAt   *time.Time
	Note        string `gorm:"type:text"`
	ClearedNote string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (ComplianceHoldModel) TableName() string {
	return "compliance_holds"
}

// ToDomain converts the persistence model to a domain ComplianceHold
func (m *ComplianceHoldModel) ToDomain() *compliance.ComplianceHold {
	return &compliance.ComplianceHold{
		ID:          m.ID,
		OrderID:     m.OrderID,
		GroupIndex:  m.GroupIndex,
		HoldType:    m.HoldType,
		StartedAt:   m.StartedAt,
		ClearedAt:   m.ClearedAt,
		Note:        m.Note,
		ClearedNote: m.ClearedNote,
	}
}

// ComplianceHoldModelFromDomain creates a new persistence model from a domain ComplianceHold
func ComplianceHoldModelFromDomain(h *compliance.ComplianceHold) *ComplianceHoldModel {
	return &ComplianceHoldModel{
		ID:          h.ID,
		OrderID:     h.OrderID,
		GroupIndex:  h.GroupIndex,
		HoldType:    h.HoldType,
		StartedAt:   h.StartedAt,
		ClearedAt:   h.ClearedAt,
		Note:        h.Note,
		ClearedNote: h.ClearedNote,
	}
}

// LicensedDealerModel is a dealer license as mirrored from the registry
type LicensedDealerModel struct {
	Ref           string    `gorm:"type:varchar(64);primaryKey"`
	Name          string    `gorm:"type:varchar(255);not null"`
	LicenseNumber string    `gorm:"type:varchar(64);not null"`
	ExpiresAt     time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LicensedDealerModel) TableName() string {
	return "licensed_dealers"
}

// ToDomain converts the persistence model to a domain DealerRecord
func (m *LicensedDealerModel) ToDomain() *compliance.DealerRecord {
	return &compliance.DealerRecord{
		Ref:           m.Ref,
		Name:          m.Name,
		LicenseNumber: m.LicenseNumber,
		ExpiresAt:     m.ExpiresAt,
	}
}

// FromDomain populates the persistence model from a domain DealerRecord
func (m *LicensedDealerModel) FromDomain(d *compliance.DealerRecord) {
	m.Ref = d.Ref
	m.Name = d.Name
	m.LicenseNumber = d.LicenseNumber
	m.ExpiresAt = d.ExpiresAt
}
