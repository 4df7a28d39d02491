package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

// FulfillmentGroupModel is the persistence model for a FulfillmentGroup.
// Items are stored as an immutable JSON snapshot taken at split time.
type FulfillmentGroupModel struct {
	OrderID         int64                       `gorm:"primaryKey;autoIncrement:false"`
	GroupIndex      int                         `gorm:"primaryKey;autoIncrement:false"`
	GroupIdentifier string                      `gorm:"type:varchar(32);not null;uniqueIndex:idx_fulfillment_groups_identifier"`
	ItemsJSON       string                      `gorm:"type:jsonb;column:items;not null"`
	FulfillmentType fulfillment.FulfillmentType `gorm:"type:varchar(20);not null"`
	Consignee       fulfillment.Consignee       `gorm:"type:varchar(20);not null"`
	ConsigneeRef    string                      `gorm:"type:varchar(64)"`
	Status          fulfillment.GroupStatus     `gorm:"type:varchar(20);not null;index:idx_fulfillment_groups_status"`
	Attempts        int                         `gorm:"not null;default:0"`
	LastErrorClass  fulfillment.ErrorClass      `gorm:"type:varchar(32)"`
	LastError       string                      `gorm:"type:text"`
	CreatedAt       time.Time                   `gorm:"not null"`
	UpdatedAt       time.Time                   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (FulfillmentGroupModel) TableName() string {
	return "fulfillment_groups"
}

type lineItemSnapshot struct {
	LineNumber             int             `json:"line_number"`
	ProductSKU             string          `json:"product_sku"`
	ManufacturerPartNumber string          `json:"manufacturer_part_number,omitempty"`
	DistributorStockNumber string          `json:"distributor_stock_number,omitempty"`
	Name                   string          `json:"name"`
	Manufacturer           string          `json:"manufacturer,omitempty"`
	Category               string          `json:"category,omitempty"`
	Quantity               int             `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	RequiresLicenseHolder  bool            `json:"requires_license_holder"`
	DropShipEligible       bool            `json:"drop_ship_eligible"`
	InHouseOnly            bool            `json:"in_house_only"`
}

// ToDomain converts the persistence model to a domain FulfillmentGroup
func (m *FulfillmentGroupModel) ToDomain() (*fulfillment.FulfillmentGroup, error) {
	var snapshot []lineItemSnapshot
	if err := json.Unmarshal([]byte(m.ItemsJSON), &snapshot); err != nil {
		return nil, err
	}
	items := make([]fulfillment.LineItem, len(snapshot))
	for i, s := range snapshot {
		items[i] = fulfillment.LineItem{
			LineNumber:             s.LineNumber,
			ProductSKU:             s.ProductSKU,
			ManufacturerPartNumber: s.ManufacturerPartNumber,
			DistributorStockNumber: s.DistributorStockNumber,
			Name:                   s.Name,
			Manufacturer:           s.Manufacturer,
			Category:               s.Category,
			Quantity:               s.Quantity,
			UnitPrice:              s.UnitPrice,
			RequiresLicenseHolder:  s.RequiresLicenseHolder,
			DropShipEligible:       s.DropShipEligible,
			InHouseOnly:            s.InHouseOnly,
		}
	}
	return &fulfillment.FulfillmentGroup{
		OrderID:         m.OrderID,
		GroupIndex:      m.GroupIndex,
		GroupIdentifier: m.GroupIdentifier,
		Items:           items,
		FulfillmentType: m.FulfillmentType,
		Consignee:       m.Consignee,
		ConsigneeRef:    m.ConsigneeRef,
		Status:          m.Status,
		Attempts:        m.Attempts,
		LastErrorClass:  m.LastErrorClass,
		LastError:       m.LastError,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

// FromDomain populates the persistence model from a domain FulfillmentGroup
func (m *FulfillmentGroupModel) FromDomain(g *fulfillment.FulfillmentGroup) error {
	snapshot := make([]lineItemSnapshot, len(g.Items))
	for i, li := range g.Items {
		snapshot[i] = lineItemSnapshot{
			LineNumber:             li.LineNumber,
			ProductSKU:             li.ProductSKU,
			ManufacturerPartNumber: li.ManufacturerPartNumber,
			DistributorStockNumber: li.DistributorStockNumber,
			Name:                   li.Name,
			Manufacturer:           li.Manufacturer,
			Category:               li.Category,
			Quantity:               li.Quantity,
			UnitPrice:              li.UnitPrice,
			RequiresLicenseHolder:  li.RequiresLicenseHolder,
			DropShipEligible:       li.DropShipEligible,
			InHouseOnly:            li.InHouseOnly,
		}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	m.OrderID = g.OrderID
	m.GroupIndex = g.GroupIndex
	m.GroupIdentifier = g.GroupIdentifier
	m.ItemsJSON = string(raw)
	m.FulfillmentType = g.FulfillmentType
	m.Consignee = g.Consignee
	m.ConsigneeRef = g.ConsigneeRef
	m.Status = g.Status
	m.Attempts = g.Attempts
	m.LastErrorClass = g.LastErrorClass
	m.LastError = g.LastError
	m.CreatedAt = g.CreatedAt
	m.UpdatedAt = g.UpdatedAt
	return nil
}

// DealRecordModel mirrors the CRM deal of one fulfillment group
type DealRecordModel struct {
	OrderID              int64  `gorm:"primaryKey;autoIncrement:false"`
	GroupIndex           int    `gorm:"primaryKey;autoIncrement:false"`
	ExternalDealID       string `gorm:"type:varchar(64);index:idx_external_deal_records_deal_id"`
	ContactID            string `gorm:"type:varchar(64)"`
	ProductRecordIDsJSON string `gorm:"type:jsonb;column:product_record_ids"`
	LastSyncedAt         *time.Time
	LastSyncError        string    `gorm:"type:text"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DealRecordModel) TableName() string {
	return "external_deal_records"
}

// ToDomain converts the persistence model to a domain ExternalDealRecord
func (m *DealRecordModel) ToDomain() *fulfillment.ExternalDealRecord {
	record := &fulfillment.ExternalDealRecord{
		OrderID:          m.OrderID,
		GroupIndex:       m.GroupIndex,
		ExternalDealID:   m.ExternalDealID,
		ContactID:        m.ContactID,
		ProductRecordIDs: []string{},
		LastSyncedAt:     m.LastSyncedAt,
		LastSyncError:    m.LastSyncError,
	}
	if m.ProductRecordIDsJSON != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ProductRecordIDsJSON), &ids); err == nil {
			record.ProductRecordIDs = ids
		}
	}
	return record
}

// FromDomain populates the persistence model from a domain ExternalDealRecord
func (m *DealRecordModel) FromDomain(r *fulfillment.ExternalDealRecord) {
	m.OrderID = r.OrderID
	m.GroupIndex = r.GroupIndex
	m.ExternalDealID = r.ExternalDealID
	m.ContactID = r.ContactID
	ids := r.ProductRecordIDs
	if ids == nil {
		ids = []string{}
	}
	raw, _ := json.Marshal(ids)
	m.ProductRecordIDsJSON = string(raw)
	m.LastSyncedAt = r.LastSyncedAt
	m.LastSyncError = r.LastSyncError
}
