package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

// OrderModel is the persistence model for the Order aggregate.
// ID is the storefront sequence number the order labels are derived from.
type OrderModel struct {
	ID                  int64                   `gorm:"primaryKey;autoIncrement"`
	ExternalOrderNumber string                  `gorm:"type:varchar(32);index:idx_orders_external_number"`
	CustomerEmail       string                  `gorm:"type:varchar(255);not null;index:idx_orders_customer_created,priority:1"`
	CustomerFirstName   string                  `gorm:"type:varchar(100)"`
	CustomerLastName    string                  `gorm:"type:varchar(100)"`
	CustomerPhone       string                  `gorm:"type:varchar(50)"`
	TotalAmount         decimal.Decimal         `gorm:"type:decimal(18,4);not null"`
	Status              fulfillment.OrderStatus `gorm:"type:varchar(20);not null;index:idx_orders_status"`
	IsTest              bool                    `gorm:"not null;default:false"`
	DealerRef           string                  `gorm:"type:varchar(64)"`
	CreatedAt           time.Time               `gorm:"not null;index:idx_orders_customer_created,priority:2"`
	UpdatedAt           time.Time               `gorm:"not null"`
	CancelledAt         *time.Time
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model and its line items to a domain Order
func (m *OrderModel) ToDomain(items []OrderLineItemModel) *fulfillment.Order {
	order := &fulfillment.Order{
		ID:                  m.ID,
		ExternalOrderNumber: m.ExternalOrderNumber,
		Customer: fulfillment.Customer{
			Email:     m.CustomerEmail,
			FirstName: m.CustomerFirstName,
			LastName:  m.CustomerLastName,
			Phone:     m.CustomerPhone,
		},
		Items:       make([]fulfillment.LineItem, len(items)),
		TotalAmount: m.TotalAmount,
		Status:      m.Status,
		IsTest:      m.IsTest,
		DealerRef:   m.DealerRef,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CancelledAt: m.CancelledAt,
	}
	for i := range items {
		order.Items[i] = items[i].ToDomain()
	}
	return order
}

// FromDomain populates the persistence model from a domain Order
func (m *OrderModel) FromDomain(o *fulfillment.Order) {
	m.ID = o.ID
	m.ExternalOrderNumber = o.ExternalOrderNumber
	m.CustomerEmail = o.Customer.NormalizedEmail()
	m.CustomerFirstName = o.Customer.FirstName
	m.CustomerLastName = o.Customer.LastName
	m.CustomerPhone = o.Customer.Phone
	m.TotalAmount = o.TotalAmount
	m.Status = o.Status
	m.IsTest = o.IsTest
	m.DealerRef = o.DealerRef
	m.CreatedAt = o.CreatedAt
	m.UpdatedAt = o.UpdatedAt
	m.CancelledAt = o.CancelledAt
}

// OrderModelFromDomain creates a new persistence model from a domain Order
func OrderModelFromDomain(o *fulfillment.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}

// OrderLineItemModel is one purchased SKU, keyed by (order_id, line_number)
type OrderLineItemModel struct {
	OrderID                int64           `gorm:"primaryKey;autoIncrement:false"`
	LineNumber             int             `gorm:"primaryKey;autoIncrement:false"`
	ProductSKU             string          `gorm:"type:varchar(64);not null"`
	ManufacturerPartNumber string          `gorm:"type:varchar(64)"`
	DistributorStockNumber string          `gorm:"type:varchar(64)"`
	Name                   string          `gorm:"type:varchar(255);not null"`
	Manufacturer           string          `gorm:"type:varchar(100)"`
	Category               string          `gorm:"type:varchar(100)"`
	Quantity               int             `gorm:"not null"`
	UnitPrice              decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	RequiresLicenseHolder  bool            `gorm:"not null;default:false"`
	DropShipEligible       bool            `gorm:"not null;default:false"`
	InHouseOnly            bool            `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (OrderLineItemModel) TableName() string {
	return "order_line_items"
}

// ToDomain converts the persistence model to a domain LineItem
func (m *OrderLineItemModel) ToDomain() fulfillment.LineItem {
	return fulfillment.LineItem{
		LineNumber:             m.LineNumber,
		ProductSKU:             m.ProductSKU,
		ManufacturerPartNumber: m.ManufacturerPartNumber,
		DistributorStockNumber: m.DistributorStockNumber,
		Name:                   m.Name,
		Manufacturer:           m.Manufacturer,
		Category:               m.Category,
		Quantity:               m.Quantity,
		UnitPrice:              m.UnitPrice,
		RequiresLicenseHolder:  m.RequiresLicenseHolder,
		DropShipEligible:       m.DropShipEligible,
		InHouseOnly:            m.InHouseOnly,
	}
}

// LineItemModelFromDomain creates a persistence model for one line item of an order
func LineItemModelFromDomain(orderID int64, li fulfillment.LineItem) OrderLineItemModel {
	return OrderLineItemModel{
		OrderID:                orderID,
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
