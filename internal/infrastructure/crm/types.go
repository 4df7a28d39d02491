package crm

import (
	"github.com/shopspring/decimal"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
)

// Wire types of the CRM REST API

type recordRef struct {
	ID string `json:"id"`
}

type searchResponse struct {
	Results []recordRef `json:"results"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type contactPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type productPayload struct {
	SKU                    string          `json:"sku"`
	Name                   string          `json:"name"`
	Manufacturer           string          `json:"manufacturer,omitempty"`
	ManufacturerPartNumber string          `json:"manufacturer_part_number,omitempty"`
	DistributorStockNumber string          `json:"distributor_stock_number,omitempty"`
	Category               string          `json:"category,omitempty"`
	Price                  decimal.Decimal `json:"price"`
	RequiresLicenseHolder  bool            `json:"requires_license_holder"`
}

type dealLinePayload struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type dealPayload struct {
	Name            string            `json:"name"`
	OrderLabel      string            `json:"order_label"`
	OrderID         int64             `json:"order_id"`
	GroupIndex      int               `json:"group_index"`
	ContactID       string            `json:"contact_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Stage           string            `json:"stage"`
	FulfillmentType string            `json:"fulfillment_type"`
	Consignee       string            `json:"consignee"`
	ConsigneeRef    string            `json:"consignee_ref,omitempty"`
	IsTest          bool              `json:"is_test"`
	LineItems       []dealLinePayload `json:"line_items"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func toContactPayload(c domain.Contact) contactPayload {
	return contactPayload{Email: c.Email, FirstName: c.FirstName, LastName: c.LastName, Phone: c.Phone}
}

func toProductPayload(p domain.Product) productPayload {
	return productPayload{
		SKU:                    p.SKU,
		Name:                   p.Name,
		Manufacturer:           p.Manufacturer,
		ManufacturerPartNumber: p.ManufacturerPartNumber,
		DistributorStockNumber: p.DistributorStockNumber,
		Category:               p.Category,
		Price:                  p.UnitPrice,
		RequiresLicenseHolder:  p.RequiresLicenseHolder,
	}
}

func toDealPayload(d domain.Deal) dealPayload {
	lines := make([]dealLinePayload, len(d.LineItems))
	for i, li := range d.LineItems {
		lines[i] = dealLinePayload{ProductID: li.ProductID, SKU: li.SKU, Quantity: li.Quantity, Price: li.UnitPrice}
	}
	return dealPayload{
		Name:            d.Name,
		OrderLabel:      d.OrderLabel,
		OrderID:         d.OrderID,
		GroupIndex:      d.GroupIndex,
		ContactID:       d.ContactID,
		Amount:          d.Amount,
		Stage:           d.Stage,
		FulfillmentType: d.FulfillmentType,
		Consignee:       d.Consignee,
		ConsigneeRef:    d.ConsigneeRef,
		IsTest:          d.IsTest,
		LineItems:       lines,
	}
}
