package crm

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Contact is the CRM record of a customer, keyed by email
type Contact struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// Product is the CRM catalog record of a SKU
type Product struct {
	SKU                    string
	Name                   string
	Manufacturer           string
	ManufacturerPartNumber string
	DistributorStockNumber string
	Category               string
	UnitPrice              decimal.Decimal
	RequiresLicenseHolder  bool
}

// DealLineItem links a resolved product to a deal
type DealLineItem struct {
	ProductID string
	SKU       string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Deal is the CRM record of one fulfillment group
type Deal struct {
	Name            string // group identifier
	OrderLabel      string
	OrderID         int64
	GroupIndex      int
	ContactID       string
	Amount          decimal.Decimal
	Stage           string
	FulfillmentType string
	Consignee       string
	ConsigneeRef    string
	IsTest          bool
	LineItems       []DealLineItem
}

// Client is the CRM API contract. Every call returns a record id or an *Error.
type Client interface {
	FindContact(ctx context.Context, email string) (string, error)
	CreateContact(ctx context.Context, contact Contact) (string, error)
	FindProduct(ctx context.Context, sku string) (string, error)
	CreateProduct(ctx context.Context, product Product) (string, error)
	// UpsertDeal creates a deal when dealID is empty, otherwise updates it
	UpsertDeal(ctx context.Context, dealID string, deal Deal) (string, error)
}

// Credential is a bearer token with its expiry
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the credential is usable at now with some slack left
func (c Credential) Valid(now time.Time, slack time.Duration) bool {
	return c.AccessToken != "" && now.Add(slack).Before(c.ExpiresAt)
}

// CredentialProvider owns token refresh timing for the CRM client
type CredentialProvider interface {
	ValidCredential(ctx context.Context) (Credential, error)
	// Invalidate drops the cached credential after the CRM rejects it
	Invalidate()
}
