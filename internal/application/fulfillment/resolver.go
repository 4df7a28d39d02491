package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

// Resolver maps customers and SKUs to CRM record ids with find-or-create.
// A Resolver memoizes ids for its lifetime; create one per group sync.
type Resolver struct {
	client   crm.Client
	contacts map[string]string
	products map[string]string
	lookups  int
}

// NewResolver creates a Resolver with an empty memo
func NewResolver(client crm.Client) *Resolver {
	return &Resolver{
		client:   client,
		contacts: make(map[string]string),
		products: make(map[string]string),
	}
}

// ResolveContact returns the contact id for the customer's email.
// Found, created and recovered-from-duplicate are indistinguishable to the caller.
// Transient errors are returned unchanged for the caller to retry.
func (r *Resolver) ResolveContact(ctx context.Context, customer domain.Customer) (string, error) {
	email := customer.NormalizedEmail()
	if id, ok := r.contacts[email]; ok {
		return id, nil
	}
	id, err := findOrCreate(ctx, "contact",
		func(ctx context.Context) (string, error) {
			r.lookups++
			return r.client.FindContact(ctx, email)
		},
		func(ctx context.Context) (string, error) {
			return r.client.CreateContact(ctx, crm.Contact{
				Email:     email,
				FirstName: customer.FirstName,
				LastName:  customer.LastName,
				Phone:     customer.Phone,
			})
		})
	if err != nil {
		return "", err
	}
	r.contacts[email] = id
	return id, nil
}

// ResolveProduct returns the product id for the item's SKU
func (r *Resolver) ResolveProduct(ctx context.Context, item domain.LineItem) (string, error) {
	if id, ok := r.products[item.ProductSKU]; ok {
		return id, nil
	}
	id, err := findOrCreate(ctx, "product",
		func(ctx context.Context) (string, error) {
			r.lookups++
			return r.client.FindProduct(ctx, item.ProductSKU)
		},
		func(ctx context.Context) (string, error) {
			return r.client.CreateProduct(ctx, crm.Product{
				SKU:                    item.ProductSKU,
				Name:                   item.Name,
				Manufacturer:           item.Manufacturer,
				ManufacturerPartNumber: item.ManufacturerPartNumber,
				DistributorStockNumber: item.DistributorStockNumber,
				Category:               item.Category,
				UnitPrice:              item.UnitPrice,
				RequiresLicenseHolder:  item.RequiresLicenseHolder,
			})
		})
	if err != nil {
		return "", err
	}
	r.products[item.ProductSKU] = id
	return id, nil
}

// Lookups returns how many find calls were issued, for tests and logging
func (r *Resolver) Lookups() int {
	return r.lookups
}

func findOrCreate(ctx context.Context, kind string, find, create func(context.Context) (string, error)) (string, error) {
	id, err := find(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, crm.ErrNotFound) {
		return "", err
	}

	id, err = create(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, crm.ErrDuplicate) {
		return "", err
	}

	// a concurrent creator won the race
	id, err = find(ctx)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, crm.ErrNotFound) {
		return "", &crm.Error{
			Class: crm.ClassPermanent,
			Op:    "resolve_" + kind,
			Err:   fmt.Errorf("duplicate reported but re-lookup found nothing: %w", err),
		}
	}
	return "", err
}
