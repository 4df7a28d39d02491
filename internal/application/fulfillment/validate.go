package fulfillment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ToOrder validates the request and builds a pending order
func (r *CreateOrderRequest) ToOrder(now time.Time) (*domain.Order, error) {
	if err := validate.Struct(r); err != nil {
		return nil, domain.Validation(domain.ErrInvalidOrder, "%s", describeValidation(err))
	}

	items := make([]domain.LineItem, len(r.Items))
	for i, it := range r.Items {
		if it.UnitPrice.IsNegative() {
			return nil, domain.Validation(domain.ErrInvalidOrder, "items[%d].unit_price must not be negative", i)
		}
		if it.InHouseOnly && it.DropShipEligible {
			return nil, domain.Validation(domain.ErrInvalidOrder, "items[%d] cannot be both in-house only and drop-ship eligible", i)
		}
		items[i] = domain.LineItem{
			LineNumber:             i + 1,
			ProductSKU:             strings.TrimSpace(it.ProductSKU),
			ManufacturerPartNumber: it.ManufacturerPartNumber,
			DistributorStockNumber: it.DistributorStockNumber,
			Name:                   it.Name,
			Manufacturer:           it.Manufacturer,
			Category:               it.Category,
			Quantity:               it.Quantity,
			UnitPrice:              it.UnitPrice,
			RequiresLicenseHolder:  it.RequiresLicenseHolder,
			DropShipEligible:       it.DropShipEligible,
			InHouseOnly:            it.InHouseOnly,
		}
	}

	order := &domain.Order{
		ID: r.Sequence,
		Customer: domain.Customer{
			Email:     strings.ToLower(strings.TrimSpace(r.Customer.Email)),
			FirstName: r.Customer.FirstName,
			LastName:  r.Customer.LastName,
			Phone:     r.Customer.Phone,
		},
		Items:     items,
		Status:    domain.OrderStatusPending,
		IsTest:    r.IsTest,
		DealerRef: strings.TrimSpace(r.DealerRef),
		CreatedAt: now,
		UpdatedAt: now,
	}

	order.TotalAmount = order.ItemsTotal()
	if r.TotalAmount != nil && !r.TotalAmount.Equal(order.TotalAmount) {
		return nil, domain.Validation(domain.ErrInvalidOrder, "total_amount %s does not match line items %s",
			r.TotalAmount.StringFixed(2), order.TotalAmount.StringFixed(2))
	}
	if order.TotalAmount.LessThan(decimal.Zero) {
		return nil, domain.Validation(domain.ErrInvalidOrder, "order total must not be negative")
	}
	return order, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
