package fulfillment

// FulfillmentType is the shipping path of a group
type FulfillmentType string

const (
	FulfillmentTypeInHouse        FulfillmentType = "in-house"
	FulfillmentTypeDropShip       FulfillmentType = "drop-ship"
	FulfillmentTypeLicensedDealer FulfillmentType = "licensed-dealer"
)

// IsValid returns true if the fulfillment type is valid
func (t FulfillmentType) IsValid() bool {
	switch t {
	case FulfillmentTypeInHouse, FulfillmentTypeDropShip, FulfillmentTypeLicensedDealer:
		return true
	default:
		return false
	}
}

// String returns the string representation of FulfillmentType
func (t FulfillmentType) String() string {
	return string(t)
}

// bucketRank fixes the order groups are emitted in
func (t FulfillmentType) bucketRank() int {
	switch t {
	case FulfillmentTypeLicensedDealer:
		return 0
	case FulfillmentTypeInHouse:
		return 1
	default:
		return 2
	}
}

// Consignee is the party a group ships to
type Consignee string

const (
	ConsigneePlatform       Consignee = "platform"
	ConsigneeCustomer       Consignee = "customer"
	ConsigneeLicensedDealer Consignee = "licensed-dealer"
)

// IsValid returns true if the consignee is valid
func (c Consignee) IsValid() bool {
	switch c {
	case ConsigneePlatform, ConsigneeCustomer, ConsigneeLicensedDealer:
		return true
	default:
		return false
	}
}

// String returns the string representation of Consignee
func (c Consignee) String() string {
	return string(c)
}

// Classification is the outcome of classifying one line item.
// ConsigneeRef is the dealer on file for licensed-dealer items and may be empty.
type Classification struct {
	Type         FulfillmentType
	Consignee    Consignee
	ConsigneeRef string
}

// Classify picks the fulfillment path for one item. First matching rule wins:
// license holder required, in-house only, drop-ship eligible, otherwise in-house.
func Classify(item LineItem, dealerRef string) Classification {
	switch {
	case item.RequiresLicenseHolder:
		return Classification{
			Type:         FulfillmentTypeLicensedDealer,
			Consignee:    ConsigneeLicensedDealer,
			ConsigneeRef: dealerRef,
		}
	case item.InHouseOnly:
		return Classification{Type: FulfillmentTypeInHouse, Consignee: ConsigneePlatform}
	case item.DropShipEligible:
		return Classification{Type: FulfillmentTypeDropShip, Consignee: ConsigneeCustomer}
	default:
		return Classification{Type: FulfillmentTypeInHouse, Consignee: ConsigneePlatform}
	}
}
