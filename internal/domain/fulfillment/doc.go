// Package fulfillment contains the Fulfillment bounded context.
// It turns a paid order into fulfillment groups and names them.
//
// Key concepts:
//   - Order / LineItem: the immutable purchase handed over by the order source
//   - Classify: maps one line item to a fulfillment type and consignee
//   - Split: partitions an order into FulfillmentGroups in a stable bucket order
//   - BuildGroupIdentifier / BuildOrderLabel: deterministic tracking identifiers
//   - FulfillmentGroup: per-group sync state machine
//   - ExternalDealRecord: the CRM deal that mirrors one group
//
// Design Pattern: Ports & Adapters
//   - Repository ports are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package fulfillment
