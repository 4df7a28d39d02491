// Package crm defines the port to the external CRM that mirrors fulfillment
// groups as deals. Records are strongly typed here; the wire shape lives only
// in the infrastructure adapter.
package crm
