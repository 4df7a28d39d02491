// Package compliance contains the Compliance bounded context: the holds that
// gate CRM synchronization of regulated fulfillment groups, the rules that
// raise them, and the licensed-dealer registry port.
package compliance
