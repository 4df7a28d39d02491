// Package fulfillment drives paid orders through splitting, compliance
// evaluation and CRM synchronization, and exposes the operator actions
// (status, clear hold, activity log, cancel, sync, attach dealer).
package fulfillment
