// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Each model carries TableName, ToDomain and FromDomain. Column types are chosen
// so the same models migrate on PostgreSQL and on SQLite for tests; the
// authoritative PostgreSQL schema lives in the migrations directory.
//
// Structure:
// - order.go: orders and their line items
// - fulfillment.go: fulfillment groups and CRM deal records
// - compliance.go: compliance holds and licensed dealers
// - activity.go: the append-only activity ledger
package models
