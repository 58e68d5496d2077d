// Package store persists routed messages and their per-consumer delivery
// marks in SQLite, giving the router durable at-most-once delivery per
// consumer and a bounded retention window for undeliverable messages.
package store
