// Package router delivers point-to-point and broadcast messages between
// agents with per-consumer at-most-once delivery.
//
// Messages are persisted through the store; delivery marks are written in
// the same transaction as the poll read, keyed by (message, consumer), so
// re-polling never redelivers a pair. Undeliverable messages are retained
// for a configurable window and then reported as undelivered rather than
// silently dropped.
package router
