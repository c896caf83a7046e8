// Package eventstore persists ranked events to SQLite for offline
// follow-up.
//
// The store keeps two tables: one row per event with its ranking and
// time bounds, and one row per member trigger keyed by the event id.
// Time-range and ranking queries are indexed so a follow-up script can
// pull a night of candidates without scanning the archive. Re-delivered
// events are ignored by primary key, which makes the writer safe under
// NATS at-least-once delivery.
package eventstore
