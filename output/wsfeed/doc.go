// Package wsfeed serves a live WebSocket feed of ranked events and
// trigger batches for monitoring dashboards.
//
// The feed subscribes to the ranked event subject and, optionally, the
// per-detector trigger subjects, and broadcasts each envelope to every
// connected client wrapped in a feed frame carrying the source subject
// and receive time. Delivery is fire-and-forget: a dashboard that
// misses a frame catches up from the archive, so the feed never blocks
// the search on a slow client.
//
// A ring of recent event frames is replayed to newly connected clients
// so a dashboard opens with context instead of a blank screen. Server
// TLS (including mTLS and ACME-issued certificates) follows the
// platform security configuration.
package wsfeed
