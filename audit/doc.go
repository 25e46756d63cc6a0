// Package audit records security-relevant events.
//
// # Components
//
//   - [Log]: bounded in-memory ring, most-recent-first queries.
//   - [Sink]: interface for durable or streaming consumers (channel, JSON writer, zap, Postgres).
//   - [Dispatcher]: buffered async relay that drops rather than blocks and reports sink failures to an [Observer].
//   - [Event]: structured audit record with a closed [Kind] taxonomy.
//
// # Architecture boundaries
//
// This package owns event retention and sink delivery. It does NOT decide which events
// to emit; that belongs to the session, csrf, cart and root packages.
//
// # What this package must NOT do
//
//   - Block the caller of [Log.Record] or panic on sink failure.
//   - Filter or suppress events based on business logic.
//   - Import storeguard or any sibling package.
package audit
