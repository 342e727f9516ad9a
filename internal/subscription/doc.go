// Package subscription implements the Subscription Registry component.
//
// The Subscription Registry:
//   - Tracks each consumer's symbol interest as a set (idempotent per pair)
//   - Derives a de-duplicated union with per-symbol reference counts
//   - Pushes batched subscribe/unsubscribe diffs over the wire when connected
//   - Hands the full union to the Connection Manager for replay on connect
package subscription
