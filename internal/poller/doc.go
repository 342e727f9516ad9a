// Package poller implements the Polling Fallback Fetcher component.
//
// The Polling Fallback Fetcher:
//   - Pulls quotes for every subscribed symbol on a fixed interval
//   - Feeds results into the Price Cache tagged source=poll
//   - Isolates per-symbol fetch failures; the loop never aborts
//   - May optionally pause while the push channel is connected
package poller
