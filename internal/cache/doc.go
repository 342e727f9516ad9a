// Package cache implements the Price Cache component.
//
// The Price Cache:
//   - Holds the latest accepted observation per symbol
//   - Resolves competing observations by timestamp, push winning ties
//   - Derives the up/down/neutral direction signal with a noise threshold
//   - Fans accepted observations out to listeners and observation sinks
package cache
