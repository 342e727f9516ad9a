// Package protocol implements the Wire Codec component.
//
// The Wire Codec:
//   - Encodes subscribe/unsubscribe/ping/pong frames as JSON envelopes
//   - Decodes inbound frames into typed messages
//   - Rejects unknown or malformed frames without touching the connection
package protocol
