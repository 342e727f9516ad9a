// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single push WebSocket connection
//   - Runs the connection state machine (disconnected/connecting/connected/
//     reconnecting/error)
//   - Sends heartbeat pings and watches for pong silence
//   - Reconnects with exponential backoff up to a configured attempt cap
//   - Replays the full subscription set on every successful connect
package connection
