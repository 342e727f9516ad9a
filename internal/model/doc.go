// Package model defines shared data types used across the price feed service.
//
// Conventions:
//   - Prices: float64, as delivered on the wire
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Symbols: upper-case ticker strings
package model
