// Package sink implements downstream consumers of accepted observations.
//
// Sinks:
//   - Journal: batch writer persisting observations to PostgreSQL
//   - Mirror: Redis cache mirror with pub/sub fan-out
//
// Both sinks are fed by the price cache after the freshness check, so they
// only ever see observations that won reconciliation. Accept never blocks;
// overflow is counted and dropped.
package sink
