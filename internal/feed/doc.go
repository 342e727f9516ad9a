// Package feed implements the Consumer Interface component.
//
// The feed Service is the application-root-owned object consumers receive by
// injection. It wires the Connection Manager, Subscription Registry, Price
// Cache, and Polling Fallback Fetcher together and exposes scoped
// subscription handles, snapshot reads, update callbacks, and connection
// status for provenance labelling.
package feed
