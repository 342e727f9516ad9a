// Package quote implements the client for the external quote endpoint,
// the pull contract behind the Polling Fallback Fetcher.
package quote
