package model

// Source identifies where a price observation came from.
type Source string

const (
	// SourcePush marks observations delivered over the WebSocket stream.
	SourcePush Source = "push"
	// SourcePoll marks observations fetched by the fallback poller.
	SourcePoll Source = "poll"
	// SourceSeed marks observations pre-loaded at startup.
	SourceSeed Source = "seed"
)

// Priority ranks sources for equal-timestamp tie-breaks. Higher wins.
func (s Source) Priority() int {
	switch s {
	case SourcePush:
		return 2
	case SourcePoll:
		return 1
	default:
		return 0
	}
}

// PriceObservation is one price sample for a symbol. Immutable once built.
type PriceObservation struct {
	Symbol        string  // Ticker symbol (e.g., "AAPL")
	Price         float64 // Last price
	Change        float64 // Absolute change since previous close
	ChangePercent float64 // Percent change since previous close
	Volume        int64   // Traded volume
	Timestamp     int64   // Observation time (ms since epoch)
	Source        Source  // push, poll, or seed

	// Optional depth fields; zero when the source did not provide them.
	Bid     float64
	Ask     float64
	DayHigh float64
	DayLow  float64
}

// Supersedes reports whether o should replace cur in the cache: strictly
// newer timestamp, or equal timestamp from a higher-priority source.
func (o PriceObservation) Supersedes(cur PriceObservation) bool {
	if o.Timestamp != cur.Timestamp {
		return o.Timestamp > cur.Timestamp
	}
	return o.Source.Priority() > cur.Source.Priority()
}

// Direction is the short-lived price movement signal for flash-highlight UIs.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)
