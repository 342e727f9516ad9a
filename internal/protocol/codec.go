package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WeAreBini/pricefeed/internal/model"
)

// Message types carried in the envelope "type" field.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePriceUpdate = "price_update"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Errors
var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Envelope is the outer JSON frame for every wire message.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
}

// SymbolsPayload is the payload for subscribe and unsubscribe frames.
type SymbolsPayload struct {
	Symbols []string `json:"symbols"`
}

// PriceUpdatePayload is the payload for price_update frames.
type PriceUpdatePayload struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	Change        float64  `json:"change"`
	ChangePercent float64  `json:"changePercent"`
	Volume        int64    `json:"volume"`
	Timestamp     int64    `json:"timestamp"` // ms since epoch
	Bid           *float64 `json:"bid,omitempty"`
	Ask           *float64 `json:"ask,omitempty"`
	DayHigh       *float64 `json:"dayHigh,omitempty"`
	DayLow        *float64 `json:"dayLow,omitempty"`
}

// Observation converts the payload into a model observation with the given
// source tag. Absent optional fields become zero.
func (p PriceUpdatePayload) Observation(source model.Source) model.PriceObservation {
	obs := model.PriceObservation{
		Symbol:        p.Symbol,
		Price:         p.Price,
		Change:        p.Change,
		ChangePercent: p.ChangePercent,
		Volume:        p.Volume,
		Timestamp:     p.Timestamp,
		Source:        source,
	}
	if p.Bid != nil {
		obs.Bid = *p.Bid
	}
	if p.Ask != nil {
		obs.Ask = *p.Ask
	}
	if p.DayHigh != nil {
		obs.DayHigh = *p.DayHigh
	}
	if p.DayLow != nil {
		obs.DayLow = *p.DayLow
	}
	return obs
}

// Message is a decoded inbound frame. Exactly one of Symbols/Update is set
// for subscribe-class and price_update frames; ping/pong carry neither.
type Message struct {
	Type      string
	Timestamp int64
	Symbols   []string
	Update    *PriceUpdatePayload
}

// Subscribe encodes a subscribe frame for the given symbols.
func Subscribe(symbols []string) ([]byte, error) {
	return encode(TypeSubscribe, SymbolsPayload{Symbols: symbols})
}

// Unsubscribe encodes an unsubscribe frame for the given symbols.
func Unsubscribe(symbols []string) ([]byte, error) {
	return encode(TypeUnsubscribe, SymbolsPayload{Symbols: symbols})
}

// Ping encodes a heartbeat ping frame.
func Ping() ([]byte, error) {
	return encode(TypePing, struct{}{})
}

// Pong encodes a heartbeat pong frame.
func Pong() ([]byte, error) {
	return encode(TypePong, struct{}{})
}

func encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Decode parses a raw frame into a typed Message. Frames that are not valid
// JSON, carry an unrecognized type, or have an unparseable payload return an
// error; the caller drops them and keeps the connection open.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	msg := Message{Type: env.Type, Timestamp: env.Timestamp}

	switch env.Type {
	case TypeSubscribe, TypeUnsubscribe:
		var p SymbolsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, env.Type, err)
		}
		msg.Symbols = p.Symbols

	case TypePriceUpdate:
		var p PriceUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: price_update payload: %v", ErrMalformedFrame, err)
		}
		if p.Symbol == "" {
			return Message{}, fmt.Errorf("%w: price_update missing symbol", ErrMalformedFrame)
		}
		msg.Update = &p

	case TypePing, TypePong:
		// No payload fields.

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return msg, nil
}
