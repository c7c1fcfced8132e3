package domain

import "time"

// PriceTick is a single USD price observation.
type PriceTick struct {
	Mint   string
	Source Source
	Price  float64 // USD per token, > 0
	At     time.Time
}

// Valid reports whether the tick carries a usable price.
func (t PriceTick) Valid() bool {
	return t.Price > 0 && !t.At.IsZero() && t.Source.IsValid()
}

// PricePoint is an accepted tick persisted to the tick history.
// Corresponds to price_ticks table in ClickHouse.
type PricePoint struct {
	Mint        string  // token mint
	TimestampMs int64   // Unix timestamp in milliseconds
	Source      string  // stream | poll
	Price       float64 // USD per token
	Accepted    bool    // passed the debounce
}

// LivePrice is the latest accepted price per mint, read back when closing a position.
type LivePrice struct {
	Mint      string
	PriceUSD  float64
	UpdatedAt time.Time
}
