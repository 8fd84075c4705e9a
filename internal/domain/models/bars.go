package models

import "time"

// Bar represents a single OHLCV record returned by the gateway.
type Bar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// HistoricalRequest is an accepted fetch request. Immutable once built.
type HistoricalRequest struct {
	RequestID    string
	Symbol       string
	Timeframe    string
	Start        time.Time
	End          time.Time
	AllOrNothing bool
}

// Chunk is one gateway-sized sub-range of a historical request.
// chunks[i].RangeEnd == chunks[i+1].RangeStart for every decomposition.
type Chunk struct {
	RequestID  string
	Index      int
	RangeStart time.Time
	RangeEnd   time.Time
	Attempts   int
}

// FailedRange describes a sub-range whose chunk exhausted retries.
type FailedRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FetchResult is the terminal outcome of one historical request.
// Immutable after the fetcher emits it.
type FetchResult struct {
	RequestID string
	Success   bool
	Bars      []Bar
	Warnings  []string
	Err       error
}
