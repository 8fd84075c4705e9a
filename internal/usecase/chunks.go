package usecase

import (
	"sort"
	"time"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
)

// BuildChunks decomposes [start, end) into an ordered sequence of chunks
// sized to the gateway's max bars per call at the request's timeframe.
// The chunks exactly cover the range: no gaps, no overlaps, and
// chunks[i].RangeEnd == chunks[i+1].RangeStart.
func BuildChunks(requestID string, tf drepo.Timeframe, start, end time.Time, maxBarsPerCall int) []models.Chunk {
	if !start.Before(end) {
		return nil
	}
	span := end.Sub(start)
	if maxBarsPerCall > 0 {
		if s := tf.Duration() * time.Duration(maxBarsPerCall); s < span {
			span = s
		}
	}

	var chunks []models.Chunk
	for cur, i := start, 0; cur.Before(end); i++ {
		ce := cur.Add(span)
		if ce.After(end) {
			ce = end
		}
		chunks = append(chunks, models.Chunk{
			RequestID:  requestID,
			Index:      i,
			RangeStart: cur,
			RangeEnd:   ce,
		})
		cur = ce
	}
	return chunks
}

// MergeBars merges per-chunk bar slices (indexed in chunk order) into one
// chronologically ordered, duplicate-free sequence. Gateways commonly
// repeat the boundary bar on both sides of a chunk split; the earlier
// copy wins.
func MergeBars(perChunk [][]models.Bar) []models.Bar {
	total := 0
	for _, bars := range perChunk {
		total += len(bars)
	}
	out := make([]models.Bar, 0, total)
	for _, bars := range perChunk {
		if len(bars) == 0 {
			continue
		}
		sort.Slice(bars, func(i, j int) bool {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		})
		for _, b := range bars {
			if len(out) > 0 && !b.Timestamp.After(out[len(out)-1].Timestamp) {
				continue
			}
			out = append(out, b)
		}
	}
	return out
}
