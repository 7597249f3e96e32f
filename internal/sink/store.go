// Package sink persists enriched records and answers historical queries
// over them. Two stores are provided, an in-memory ring for the local query
// surface and an InfluxDB-backed store for durable time-series retention.
package sink

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/packet"
)

const (
	// DefaultQueryLimit applies when a query does not set a limit.
	DefaultQueryLimit = 100
	// MaxQueryLimit caps a single query result set.
	MaxQueryLimit = 1000

	// DefaultSummaryWindow applies when a summary request does not set one.
	DefaultSummaryWindow = 24 * time.Hour
	// MaxSummaryWindow caps the summary lookback at seven days.
	MaxSummaryWindow = 168 * time.Hour

	topEntries = 10
)

// Store abstracts record persistence.
type Store interface {
	// Write persists one record.
	Write(ctx context.Context, rec *packet.Record) error
	// Query returns stored records matching the filter, most recent first.
	Query(ctx context.Context, filter QueryFilter) ([]*packet.Record, error)
	// Summarize aggregates traffic captured within the window ending now.
	Summarize(ctx context.Context, window time.Duration) (*Summary, error)
	// Close flushes and releases the store.
	Close(ctx context.Context) error
}

// QueryFilter narrows a historical query. Zero values mean "no constraint".
type QueryFilter struct {
	Limit         int
	Start         time.Time
	End           time.Time
	Protocol      packet.Protocol
	SourceAddress string
	DestAddress   string
}

// normalized clamps the limit into [1, MaxQueryLimit], defaulting when unset.
func (f QueryFilter) normalized() QueryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return f
}

func (f QueryFilter) matches(rec *packet.Record) bool {
	if !f.Start.IsZero() && rec.CapturedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && rec.CapturedAt.After(f.End) {
		return false
	}
	if f.Protocol != "" && rec.Protocol != f.Protocol {
		return false
	}
	if f.SourceAddress != "" && rec.SourceAddress != f.SourceAddress {
		return false
	}
	if f.DestAddress != "" && rec.DestAddress != f.DestAddress {
		return false
	}
	return true
}

// ClampWindow normalizes a summary lookback expressed in hours.
func ClampWindow(hours int) time.Duration {
	if hours <= 0 {
		return DefaultSummaryWindow
	}
	window := time.Duration(hours) * time.Hour
	if window > MaxSummaryWindow {
		return MaxSummaryWindow
	}
	return window
}

// EntryCount is one ranked aggregation entry.
type EntryCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary is the aggregate view over one lookback window.
type Summary struct {
	Window       time.Duration  `json:"window_seconds"`
	GeneratedAt  time.Time      `json:"generated_at"`
	TotalPackets int            `json:"total_packets"`
	ByProtocol   map[string]int `json:"by_protocol"`
	TopSources   []EntryCount   `json:"top_sources"`
	TopDests     []EntryCount   `json:"top_destinations"`
	TopDestPorts []EntryCount   `json:"top_dest_ports"`
}

// summarizeRecords builds a Summary from an already-windowed record set.
func summarizeRecords(recs []*packet.Record, window time.Duration) *Summary {
	s := &Summary{
		Window:      window,
		GeneratedAt: time.Now().UTC(),
		ByProtocol:  make(map[string]int),
	}
	sources := make(map[string]int)
	dests := make(map[string]int)
	ports := make(map[string]int)

	for _, rec := range recs {
		s.TotalPackets++
		s.ByProtocol[string(rec.Protocol)]++
		if rec.SourceAddress != "" {
			sources[rec.SourceAddress]++
		}
		if rec.DestAddress != "" {
			dests[rec.DestAddress]++
		}
		if rec.DestPort != 0 {
			ports[strconv.Itoa(int(rec.DestPort))]++
		}
	}

	s.TopSources = topN(sources, topEntries)
	s.TopDests = topN(dests, topEntries)
	s.TopDestPorts = topN(ports, topEntries)
	return s
}

// topN ranks counts descending, breaking ties by key for stable output.
func topN(counts map[string]int, n int) []EntryCount {
	entries := make([]EntryCount, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, EntryCount{Key: k, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
