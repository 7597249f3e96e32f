package sink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoAziz/netverse-engine/internal/packet"
)

func testRecord(seq int, proto packet.Protocol, src, dst string, age time.Duration) *packet.Record {
	return &packet.Record{
		ID:            fmt.Sprintf("pkt-%d", seq),
		CapturedAt:    time.Now().Add(-age),
		Protocol:      proto,
		SourceAddress: src,
		DestAddress:   dst,
		DestPort:      443,
		Length:        60,
	}
}

func TestMemoryStoreQueryNewestFirst(t *testing.T) {
	s := NewMemoryStore(100)
	for i := 1; i <= 5; i++ {
		age := time.Duration(5-i) * time.Minute
		require.NoError(t, s.Write(context.Background(), testRecord(i, packet.ProtocolTCP, "10.0.0.1", "10.0.0.2", age)))
	}

	recs, err := s.Query(context.Background(), QueryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "pkt-5", recs[0].ID)
	assert.Equal(t, "pkt-1", recs[4].ID)
}

func TestMemoryStoreRingEviction(t *testing.T) {
	s := NewMemoryStore(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Write(context.Background(), testRecord(i, packet.ProtocolTCP, "10.0.0.1", "10.0.0.2", 0)))
	}

	assert.Equal(t, 3, s.Len())
	recs, err := s.Query(context.Background(), QueryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "pkt-5", recs[0].ID)
	assert.Equal(t, "pkt-3", recs[2].ID)
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	s := NewMemoryStore(100)
	require.NoError(t, s.Write(context.Background(), testRecord(1, packet.ProtocolTCP, "10.0.0.1", "10.0.0.9", 0)))
	require.NoError(t, s.Write(context.Background(), testRecord(2, packet.ProtocolUDP, "10.0.0.2", "10.0.0.9", 0)))
	require.NoError(t, s.Write(context.Background(), testRecord(3, packet.ProtocolTCP, "10.0.0.2", "10.0.0.8", 0)))

	recs, err := s.Query(context.Background(), QueryFilter{Protocol: packet.ProtocolTCP})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Query(context.Background(), QueryFilter{SourceAddress: "10.0.0.2", DestAddress: "10.0.0.9"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "pkt-2", recs[0].ID)
}

func TestMemoryStoreQueryTimeRange(t *testing.T) {
	s := NewMemoryStore(100)
	require.NoError(t, s.Write(context.Background(), testRecord(1, packet.ProtocolTCP, "a", "b", 2*time.Hour)))
	require.NoError(t, s.Write(context.Background(), testRecord(2, packet.ProtocolTCP, "a", "b", 10*time.Minute)))

	recs, err := s.Query(context.Background(), QueryFilter{Start: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "pkt-2", recs[0].ID)
}

func TestQueryLimitClamping(t *testing.T) {
	assert.Equal(t, DefaultQueryLimit, QueryFilter{}.normalized().Limit)
	assert.Equal(t, DefaultQueryLimit, QueryFilter{Limit: -5}.normalized().Limit)
	assert.Equal(t, 42, QueryFilter{Limit: 42}.normalized().Limit)
	assert.Equal(t, MaxQueryLimit, QueryFilter{Limit: 99999}.normalized().Limit)
}

func TestClampWindow(t *testing.T) {
	assert.Equal(t, DefaultSummaryWindow, ClampWindow(0))
	assert.Equal(t, 6*time.Hour, ClampWindow(6))
	assert.Equal(t, MaxSummaryWindow, ClampWindow(500))
}

func TestMemoryStoreSummarize(t *testing.T) {
	s := NewMemoryStore(100)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(context.Background(), testRecord(i, packet.ProtocolTCP, "10.0.0.1", "10.0.0.9", 0)))
	}
	require.NoError(t, s.Write(context.Background(), testRecord(10, packet.ProtocolICMP, "10.0.0.2", "10.0.0.9", 0)))
	// Outside the window, must not count.
	require.NoError(t, s.Write(context.Background(), testRecord(11, packet.ProtocolUDP, "10.0.0.3", "10.0.0.9", 48*time.Hour)))

	summary, err := s.Summarize(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.TotalPackets)
	assert.Equal(t, 3, summary.ByProtocol["TCP"])
	assert.Equal(t, 1, summary.ByProtocol["ICMP"])
	assert.Zero(t, summary.ByProtocol["UDP"])
	require.NotEmpty(t, summary.TopSources)
	assert.Equal(t, EntryCount{Key: "10.0.0.1", Count: 3}, summary.TopSources[0])
	assert.Equal(t, EntryCount{Key: "10.0.0.9", Count: 4}, summary.TopDests[0])
	assert.Equal(t, EntryCount{Key: "443", Count: 4}, summary.TopDestPorts[0])
}

func TestSummaryTopListsCapAtTen(t *testing.T) {
	s := NewMemoryStore(200)
	for i := 0; i < 25; i++ {
		rec := testRecord(i, packet.ProtocolTCP, fmt.Sprintf("10.1.0.%d", i), "10.0.0.9", 0)
		require.NoError(t, s.Write(context.Background(), rec))
	}

	summary, err := s.Summarize(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Len(t, summary.TopSources, 10)
}
