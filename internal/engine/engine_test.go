package engine

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoAziz/netverse-engine/internal/bus"
	"github.com/GeoAziz/netverse-engine/internal/capture"
	"github.com/GeoAziz/netverse-engine/internal/enrich"
	"github.com/GeoAziz/netverse-engine/internal/packet"
	"github.com/GeoAziz/netverse-engine/internal/sink"
)

// frameQueue feeds pre-built frames to the controller, then stays quiet.
type frameQueue struct {
	frames chan []byte
}

func (f *frameQueue) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case data := <-f.frames:
		return data, gopacket.CaptureInfo{Timestamp: time.Now()}, nil
	case <-time.After(5 * time.Millisecond):
		return nil, gopacket.CaptureInfo{}, capture.ErrReadTimeout
	}
}

func (f *frameQueue) Close() error { return nil }

type staticResolver struct{}

func (staticResolver) Kind() packet.LookupKind { return packet.LookupGeo }

func (staticResolver) Resolve(context.Context, string) (interface{}, error) {
	return enrich.GeoInfo{Country: "NL"}, nil
}

func tcpFrame(t *testing.T, dstPort uint16, syn, ack bool) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    net.IP{192, 168, 1, 10},
		DstIP:    net.IP{10, 0, 0, 20},
		Protocol: layers.IPProtocolTCP,
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: layers.TCPPort(dstPort), SYN: syn, ACK: ack}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp))
	return buf.Bytes()
}

type testEngine struct {
	engine *Engine
	bus    *bus.Bus
	source *frameQueue
	store  *sink.MemoryStore
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	source := &frameQueue{frames: make(chan []byte, 64)}
	controller := capture.NewController(64, capture.WithSourceOpener(
		func(capture.SourceConfig) (capture.FrameSource, error) { return source, nil },
	))

	b := bus.New(bus.DefaultQueueSize)
	store := sink.NewMemoryStore(1000)
	e := New(Options{
		Bus:        b,
		Controller: controller,
		Enricher:   enrich.New([]enrich.Resolver{staticResolver{}}),
		QueryStore: store,
		Stores:     []sink.Store{store},
		Workers:    2,
	})
	require.NoError(t, e.Run(context.Background()))
	t.Cleanup(func() {
		e.Shutdown()
		b.Close()
	})
	return &testEngine{engine: e, bus: b, source: source, store: store}
}

func TestPipelineEndToEnd(t *testing.T) {
	te := newTestEngine(t)

	sub, err := te.bus.Subscribe(bus.TopicPackets)
	require.NoError(t, err)
	defer te.bus.Unsubscribe(sub)

	require.NoError(t, te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"}))
	te.source.frames <- tcpFrame(t, 443, true, true)

	select {
	case event := <-sub.Events():
		rec := event.Payload.(*packet.Record)
		assert.Equal(t, "pkt-1", rec.ID)
		assert.Equal(t, packet.ProtocolTCP, rec.Protocol)
		assert.Equal(t, "192.168.1.10", rec.SourceAddress)
		require.NotNil(t, rec.SourceEnrichment)
		assert.Equal(t, enrich.GeoInfo{Country: "NL"}, rec.SourceEnrichment[packet.LookupGeo].Value)
	case <-time.After(2 * time.Second):
		t.Fatal("record never reached the bus")
	}

	// The persistence consumer sees the same record.
	assert.Eventually(t, func() bool {
		recs, err := te.engine.QueryLogs(context.Background(), sink.QueryFilter{})
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	te := newTestEngine(t)

	sub, err := te.bus.Subscribe(bus.TopicPackets)
	require.NoError(t, err)
	defer te.bus.Unsubscribe(sub)

	require.NoError(t, te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"}))
	te.source.frames <- nil // fails to parse
	te.source.frames <- tcpFrame(t, 80, false, true)

	select {
	case event := <-sub.Events():
		rec := event.Payload.(*packet.Record)
		// The bad frame neither advanced the sequence nor was published.
		assert.Equal(t, "pkt-1", rec.ID)
		assert.Equal(t, uint16(80), rec.DestPort)
	case <-time.After(2 * time.Second):
		t.Fatal("record never reached the bus")
	}
}

func TestSequenceResetsPerSession(t *testing.T) {
	te := newTestEngine(t)

	sub, err := te.bus.Subscribe(bus.TopicPackets)
	require.NoError(t, err)
	defer te.bus.Unsubscribe(sub)

	require.NoError(t, te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"}))
	te.source.frames <- tcpFrame(t, 80, false, true)
	event := <-sub.Events()
	assert.Equal(t, "pkt-1", event.Payload.(*packet.Record).ID)

	require.NoError(t, te.engine.CaptureStop())
	require.NoError(t, te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"}))
	te.source.frames <- tcpFrame(t, 80, false, true)
	event = <-sub.Events()
	assert.Equal(t, "pkt-1", event.Payload.(*packet.Record).ID)
}

func TestCaptureControlErrors(t *testing.T) {
	te := newTestEngine(t)

	assert.ErrorIs(t, te.engine.CaptureStop(), capture.ErrNotRunning)
	require.NoError(t, te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"}))
	assert.ErrorIs(t, te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"}), capture.ErrAlreadyRunning)
	assert.Equal(t, capture.StateRunning, te.engine.CaptureStatus().State)
}

func TestConcurrentStartsAdmitExactlyOne(t *testing.T) {
	te := newTestEngine(t)

	const racers = 8
	errs := make(chan error, racers)
	var ready sync.WaitGroup
	ready.Add(racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		go func() {
			ready.Done()
			<-start
			errs <- te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"})
		}()
	}
	ready.Wait()
	close(start)

	var won, lost int
	for i := 0; i < racers; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case errors.Is(err, capture.ErrAlreadyRunning):
			lost++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, racers-1, lost)
	assert.Equal(t, capture.StateRunning, te.engine.CaptureStatus().State)

	// The losers must not have reset the winner's sequence.
	sub, err := te.bus.Subscribe(bus.TopicPackets)
	require.NoError(t, err)
	defer te.bus.Unsubscribe(sub)

	te.source.frames <- tcpFrame(t, 80, false, true)
	event := <-sub.Events()
	assert.Equal(t, "pkt-1", event.Payload.(*packet.Record).ID)
}

func TestSummarizeFromQueryStore(t *testing.T) {
	te := newTestEngine(t)

	require.NoError(t, te.engine.CaptureStart(capture.SourceConfig{Device: "eth0"}))
	for i := 0; i < 3; i++ {
		te.source.frames <- tcpFrame(t, 443, false, true)
	}

	assert.Eventually(t, func() bool {
		summary, err := te.engine.Summarize(context.Background(), 1)
		return err == nil && summary.TotalPackets == 3
	}, 2*time.Second, 10*time.Millisecond)

	summary, err := te.engine.Summarize(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ByProtocol["TCP"])
	assert.Equal(t, "443", summary.TopDestPorts[0].Key)
}

func TestStatusSnapshot(t *testing.T) {
	te := newTestEngine(t)
	snap := te.engine.StatusSnapshot()

	status, ok := snap["capture"].(capture.Status)
	require.True(t, ok)
	assert.Equal(t, capture.StateIdle, status.State)
	assert.Contains(t, snap, "records_published")
}
