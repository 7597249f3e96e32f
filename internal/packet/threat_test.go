package packet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortScanIndicator(t *testing.T) {
	p := NewParser()
	// SYN without ACK to a port outside the well-known allowlist.
	frame := buildTCPFrame(t, 40000, 31337, true, false, nil)

	rec, err := p.Parse(frame, time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"potential_port_scan"}, rec.ThreatIndicators)
}

func TestNoPortScanIndicatorForWellKnownPort(t *testing.T) {
	p := NewParser()
	frame := buildTCPFrame(t, 40000, 443, true, false, nil)

	rec, err := p.Parse(frame, time.Now())
	require.NoError(t, err)

	assert.Empty(t, rec.ThreatIndicators)
}

func TestNoPortScanIndicatorForSynAck(t *testing.T) {
	p := NewParser()
	frame := buildTCPFrame(t, 40000, 31337, true, true, nil)

	rec, err := p.Parse(frame, time.Now())
	require.NoError(t, err)

	assert.Empty(t, rec.ThreatIndicators)
}

func TestLargePacketIndicator(t *testing.T) {
	rec := &Record{Protocol: ProtocolUDP, Length: 1501}
	assert.Equal(t, []string{"large_packet"}, AnalyzeThreatIndicators(rec))

	rec.Length = 1500
	assert.Empty(t, AnalyzeThreatIndicators(rec))
}

func TestIndicatorsAreAdditive(t *testing.T) {
	rec := &Record{Protocol: ProtocolICMP, Length: 2000}
	got := AnalyzeThreatIndicators(rec)
	assert.Equal(t, []string{"icmp_traffic", "large_packet"}, got)
}

func TestTCPFlagNames(t *testing.T) {
	f := FlagSYN | FlagACK | FlagPSH
	assert.Equal(t, []string{"SYN", "PSH", "ACK"}, f.Names())
	assert.True(t, f.Has(FlagSYN))
	assert.False(t, f.Has(FlagFIN))
}
