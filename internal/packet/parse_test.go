package packet

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTCPFrame(t *testing.T, srcPort, dstPort uint16, syn, ack bool, payload []byte) []byte {
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
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1000,
		Ack:     2000,
		SYN:     syn,
		ACK:     ack,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func buildUDPFrame(t *testing.T, payload []byte) []byte {
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
		DstIP:    net.IP{8, 8, 8, 8},
		Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{SrcPort: 51234, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func buildICMPFrame(t *testing.T) []byte {
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
		Protocol: layers.IPProtocolICMPv4,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, icmp, gopacket.Payload([]byte("ping"))))
	return buf.Bytes()
}

func TestParseTCP(t *testing.T) {
	p := NewParser()
	frame := buildTCPFrame(t, 44321, 443, false, true, []byte("hello"))

	rec, err := p.Parse(frame, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ProtocolTCP, rec.Protocol)
	assert.Equal(t, "192.168.1.10", rec.SourceAddress)
	assert.Equal(t, "10.0.0.20", rec.DestAddress)
	assert.Equal(t, uint16(44321), rec.SourcePort)
	assert.Equal(t, uint16(443), rec.DestPort)
	require.NotNil(t, rec.TCP)
	assert.Equal(t, uint32(1000), rec.TCP.Seq)
	assert.Equal(t, uint32(2000), rec.TCP.Ack)
	assert.True(t, rec.TCP.Flags.Has(FlagACK))
	assert.False(t, rec.TCP.Flags.Has(FlagSYN))
	require.NotNil(t, rec.TTL)
	assert.Equal(t, uint8(64), *rec.TTL)
	assert.Equal(t, uint64(1), rec.Sequence)
	assert.Equal(t, "pkt-1", rec.ID)
	assert.Contains(t, rec.Summary, "TCP 192.168.1.10:44321 > 10.0.0.20:443")
}

func TestParseUDP(t *testing.T) {
	p := NewParser()
	rec, err := p.Parse(buildUDPFrame(t, []byte("query")), time.Now())
	require.NoError(t, err)

	assert.Equal(t, ProtocolUDP, rec.Protocol)
	assert.Equal(t, uint16(53), rec.DestPort)
	require.NotNil(t, rec.UDP)
	assert.NotZero(t, rec.UDP.Length)
	assert.Nil(t, rec.TCP)
}

func TestParseICMP(t *testing.T) {
	p := NewParser()
	rec, err := p.Parse(buildICMPFrame(t), time.Now())
	require.NoError(t, err)

	assert.Equal(t, ProtocolICMP, rec.Protocol)
	require.NotNil(t, rec.ICMP)
	assert.Equal(t, uint8(8), rec.ICMP.Type)
	assert.Contains(t, rec.ThreatIndicators, "icmp_traffic")
}

func TestParseFailureDoesNotAdvanceSequence(t *testing.T) {
	p := NewParser()

	_, err := p.Parse(nil, time.Now())
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Equal(t, uint64(0), p.Sequence())

	rec, err := p.Parse(buildUDPFrame(t, []byte("x")), time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)
}

func TestSequenceResetOnRestart(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(buildUDPFrame(t, []byte("x")), time.Now())
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Sequence())

	p.Reset()
	assert.Equal(t, uint64(0), p.Sequence())
}

func TestRawPreviewBounded(t *testing.T) {
	p := NewParser()
	big := make([]byte, 4096)
	rec, err := p.Parse(buildTCPFrame(t, 1234, 80, false, true, big), time.Now())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(rec.RawPreview), 500)
}

func TestTimestampMillisecondPrecision(t *testing.T) {
	p := NewParser()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	rec, err := p.Parse(buildUDPFrame(t, []byte("x")), ts)
	require.NoError(t, err)
	assert.Equal(t, int(123), rec.CapturedAt.Nanosecond()/1e6)
	assert.Zero(t, rec.CapturedAt.Nanosecond()%1e6)
}
