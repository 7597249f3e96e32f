package packet

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// rawPreviewLimit bounds the diagnostic dump stored on a record.
const rawPreviewLimit = 500

// ParseError reports a frame that could not be decoded into a record.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable frame: %s", e.Reason)
}

// Parser turns raw frames into records. The sequence counter advances only
// for successfully parsed frames.
type Parser struct {
	seq atomic.Uint64
}

func NewParser() *Parser {
	return &Parser{}
}

// Sequence returns the number of records produced so far.
func (p *Parser) Sequence() uint64 {
	return p.seq.Load()
}

// Reset zeroes the sequence counter. Called on capture restart.
func (p *Parser) Reset() {
	p.seq.Store(0)
}

// Parse decodes one raw frame. A failure returns a *ParseError and leaves
// the sequence counter untouched.
func (p *Parser) Parse(data []byte, capturedAt time.Time) (*Record, error) {
	if len(data) == 0 {
		return nil, &ParseError{Reason: "empty frame"}
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	if errLayer := pkt.ErrorLayer(); errLayer != nil && pkt.NetworkLayer() == nil {
		return nil, &ParseError{Reason: errLayer.Error().Error()}
	}

	rec := &Record{
		CapturedAt:    capturedAt.Truncate(time.Millisecond),
		Length:        len(data),
		Protocol:      ProtocolUnknown,
		SourceAddress: "unknown",
		DestAddress:   "unknown",
		Flags:         []string{},
	}

	decodeNetwork(pkt, rec)
	decodeTransport(pkt, rec)

	rec.Summary = buildSummary(rec)
	rec.RawPreview = buildPreview(pkt)
	rec.ThreatIndicators = AnalyzeThreatIndicators(rec)

	seq := p.seq.Add(1)
	rec.Sequence = seq
	rec.ID = recordID(seq)
	return rec, nil
}

func decodeNetwork(pkt gopacket.Packet, rec *Record) {
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		rec.SourceAddress = ip.SrcIP.String()
		rec.DestAddress = ip.DstIP.String()
		ttl := ip.TTL
		rec.TTL = &ttl
	case *layers.IPv6:
		rec.SourceAddress = ip.SrcIP.String()
		rec.DestAddress = ip.DstIP.String()
		hop := ip.HopLimit
		rec.TTL = &hop
	}
}

func decodeTransport(pkt gopacket.Packet, rec *Record) {
	if icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		rec.Protocol = ProtocolICMP
		rec.ICMP = &ICMPInfo{
			Type: icmp.TypeCode.Type(),
			Code: icmp.TypeCode.Code(),
		}
		return
	}

	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		rec.Protocol = ProtocolTCP
		rec.SourcePort = uint16(t.SrcPort)
		rec.DestPort = uint16(t.DstPort)
		rec.TCP = &TCPInfo{
			Seq:   t.Seq,
			Ack:   t.Ack,
			Flags: tcpFlags(t),
		}
		rec.Flags = rec.TCP.Flags.Names()
	case *layers.UDP:
		rec.Protocol = ProtocolUDP
		rec.SourcePort = uint16(t.SrcPort)
		rec.DestPort = uint16(t.DstPort)
		rec.UDP = &UDPInfo{Length: t.Length}
	}
}

func tcpFlags(t *layers.TCP) TCPFlags {
	var f TCPFlags
	if t.FIN {
		f |= FlagFIN
	}
	if t.SYN {
		f |= FlagSYN
	}
	if t.RST {
		f |= FlagRST
	}
	if t.PSH {
		f |= FlagPSH
	}
	if t.ACK {
		f |= FlagACK
	}
	if t.URG {
		f |= FlagURG
	}
	if t.ECE {
		f |= FlagECE
	}
	if t.CWR {
		f |= FlagCWR
	}
	return f
}

func buildSummary(rec *Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", rec.Protocol, rec.SourceAddress)
	if rec.SourcePort > 0 {
		fmt.Fprintf(&b, ":%d", rec.SourcePort)
	}
	fmt.Fprintf(&b, " > %s", rec.DestAddress)
	if rec.DestPort > 0 {
		fmt.Fprintf(&b, ":%d", rec.DestPort)
	}
	if rec.TCP != nil && rec.TCP.Flags != 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(rec.TCP.Flags.Names(), ","))
	}
	if rec.ICMP != nil {
		fmt.Fprintf(&b, " type=%d code=%d", rec.ICMP.Type, rec.ICMP.Code)
	}
	fmt.Fprintf(&b, " len=%d", rec.Length)
	return b.String()
}

func buildPreview(pkt gopacket.Packet) string {
	dump := pkt.String()
	if len(dump) > rawPreviewLimit {
		dump = dump[:rawPreviewLimit]
	}
	return dump
}
