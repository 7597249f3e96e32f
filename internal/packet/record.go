// Package packet defines the typed record produced from one captured frame
// and the parser that builds it.
package packet

import (
	"fmt"
	"time"
)

// Protocol identifies the transport protocol of a record.
type Protocol string

const (
	ProtocolTCP     Protocol = "TCP"
	ProtocolUDP     Protocol = "UDP"
	ProtocolICMP    Protocol = "ICMP"
	ProtocolUnknown Protocol = "unknown"
)

// TCPFlags is the bitwise TCP flag set.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

var flagNames = []struct {
	flag TCPFlags
	name string
}{
	{FlagFIN, "FIN"},
	{FlagSYN, "SYN"},
	{FlagRST, "RST"},
	{FlagPSH, "PSH"},
	{FlagACK, "ACK"},
	{FlagURG, "URG"},
	{FlagECE, "ECE"},
	{FlagCWR, "CWR"},
}

// Has reports whether all flags in mask are set.
func (f TCPFlags) Has(mask TCPFlags) bool { return f&mask == mask }

// Names returns the set flags as readable strings, FIN..CWR order.
func (f TCPFlags) Names() []string {
	names := []string{}
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

// LookupKind identifies one enrichment provider slot.
type LookupKind string

const (
	LookupGeo        LookupKind = "geoip"
	LookupVirusTotal LookupKind = "virustotal"
	LookupAbuseIPDB  LookupKind = "abuseipdb"
	LookupReverseDNS LookupKind = "reverse_dns"
	LookupTorExit    LookupKind = "tor_exit_node"
)

// Enrichment maps lookup kind to either a result value or an error marker.
// Partial results are normal: one provider failing never discards the others.
type Enrichment map[LookupKind]LookupResult

// LookupResult carries one provider's answer for one address.
type LookupResult struct {
	Value interface{} `json:"value,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Failed reports whether the slot carries an error marker.
func (r LookupResult) Failed() bool { return r.Error != "" }

// TCPInfo holds TCP-specific fields.
type TCPInfo struct {
	Seq   uint32   `json:"sequence"`
	Ack   uint32   `json:"acknowledgment"`
	Flags TCPFlags `json:"-"`
}

// UDPInfo holds UDP-specific fields.
type UDPInfo struct {
	Length uint16 `json:"udp_length"`
}

// ICMPInfo holds ICMP-specific fields.
type ICMPInfo struct {
	Type uint8 `json:"icmp_type"`
	Code uint8 `json:"icmp_code"`
}

// Record is the structured representation of one captured frame. It is
// immutable once it leaves the enrichment stage; the bus hands the same
// pointer to every subscriber, so nothing downstream may mutate it.
type Record struct {
	Sequence   uint64    `json:"-"`
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"timestamp"`
	Length     int       `json:"length"`
	Summary    string    `json:"summary"`
	Protocol   Protocol  `json:"protocol"`

	SourceAddress string `json:"source_ip"`
	SourcePort    uint16 `json:"source_port"`
	DestAddress   string `json:"dest_ip"`
	DestPort      uint16 `json:"dest_port"`

	// TTL is nil when no IP layer was present.
	TTL *uint8 `json:"ttl,omitempty"`

	TCP  *TCPInfo  `json:"tcp,omitempty"`
	UDP  *UDPInfo  `json:"udp,omitempty"`
	ICMP *ICMPInfo `json:"icmp,omitempty"`

	// Flags mirrors TCP.Flags as readable names for the wire format.
	Flags []string `json:"flags"`

	// RawPreview is a truncated dump for diagnostics, never the full payload.
	RawPreview string `json:"raw_data"`

	ThreatIndicators []string `json:"threat_indicators"`

	SourceEnrichment Enrichment `json:"source_ip_enrichment,omitempty"`
	DestEnrichment   Enrichment `json:"dest_ip_enrichment,omitempty"`
}

// recordID formats the stable record identifier from the sequence counter.
func recordID(seq uint64) string {
	return fmt.Sprintf("pkt-%d", seq)
}
