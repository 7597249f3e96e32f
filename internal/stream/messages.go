package stream

import (
	"strings"

	"github.com/GeoAziz/netverse-engine/internal/packet"
)

// Message kinds sent to clients.
const (
	KindConnection   = "connection"
	KindNetworkLog   = "network_log"
	KindPong         = "pong"
	KindFilterAck    = "filter_ack"
	KindSystemStatus = "system_status"
)

// Client message kinds.
const (
	kindPing   = "ping"
	kindFilter = "filter"
)

// serverMessage is the envelope for every frame sent to a client. Fields
// not used by a kind stay empty and are omitted from the wire.
type serverMessage struct {
	Type      string      `json:"type"`
	Status    string      `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp interface{} `json:"timestamp,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Filters   *Filter     `json:"filters,omitempty"`
}

// Filter narrows which records a client receives. Empty fields match
// everything.
type Filter struct {
	Protocol      string `json:"protocol,omitempty" mapstructure:"protocol"`
	SourceAddress string `json:"source_ip,omitempty" mapstructure:"source_ip"`
	DestAddress   string `json:"dest_ip,omitempty" mapstructure:"dest_ip"`
}

// Matches reports whether rec passes the filter. Protocol comparison is
// case-insensitive so clients can send "tcp" or "TCP".
func (f Filter) Matches(rec *packet.Record) bool {
	if f.Protocol != "" && !strings.EqualFold(f.Protocol, string(rec.Protocol)) {
		return false
	}
	if f.SourceAddress != "" && f.SourceAddress != rec.SourceAddress {
		return false
	}
	if f.DestAddress != "" && f.DestAddress != rec.DestAddress {
		return false
	}
	return true
}
