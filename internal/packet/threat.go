package packet

// wellKnownPorts is the destination-port allowlist used by the port scan
// heuristic. A TCP SYN without ACK aimed outside this set is flagged.
var wellKnownPorts = map[uint16]struct{}{
	21: {}, 22: {}, 23: {}, 25: {}, 53: {},
	80: {}, 110: {}, 143: {}, 443: {}, 993: {}, 995: {},
}

// largePacketThreshold is the frame length above which a record is tagged.
const largePacketThreshold = 1500

// AnalyzeThreatIndicators derives indicator tags from the already-parsed
// fields of a record. Pure function of the record, no external calls; rules
// are independently additive.
func AnalyzeThreatIndicators(rec *Record) []string {
	indicators := []string{}

	if rec.Protocol == ProtocolTCP && rec.TCP != nil {
		if _, known := wellKnownPorts[rec.DestPort]; !known {
			if rec.TCP.Flags.Has(FlagSYN) && !rec.TCP.Flags.Has(FlagACK) {
				indicators = append(indicators, "potential_port_scan")
			}
		}
	}

	if rec.Protocol == ProtocolICMP {
		indicators = append(indicators, "icmp_traffic")
	}

	if rec.Length > largePacketThreshold {
		indicators = append(indicators, "large_packet")
	}

	return indicators
}
