package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// pcapSource wraps a live libpcap handle. It is the portable backend and
// the default.
type pcapSource struct {
	handle *pcap.Handle
}

func openPcap(cfg SourceConfig) (FrameSource, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	handle, err := pcap.OpenLive(cfg.Device, int32(cfg.SnapLen), cfg.Promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("apply filter %q: %w", cfg.BPFFilter, err)
		}
	}
	return &pcapSource{handle: handle}, nil
}

func (s *pcapSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err == pcap.NextErrorTimeoutExpired {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

func (s *pcapSource) Close() error {
	s.handle.Close()
	return nil
}
