//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// afpacketSource captures through an AF_PACKET v3 ring buffer. It avoids the
// per-packet copy into libpcap and supports fanout across processes.
type afpacketSource struct {
	handle *afpacket.TPacket
}

func openAFPacket(cfg SourceConfig) (FrameSource, error) {
	frameSize, blockSize, numBlocks, err := ringLayout(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.TimeoutMs),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("open af_packet on %s: %w", cfg.Device, err)
	}

	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("set fanout: %w", err)
		}
	}

	if cfg.BPFFilter != "" {
		if err := applyBPF(tp, cfg.BPFFilter, frameSize); err != nil {
			tp.Close()
			return nil, err
		}
	}
	return &afpacketSource{handle: tp}, nil
}

// applyBPF compiles a pcap filter expression and attaches it as raw cBPF
// instructions, which is the form the AF_PACKET socket accepts.
func applyBPF(tp *afpacket.TPacket, filter string, snapLen int) error {
	compiled, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return fmt.Errorf("compile filter %q: %w", filter, err)
	}
	raw := make([]bpf.RawInstruction, len(compiled))
	for i, inst := range compiled {
		raw[i] = bpf.RawInstruction{Op: inst.Code, Jt: inst.Jt, Jf: inst.Jf, K: inst.K}
	}
	if err := tp.SetBPF(raw); err != nil {
		return fmt.Errorf("apply filter %q: %w", filter, err)
	}
	return nil
}

func (s *afpacketSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

func (s *afpacketSource) Close() error {
	s.handle.Close()
	return nil
}
