//go:build !linux

package capture

import "fmt"

func openAFPacket(SourceConfig) (FrameSource, error) {
	return nil, fmt.Errorf("the afpacket engine requires linux")
}
