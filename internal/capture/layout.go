package capture

import "fmt"

// AF_PACKET mmap rings have strict alignment rules: frames align to
// TPACKET_ALIGNMENT, blocks align to the page size and must hold a whole
// number of frames. ringLayout derives a layout close to the requested
// buffer size that satisfies all three.
const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52
	maxBlockSize     = 4 * 1024 * 1024
)

func ringLayout(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %dMB", bufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("invalid page size %d", pageSize)
	}

	frameSize = align(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// The exact common multiple is impractically large. Pad the frame to a
		// whole number of pages instead; then any frame multiple is also page
		// aligned.
		frameSize = align(frameSize, pageSize)
		framesPerBlock := maxBlockSize / frameSize
		if framesPerBlock < 1 {
			framesPerBlock = 1
		}
		blockSize = frameSize * framesPerBlock
	}

	targetBytes := bufferSizeMB * 1024 * 1024
	numBlocks = targetBytes / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func align(n, to int) int {
	return ((n + to - 1) / to) * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
