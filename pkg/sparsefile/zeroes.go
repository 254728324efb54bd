package sparsefile

import "bytes"

var zeroBuf = make([]byte, maxBufSize)

// isAllZeroes works on buffers of any length, comparing in zeroBuf sized
// chunks.
func isAllZeroes(p []byte) bool {
	for len(p) > 0 {
		n := min(len(p), len(zeroBuf))
		// bytes.Equal is optimized version, 10x faster than simple loop
		if !bytes.Equal(p[:n], zeroBuf[:n]) {
			return false
		}
		p = p[n:]
	}
	return true
}
