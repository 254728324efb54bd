package segment

import (
	"fmt"
	"os"
)

// Split cuts the file into consecutive layers of at most chunkSize bytes.
func Split(path string, chunkSize int64, opt ...LayerOpt) ([]*Layer, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", chunkSize)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file '%v': %w", path, err)
	}
	maxIdx := info.Size() - 1
	res := make([]*Layer, 0, info.Size()/chunkSize+1)
	for start := int64(0); start <= maxIdx; start += chunkSize {
		stop := min(start+chunkSize-1, maxIdx)
		l, err := NewLayer(path, append(opt, WithRange(start, stop))...)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("'%v' is empty", path)
	}
	return res, nil
}
