package compress

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// imageLike returns random data with a long run of zeroes, the shape of a
// zero-freed filesystem.
func imageLike(seed int64, size int) []byte {
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, size)
	_, _ = rng.Read(data)
	for i := size / 4; i < size/4+size/2; i++ {
		data[i] = 0
	}
	return data
}

func TestReadCloserLevel_RoundTrip(t *testing.T) {
	data := imageLike(42, 700*1024)
	for _, level := range []int{1, 3, 19} {
		rc := ReadCloserLevel(io.NopCloser(bytes.NewReader(data)), level)
		compressed, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		ok, err := IsZstd(bytes.NewReader(compressed))
		require.NoError(t, err)
		assert.True(t, ok)

		zr, err := zstd.NewReader(bytes.NewReader(compressed))
		require.NoError(t, err)
		got, err := io.ReadAll(zr)
		zr.Close()
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "level %d", level)
	}
}

func TestIsZstd(t *testing.T) {
	ok, err := IsZstd(bytes.NewReader([]byte("BYT;")))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsZstd(bytes.NewReader([]byte{0x28}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompressAndDecompressFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "raspios-shrunk.img")
	data := imageLike(7, 2*1024*1024)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	archive := src + ".zst"
	var progress bytes.Buffer
	st, err := CompressFile(src, archive, WithLevel(3), WithProgress(&progress))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), st.In)
	assert.Less(t, st.Out, st.In)
	assert.Less(t, st.Ratio(), 1.0)
	assert.NotEmpty(t, progress.String())

	info, err := os.Stat(archive)
	require.NoError(t, err)
	assert.Equal(t, st.Out, info.Size())
	leftovers, err := filepath.Glob(archive + ".partial-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	restored := filepath.Join(dir, "restored.img")
	st, err = DecompressFile(archive, restored)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), st.Out)
	assert.Greater(t, st.Skipped, int64(0))

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestDecompressFile_RejectsPlainFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.img")
	require.NoError(t, os.WriteFile(src, []byte("not compressed at all"), 0o644))
	_, err := DecompressFile(src, filepath.Join(dir, "out.img"))
	assert.ErrorContains(t, err, "not a zstd archive")
}
