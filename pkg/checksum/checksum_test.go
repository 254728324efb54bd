package checksum

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSidecars(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "pi-shrunk.img")
	zst := filepath.Join(dir, "pi-shrunk.img.zst")
	require.NoError(t, os.WriteFile(img, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(zst, []byte("world"), 0o644))

	sums, err := WriteSidecars(context.Background(), img, zst)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, img, sums[0].Path)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sums[0].Hash.Hex)
	assert.Equal(t, int64(5), sums[0].Size)
	assert.Equal(t, "486ea46224d1bb4fb680f34f7c9ad96a8f24ec88be73ea8e5a6c65260e9cb8a7", sums[1].Hash.Hex)

	line, err := os.ReadFile(img + Suffix)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824  pi-shrunk.img\n", string(line))

	require.NoError(t, Verify(img))
	require.NoError(t, os.WriteFile(img, []byte("tampered"), 0o644))
	assert.ErrorContains(t, Verify(img), "checksum mismatch")
}

func TestWriteSidecars_MissingFile(t *testing.T) {
	_, err := WriteSidecars(context.Background(), filepath.Join(t.TempDir(), "absent.img"))
	assert.Error(t, err)
}
