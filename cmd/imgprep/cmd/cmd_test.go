package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/macvmio/imgprep/pkg/appconfig"
	"github.com/macvmio/imgprep/pkg/checksum"
	"github.com/macvmio/imgprep/pkg/compress"
	"github.com/macvmio/imgprep/pkg/e2fs"
	"github.com/macvmio/imgprep/pkg/pipeline"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	TheAppConfig = appconfig.Config{}
	flagConfigFile = ""
	flagVerbose = false

	root := InitializeCommands()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestContextCommands(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("verbose: false\n"), 0o644))

	out, err := runCLI(t, "--config", file, "context", "set", "lab", "--registry", "registry.lab.local:5000")
	require.NoError(t, err)
	assert.Contains(t, out, "Context lab set/updated successfully.")

	_, err = runCLI(t, "--config", file, "context", "use", "lab")
	require.NoError(t, err)

	out, err = runCLI(t, "--config", file, "context", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "Registry: registry.lab.local:5000")
	assert.Equal(t, "registry.lab.local:5000/raspios:lite", TheAppConfig.Override("raspios:lite"))

	out, err = runCLI(t, "--config", file, "context", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "lab\tregistry.lab.local:5000 (current)")

	_, err = runCLI(t, "--config", file, "context", "use", "missing")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", file, "context", "delete", "lab")
	require.NoError(t, err)
	out, err = runCLI(t, "--config", file, "context", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "No current context set.")
}

func TestUnpackCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("verbose: false\n"), 0o644))

	data := make([]byte, 512*1024)
	copy(data, []byte("boot sector"))
	img := filepath.Join(dir, "raspios-shrunk.img")
	require.NoError(t, os.WriteFile(img, data, 0o644))
	_, err := compress.CompressFile(img, img+".zst")
	require.NoError(t, err)

	restored := filepath.Join(dir, "restored.img")
	out, err := runCLI(t, "--config", file, "unpack", img+".zst", restored)
	require.NoError(t, err)
	assert.Contains(t, out, "restored.img: 524288 bytes")

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestUnpackCommand_Verify(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("verbose: false\n"), 0o644))

	img := filepath.Join(dir, "raspios-shrunk.img")
	require.NoError(t, os.WriteFile(img, bytes.Repeat([]byte("pi"), 4096), 0o644))
	archive := img + ".zst"
	_, err := compress.CompressFile(img, archive)
	require.NoError(t, err)

	_, err = runCLI(t, "--config", file, "unpack", "--verify", archive, filepath.Join(dir, "a.img"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoFileExists(t, filepath.Join(dir, "a.img"))

	_, err = checksum.WriteSidecars(context.Background(), archive)
	require.NoError(t, err)
	_, err = runCLI(t, "--config", file, "unpack", "--verify", archive, filepath.Join(dir, "b.img"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "b.img"))

	require.NoError(t, os.WriteFile(archive+checksum.Suffix, []byte(strings.Repeat("0", 64)+"  raspios-shrunk.img.zst\n"), 0o644))
	_, err = runCLI(t, "--config", file, "unpack", "--verify", archive, filepath.Join(dir, "c.img"))
	assert.ErrorContains(t, err, "checksum mismatch")
	assert.NoFileExists(t, filepath.Join(dir, "c.img"))
}

func TestVersionCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("verbose: false\n"), 0o644))
	out, err := runCLI(t, "--config", file, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "imgprep "), out)
	assert.Contains(t, out, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestBuildInfoString(t *testing.T) {
	b := buildInfo{version: "v1.2.0", revision: "0123456789abcdef0123", dirty: true}
	assert.Contains(t, b.String(), "imgprep v1.2.0 (0123456789ab-dirty) ")
	assert.Contains(t, buildInfo{}.String(), "imgprep unknown ")
}

func TestPrintSummary(t *testing.T) {
	res := &pipeline.Result{
		Image: "out/raspios-shrunk.img",
		Size:  2115829760,
		Shrink: e2fs.ShrinkResult{
			Before: e2fs.Info{BlockCount: 905216, BlockSize: 4096},
			After:  e2fs.Info{BlockCount: 450000, BlockSize: 4096},
			Passes: 2,
		},
	}
	var out bytes.Buffer
	printSummary(&out, res)
	assert.Contains(t, out.String(), "rootfs:   905216 -> 450000 blocks in 2 passes")
	assert.NotContains(t, out.String(), "archive:")

	res.Shrink.Before = res.Shrink.After
	res.Archive = res.Image + ".zst"
	out.Reset()
	printSummary(&out, res)
	assert.Contains(t, out.String(), "rootfs:   already minimal (450000 blocks)")
	assert.Contains(t, out.String(), "archive:  out/raspios-shrunk.img.zst")
}
