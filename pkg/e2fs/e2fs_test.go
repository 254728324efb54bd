package e2fs

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/macvmio/imgprep/pkg/shell/shelltest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func tune2fsOutput(blocks int64) shelltest.Response {
	return shelltest.Response{Stdout: fmt.Sprintf(`tune2fs 1.47.0 (5-Feb-2023)
Filesystem volume name:   rootfs
Filesystem UUID:          3ad7386b-e1ae-4032-ae33-0c40f5ecc4ac
Inode count:              231296
Block count:              %d
Reserved block count:     45239
Block size:               4096
Fragment size:            4096
`, blocks)}
}

func TestCheckAndRepair(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		wantErr    bool
		wantPasses int
	}{
		{"clean on first pass", []int{0}, false, 1},
		{"errors corrected on first pass", []int{1}, false, 1},
		{"reboot advised counts as passing", []int{2}, false, 1},
		{"second pass repairs", []int{4, 0}, false, 2},
		{"only the superblock fallback passes", []int{8, 8, 0}, false, 3},
		{"every pass fails", []int{8, 4, 12}, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := make([]shelltest.Response, 0, len(tt.statuses))
			for _, s := range tt.statuses {
				responses = append(responses, shelltest.Response{ExitCode: s, Stderr: "e2fsck output"})
			}
			r := shelltest.New().On("e2fsck", responses...)

			err := CheckAndRepair(context.Background(), r, quietLog(), "/dev/loop0")
			if tt.wantErr {
				assert.ErrorContains(t, err, "could not be repaired")
			} else {
				assert.NoError(t, err)
			}
			calls := r.Calls()
			require.Len(t, calls, tt.wantPasses)
			assert.Equal(t, "e2fsck -pf /dev/loop0", calls[0])
			if tt.wantPasses == 3 {
				assert.Equal(t, "e2fsck -fy -b 32768 /dev/loop0", calls[2])
			}
		})
	}
}

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo(tune2fsOutput(905216).Stdout)
	require.NoError(t, err)
	assert.Equal(t, Info{BlockCount: 905216, BlockSize: 4096}, info)
	assert.Equal(t, int64(3707764736), info.Bytes())

	_, err = ParseInfo("Block count: 12\n")
	assert.Error(t, err)
	_, err = ParseInfo("Block count: many\nBlock size: 4096\n")
	assert.Error(t, err)
}

func TestParseMinimumBlocks(t *testing.T) {
	n, err := ParseMinimumBlocks("resize2fs 1.47.0 (5-Feb-2023)\nEstimated minimum size of the filesystem: 375610\n")
	require.NoError(t, err)
	assert.Equal(t, int64(375610), n)

	_, err = ParseMinimumBlocks("resize2fs 1.47.0 (5-Feb-2023)\n")
	assert.Error(t, err)
}

func TestShrink_StopsWhenBlockCountStopsDecreasing(t *testing.T) {
	r := shelltest.New().
		On("tune2fs", tune2fsOutput(905216), tune2fsOutput(400000), tune2fsOutput(380000), tune2fsOutput(380000)).
		On("resize2fs -P", shelltest.Response{Stdout: "Estimated minimum size of the filesystem: 375610\n"})

	res, err := Shrink(context.Background(), r, "/dev/loop0", ShrinkOptions{MaxPasses: 10, Log: quietLog()})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.True(t, res.Shrunk())
	assert.Equal(t, 3, res.Passes)
	assert.Equal(t, int64(380000), res.After.BlockCount)
	assert.Equal(t, 3, r.Count("resize2fs -M /dev/loop0"))
}

func TestShrink_NothingToDoEndsLoop(t *testing.T) {
	r := shelltest.New().
		On("tune2fs", tune2fsOutput(905216), tune2fsOutput(400000)).
		On("resize2fs -P", shelltest.Response{Stdout: "Estimated minimum size of the filesystem: 375610\n"}).
		On("resize2fs -M", shelltest.Response{Stdout: "The filesystem is already 400000 (4k) blocks long.  Nothing to do!\n"})

	res, err := Shrink(context.Background(), r, "/dev/loop0", ShrinkOptions{Log: quietLog()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Passes)
	assert.True(t, res.Converged)
}

func TestShrink_AlreadyMinimal(t *testing.T) {
	r := shelltest.New().
		On("tune2fs", tune2fsOutput(375610)).
		On("resize2fs -P", shelltest.Response{Stdout: "Estimated minimum size of the filesystem: 375610\n"})

	res, err := Shrink(context.Background(), r, "/dev/loop0", ShrinkOptions{Log: quietLog()})
	require.NoError(t, err)
	assert.False(t, res.Shrunk())
	assert.False(t, r.Called("resize2fs -M"))
}

func TestShrink_PassLimitKeepsLastSize(t *testing.T) {
	blocks := int64(905216)
	r := shelltest.New().
		OnFunc("tune2fs", func([]string) shelltest.Response {
			blocks -= 1000
			return tune2fsOutput(blocks)
		}).
		On("resize2fs -P", shelltest.Response{Stdout: "Estimated minimum size of the filesystem: 10\n"})

	res, err := Shrink(context.Background(), r, "/dev/loop0", ShrinkOptions{MaxPasses: 2, Log: quietLog()})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Passes)
	assert.Equal(t, blocks, res.After.BlockCount)
}

func TestShrink_ExtraBlocks(t *testing.T) {
	r := shelltest.New().
		On("tune2fs", tune2fsOutput(905216), tune2fsOutput(400000), tune2fsOutput(400000), tune2fsOutput(425600)).
		On("resize2fs -P", shelltest.Response{Stdout: "Estimated minimum size of the filesystem: 375610\n"})

	res, err := Shrink(context.Background(), r, "/dev/loop0", ShrinkOptions{ExtraBlocks: 25600, Log: quietLog()})
	require.NoError(t, err)
	assert.True(t, r.Called("resize2fs /dev/loop0 425600"))
	assert.Equal(t, int64(425600), res.After.BlockCount)
}

func TestShrink_ResizeFailure(t *testing.T) {
	r := shelltest.New().
		On("tune2fs", tune2fsOutput(905216)).
		On("resize2fs -P", shelltest.Response{Stdout: "Estimated minimum size of the filesystem: 375610\n"}).
		On("resize2fs -M", shelltest.Response{ExitCode: 1, Stderr: "Please run 'e2fsck -f /dev/loop0' first."})

	_, err := Shrink(context.Background(), r, "/dev/loop0", ShrinkOptions{Log: quietLog()})
	assert.ErrorContains(t, err, "e2fsck -f")
}

func TestZeroFree(t *testing.T) {
	r := shelltest.New()
	require.NoError(t, ZeroFree(context.Background(), r, "/dev/loop0"))
	assert.Equal(t, []string{"zerofree /dev/loop0"}, r.Calls())
}
