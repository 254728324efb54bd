package parted

import (
	"context"
	"os"
	"testing"

	"github.com/macvmio/imgprep/pkg/shell/shelltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return string(b)
}

func TestParse_TwoPartitions(t *testing.T) {
	table, err := Parse(readFixture(t, "print.txt"))
	require.NoError(t, err)

	assert.Equal(t, "/work/raspios-shrunk.img", table.Path)
	assert.Equal(t, int64(3980394496), table.Size)
	assert.Equal(t, "msdos", table.Label)
	assert.Equal(t, 512, table.LogicalSectorSize)
	require.Len(t, table.Partitions(), 2)

	boot, ok := table.Boot()
	require.True(t, ok)
	assert.Equal(t, Partition{
		Number: 1, Start: 4194304, End: 272629759, Size: 268435456, Filesystem: "fat32", Flags: "lba",
	}, boot)

	root, err := table.Root()
	require.NoError(t, err)
	assert.Equal(t, Partition{
		Number: 2, Start: 272629760, End: 3980394495, Size: 3707764736, Filesystem: "ext4",
	}, root)
	assert.True(t, root.IsExt())
	assert.Equal(t, root.End-root.Start+1, root.Size)
	assert.False(t, table.Logical(root))
}

func TestTable_Logical(t *testing.T) {
	table, err := Parse(`BYT;
/work/x.img:3980394496B:file:512:512:msdos::;
1:4194304B:272629759B:268435456B:fat32::lba;
2:272629760B:3980394495B:3707764736B:::lba;
5:273678336B:3980394495B:3706716160B:ext4::;
`)
	require.NoError(t, err)
	root, err := table.Root()
	require.NoError(t, err)
	assert.Equal(t, 5, root.Number)
	assert.True(t, table.Logical(root))

	table.Label = "gpt"
	assert.False(t, table.Logical(root))
}

func TestParse_FreeRows(t *testing.T) {
	table, err := Parse(readFixture(t, "print_free.txt"))
	require.NoError(t, err)
	assert.Len(t, table.Rows, 4)
	assert.Len(t, table.Partitions(), 2)

	free, ok := table.TrailingFree()
	require.True(t, ok)
	assert.Equal(t, int64(1811939328), free.Start)

	table, err = Parse(readFixture(t, "print_free_none.txt"))
	require.NoError(t, err)
	_, ok = table.TrailingFree()
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"sector units", "CHS;\n/x.img:1B:file:512:512:msdos::;\n"},
		{"bad size", "BYT;\n/x.img:huge:file:512:512:msdos::;\n"},
		{"short row", "BYT;\n/x.img:10B:file:512:512:msdos::;\n1:0B:9B;\n"},
		{"bad offset", "BYT;\n/x.img:10B:file:512:512:msdos::;\n1:zeroB:9B:10B:ext4::;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestParse_PathWithColon(t *testing.T) {
	table, err := Parse("BYT;\n/tmp/a:b.img:100B:file:512:4096:gpt::;\n")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a:b.img", table.Path)
	assert.Equal(t, 4096, table.PhysSectorSize)
	_, err = table.Root()
	assert.Error(t, err)
}

func TestTruncateTrailingFree(t *testing.T) {
	t.Run("trailing free space is cut", func(t *testing.T) {
		r := shelltest.New().On("parted -ms", shelltest.Response{Stdout: readFixture(t, "print_free.txt")})
		truncated, size, err := TruncateTrailingFree(context.Background(), r, "/work/raspios-shrunk.img")
		require.NoError(t, err)
		assert.True(t, truncated)
		assert.Equal(t, int64(1811939328), size)
		assert.Equal(t, 1, r.Count("truncate -s 1811939328 /work/raspios-shrunk.img"))
	})

	t.Run("no trailing free space is a no-op", func(t *testing.T) {
		r := shelltest.New().On("parted -ms", shelltest.Response{Stdout: readFixture(t, "print_free_none.txt")})
		truncated, size, err := TruncateTrailingFree(context.Background(), r, "/work/raspios-shrunk.img")
		require.NoError(t, err)
		assert.False(t, truncated)
		assert.Equal(t, int64(1811939328), size)
		assert.False(t, r.Called("truncate"))
	})

	t.Run("truncate failure is reported", func(t *testing.T) {
		r := shelltest.New().
			On("parted -ms", shelltest.Response{Stdout: readFixture(t, "print_free.txt")}).
			On("truncate", shelltest.Response{ExitCode: 1, Stderr: "read-only file system"})
		_, _, err := TruncateTrailingFree(context.Background(), r, "/work/raspios-shrunk.img")
		assert.ErrorContains(t, err, "read-only file system")
	})
}

func TestShrinkPartition(t *testing.T) {
	root := Partition{Number: 2, Start: 272629760, End: 3980394495, Size: 3707764736, Filesystem: "ext4"}

	r := shelltest.New()
	end, err := ShrinkPartition(context.Background(), r, "img", root, 1539309568)
	require.NoError(t, err)
	assert.Equal(t, int64(1811939327), end)
	assert.Equal(t, []string{
		"parted -s -a minimal img rm 2",
		"parted -s img unit B mkpart primary 272629760B 1811939327B",
	}, r.Calls())

	_, err = ShrinkPartition(context.Background(), shelltest.New(), "img", root, root.Size+1)
	assert.ErrorContains(t, err, "would grow")

	_, err = ShrinkPartition(context.Background(), shelltest.New(), "img", root, 0)
	assert.Error(t, err)
}
