package mount

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/macvmio/imgprep/pkg/cleanup"
	"github.com/macvmio/imgprep/pkg/shell/shelltest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietStack() *cleanup.Stack {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return cleanup.NewStack(l)
}

func TestWith_UnmountsAndRemovesDir(t *testing.T) {
	r := shelltest.New()
	stack := quietStack()
	var dir string

	err := With(context.Background(), r, stack, "/dev/loop0", func(m *Mountpoint) error {
		dir = m.Dir
		assert.DirExists(t, dir)
		return errors.New("scrub failed")
	})
	assert.ErrorContains(t, err, "scrub failed")
	assert.NoDirExists(t, dir)
	assert.Equal(t, 1, r.Count("mount /dev/loop0 "+dir))
	assert.Equal(t, 1, r.Count("umount "+dir))

	require.NoError(t, stack.Run())
	assert.Equal(t, 1, r.Count("umount"))
}

func TestMount_FailureLeavesNothingBehind(t *testing.T) {
	r := shelltest.New().On("mount", shelltest.Response{ExitCode: 32, Stderr: "wrong fs type"})
	stack := quietStack()

	_, err := Mount(context.Background(), r, stack, "/dev/loop0", "")
	assert.ErrorContains(t, err, "wrong fs type")
	assert.Empty(t, stack.Pending())
}

func TestMount_ExplicitDirIsKept(t *testing.T) {
	dir := t.TempDir()
	stack := quietStack()
	m, err := Mount(context.Background(), shelltest.New(), stack, "/dev/loop2", dir)
	require.NoError(t, err)
	require.NoError(t, m.Unmount())
	require.NoError(t, m.Unmount())

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestMount_SignalDuringMountUnmounts(t *testing.T) {
	stack := quietStack()
	signals := make(chan os.Signal, 1)
	r := shelltest.New()
	r.OnFunc("mount ", func(args []string) shelltest.Response {
		signals <- syscall.SIGINT
		time.Sleep(50 * time.Millisecond)
		return shelltest.Response{}
	})

	unmountedAtExit := make(chan int, 1)
	go stack.Watch(context.Background(), signals, func(int) {
		unmountedAtExit <- r.Count("umount ")
	})

	m, err := Mount(context.Background(), r, stack, "/dev/loop0", "")
	require.NoError(t, err)

	select {
	case n := <-unmountedAtExit:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not exit")
	}
	assert.NoDirExists(t, m.Dir)

	_, err = Mount(context.Background(), r, stack, "/dev/loop0", "")
	assert.ErrorIs(t, err, cleanup.ErrInterrupted)
}
