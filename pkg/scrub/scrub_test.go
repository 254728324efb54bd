package scrub

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populate(t *testing.T, fsys afero.Fs, files ...string) {
	t.Helper()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fsys, f, []byte("data"), 0o644))
	}
}

func TestScrub_DefaultPatterns(t *testing.T) {
	fsys := afero.NewMemMapFs()
	populate(t, fsys,
		"/var/cache/apt/archives/vim_9.0.deb",
		"/var/cache/apt/archives/lock",
		"/var/log/syslog.log",
		"/var/log/dpkg.log.1.gz",
		"/var/log/apt/history.log",
		"/etc/ssh/ssh_host_ed25519_key",
		"/etc/ssh/sshd_config",
		"/root/.bash_history",
		"/home/pi/.bash_history",
		"/home/pi/.cache/pip/wheel",
		"/home/pi/notes.txt",
		"/tmp/x",
	)

	removed, err := Scrub(fsys, DefaultPatterns())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/etc/ssh/ssh_host_ed25519_key",
		"/home/pi/.bash_history",
		"/home/pi/.cache/pip",
		"/root/.bash_history",
		"/tmp/x",
		"/var/cache/apt/archives/vim_9.0.deb",
		"/var/log/dpkg.log.1.gz",
		"/var/log/syslog.log",
	}, removed)

	for _, kept := range []string{
		"/var/cache/apt/archives/lock",
		"/var/log/apt/history.log",
		"/etc/ssh/sshd_config",
		"/home/pi/notes.txt",
	} {
		ok, err := afero.Exists(fsys, kept)
		require.NoError(t, err)
		assert.True(t, ok, kept)
	}
	ok, _ := afero.Exists(fsys, "/home/pi/.cache/pip/wheel")
	assert.False(t, ok)
}

func TestScrub_NoHomes(t *testing.T) {
	fsys := afero.NewMemMapFs()
	populate(t, fsys, "/var/log/boot.log")
	removed, err := Scrub(fsys, Patterns{System: []string{"var/log/*.log"}, User: []string{".bash_history"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/var/log/boot.log"}, removed)
}

func TestScrub_RejectsEscapingPatterns(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_, err := Scrub(fsys, Patterns{System: []string{"../etc/*"}})
	assert.ErrorContains(t, err, "leaves the filesystem root")

	populate(t, fsys, "/home/pi/.profile")
	_, err = Scrub(fsys, Patterns{User: []string{"../../etc/passwd"}})
	assert.Error(t, err)

	_, err = Scrub(fsys, Patterns{System: []string{""}})
	assert.Error(t, err)
}

func TestScrub_SymlinksStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	host := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(host, "precious"), []byte("keep"), 0o644))
	for _, d := range []string{"var", "tmp", "data/log", "home"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "tmp", "x"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "log", "app.log"), []byte("data"), 0o644))
	// absolute, meant for the image's own root
	require.NoError(t, os.Symlink(host, filepath.Join(root, "var", "tmp")))
	// climbs above the root; the host sees the temp dirs as siblings
	require.NoError(t, os.Symlink("../..", filepath.Join(root, "var", "cache")))
	// stays inside the image
	require.NoError(t, os.Symlink("../data/log", filepath.Join(root, "var", "log")))
	// a home directory pointing at the host
	require.NoError(t, os.Symlink(host, filepath.Join(root, "home", "pi")))

	fsys := afero.NewBasePathFs(afero.NewOsFs(), root)
	removed, err := Scrub(fsys, Patterns{
		System: []string{"var/tmp/*", "var/cache/*/precious", "var/log/*.log", "tmp/*"},
		User:   []string{"precious"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/log/app.log", "/tmp/x"}, removed)

	assert.FileExists(t, filepath.Join(host, "precious"))
	assert.NoFileExists(t, filepath.Join(root, "data", "log", "app.log"))
	link, err := os.Readlink(filepath.Join(root, "var", "tmp"))
	require.NoError(t, err)
	assert.Equal(t, host, link)
}

func TestScrub_RemovesLinkNotTarget(t *testing.T) {
	root := t.TempDir()
	host := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(host, "precious"), []byte("keep"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tmp"), 0o755))
	require.NoError(t, os.Symlink(host, filepath.Join(root, "tmp", "outside")))

	removed, err := Scrub(afero.NewBasePathFs(afero.NewOsFs(), root), Patterns{System: []string{"tmp/*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/outside"}, removed)
	assert.FileExists(t, filepath.Join(host, "precious"))
	_, err = os.Lstat(filepath.Join(root, "tmp", "outside"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
