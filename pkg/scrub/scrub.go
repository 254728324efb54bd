// Package scrub deletes caches, logs, host keys and shell histories from a
// mounted root filesystem before it is shrunk.
package scrub

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var DefaultSystemPatterns = []string{
	"var/cache/apt/archives/*.deb",
	"var/lib/apt/lists/*",
	"var/log/*.log",
	"var/log/*.gz",
	"var/log/journal/*",
	"tmp/*",
	"var/tmp/*",
	"etc/ssh/ssh_host_*",
}

// DefaultUserPatterns are relative to each home directory.
var DefaultUserPatterns = []string{
	".bash_history",
	".cache/*",
	".wget-hsts",
	".lesshst",
	".python_history",
}

type Patterns struct {
	System []string
	User   []string
}

func DefaultPatterns() Patterns {
	return Patterns{System: DefaultSystemPatterns, User: DefaultUserPatterns}
}

// Scrub removes everything matching p from fsys, which must be rooted at the
// mounted filesystem. Symlinks are followed as if fsys were the root
// directory, so nothing outside fsys is ever removed. It returns the removed
// paths, sorted.
func Scrub(fsys afero.Fs, p Patterns) ([]string, error) {
	globs := make([]string, 0, len(p.System))
	for _, s := range p.System {
		g, err := rooted("/", s)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}

	for _, h := range homeDirs(fsys) {
		for _, u := range p.User {
			g, err := rooted(h, u)
			if err != nil {
				return nil, err
			}
			globs = append(globs, g)
		}
	}

	removed := map[string]struct{}{}
	for _, g := range globs {
		matches, err := glob(fsys, g)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", g, err)
		}
		for _, m := range matches {
			if _, done := removed[m]; done {
				continue
			}
			if err := fsys.RemoveAll(m); err != nil {
				return nil, fmt.Errorf("unable to remove '%v': %w", m, err)
			}
			removed[m] = struct{}{}
		}
	}

	res := make([]string, 0, len(removed))
	for m := range removed {
		res = append(res, m)
	}
	sort.Strings(res)
	return res, nil
}

// glob expands pattern like afero.Glob, except that every directory it
// descends into is first resolved with resolveDir. Matches never contain a
// symlink except possibly as their last element.
func glob(fsys afero.Fs, pattern string) ([]string, error) {
	segs := strings.Split(strings.Trim(path.Clean(pattern), "/"), "/")
	dirs := []string{"/"}
	for i, seg := range segs {
		if _, err := path.Match(seg, ""); err != nil {
			return nil, err
		}
		var next []string
		for _, d := range dirs {
			next = append(next, expand(fsys, d, seg)...)
		}
		if i == len(segs)-1 {
			return next, nil
		}
		dirs = dirs[:0]
		for _, n := range next {
			if r, err := resolveDir(fsys, n); err == nil {
				dirs = append(dirs, r)
			}
		}
	}
	return nil, nil
}

// expand lists the entries of the resolved directory dir matching seg.
// Unreadable directories match nothing.
func expand(fsys afero.Fs, dir, seg string) []string {
	if !hasMeta(seg) {
		p := path.Join(dir, seg)
		if _, err := lstat(fsys, p); err != nil {
			return nil
		}
		return []string{p}
	}
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	var res []string
	for _, e := range entries {
		if ok, _ := path.Match(seg, e.Name()); ok {
			res = append(res, path.Join(dir, e.Name()))
		}
	}
	return res
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, `*?[\`)
}

func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if lst, ok := fsys.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(name)
		return fi, err
	}
	return fsys.Stat(name)
}

const maxSymlinks = 40

// resolveDir returns the directory name refers to with every symlink on the
// way replaced by its target, interpreted relative to the root of fsys.
func resolveDir(fsys afero.Fs, name string) (string, error) {
	lr, _ := fsys.(afero.LinkReader)
	todo := strings.Split(name, "/")
	resolved := "/"
	links := 0
	for len(todo) > 0 {
		seg := todo[0]
		todo = todo[1:]
		switch seg {
		case "", ".":
			continue
		case "..":
			resolved = path.Dir(resolved)
			continue
		}
		next := path.Join(resolved, seg)
		fi, err := lstat(fsys, next)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			if !fi.IsDir() {
				return "", fmt.Errorf("'%v' is not a directory", next)
			}
			resolved = next
			continue
		}
		if lr == nil {
			return "", fmt.Errorf("unable to follow symlink '%v'", next)
		}
		if links++; links > maxSymlinks {
			return "", fmt.Errorf("too many levels of symbolic links in '%v'", name)
		}
		target, err := lr.ReadlinkIfPossible(next)
		if err != nil {
			return "", err
		}
		if path.IsAbs(target) {
			resolved = "/"
		}
		todo = append(strings.Split(target, "/"), todo...)
	}
	return resolved, nil
}

// rooted joins pattern onto base and refuses anything that would climb out.
func rooted(base, pattern string) (string, error) {
	if pattern == "" {
		return "", errors.New("empty scrub pattern")
	}
	for _, seg := range strings.Split(pattern, "/") {
		if seg == ".." {
			return "", fmt.Errorf("scrub pattern %q leaves the filesystem root", pattern)
		}
	}
	return path.Join(base, pattern), nil
}

// homeDirs returns /root and the directories under /home, resolved.
func homeDirs(fsys afero.Fs) []string {
	candidates := expand(fsys, "/", "root")
	if home, err := resolveDir(fsys, "/home"); err == nil {
		candidates = append(candidates, expand(fsys, home, "*")...)
	}
	homes := []string{}
	seen := map[string]bool{}
	for _, c := range candidates {
		h, err := resolveDir(fsys, c)
		if err != nil || seen[h] {
			continue
		}
		seen[h] = true
		homes = append(homes, h)
	}
	return homes
}
