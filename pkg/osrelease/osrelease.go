// Package osrelease reads /etc/os-release from a mounted root filesystem.
package osrelease

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/magiconair/properties"
	"github.com/spf13/afero"
)

var ErrNotFound = errors.New("os-release not found")

var searchPaths = []string{"/etc/os-release", "/usr/lib/os-release"}

type Release struct {
	ID         string
	VersionID  string
	PrettyName string
	Fields     map[string]string
}

func (r Release) String() string {
	if r.PrettyName != "" {
		return r.PrettyName
	}
	return strings.TrimSpace(r.ID + " " + r.VersionID)
}

// Read loads the first os-release file found on fsys.
func Read(fsys afero.Fs) (Release, error) {
	for _, p := range searchPaths {
		b, err := afero.ReadFile(fsys, p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Release{}, fmt.Errorf("unable to read '%v': %w", p, err)
		}
		return Parse(b)
	}
	return Release{}, ErrNotFound
}

// Parse decodes os-release content. Values may be quoted with single or
// double quotes.
func Parse(b []byte) (Release, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(b)
	if err != nil {
		return Release{}, fmt.Errorf("malformed os-release: %w", err)
	}
	fields := make(map[string]string, p.Len())
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		fields[k] = unquote(strings.TrimSpace(v))
	}
	return Release{
		ID:         fields["ID"],
		VersionID:  fields["VERSION_ID"],
		PrettyName: fields["PRETTY_NAME"],
		Fields:     fields,
	}, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
