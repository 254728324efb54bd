package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is stamped at release time with
// -ldflags="-X 'github.com/macvmio/imgprep/cmd/imgprep/cmd.Version=$TAG'"
var Version string

type buildInfo struct {
	version  string
	revision string
	dirty    bool
}

func readBuildInfo() buildInfo {
	b := buildInfo{version: Version}
	i, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.version == "" {
		b.version = i.Main.Version
	}
	for _, s := range i.Settings {
		switch s.Key {
		case "vcs.revision":
			b.revision = s.Value
		case "vcs.modified":
			b.dirty = s.Value == "true"
		}
	}
	return b
}

func (b buildInfo) String() string {
	v := b.version
	if v == "" {
		v = "unknown"
	}
	if b.revision != "" {
		rev := b.revision[:min(12, len(b.revision))]
		if b.dirty {
			rev += "-dirty"
		}
		v += " (" + rev + ")"
	}
	return fmt.Sprintf("imgprep %s %s %s/%s", v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Long:  `Print the release, source revision and toolchain of this binary.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), readBuildInfo())
		},
	}
}
