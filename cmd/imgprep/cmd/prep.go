package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/macvmio/imgprep/pkg/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

type prepFlags struct {
	noCompress   bool
	noZero       bool
	noAutoExpand bool
}

func NewCmdPrep() *cobra.Command {
	var (
		flagInput string
		flags     prepFlags
	)

	var prepCmd = &cobra.Command{
		Use:   "prep --input <image>",
		Short: "Shrink, clean and compress an SD-card image.",
		Long: `Copies the image to <output-dir>/<name>-shrunk.img and prepares the copy:
checks and repairs the root filesystem, removes logs, caches and host keys,
enables first boot expansion, shrinks the filesystem and its partition,
zeroes free blocks, truncates the image and compresses it with zstd.
The input image is never modified. Requires root on Linux.`,
		Example: `  sudo imgprep prep --input 2024-03-15-raspios-bookworm-arm64-lite.img --output-dir /srv/images`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrep(cmd, flagInput, flags)
		},
	}

	f := prepCmd.Flags()
	f.StringVarP(&flagInput, "input", "i", "", "image to prepare")
	f.String("output-dir", ".", "directory for the prepared image")
	f.Int("compression-level", 3, "zstd compression level (1-22)")
	f.Int("max-passes", 10, "upper bound of resize2fs -M passes")
	f.Int64("extra-blocks", 0, "filesystem blocks to keep free after shrinking")
	f.BoolVar(&flags.noCompress, "no-compress", false, "skip writing the .zst archive")
	f.BoolVar(&flags.noZero, "no-zero", false, "skip zeroing free filesystem blocks")
	f.BoolVar(&flags.noAutoExpand, "no-autoexpand", false, "do not enable first boot expansion")
	_ = prepCmd.MarkFlagRequired("input")

	_ = viper.BindPFlag("output_directory", f.Lookup("output-dir"))
	_ = viper.BindPFlag("compression_level", f.Lookup("compression-level"))
	_ = viper.BindPFlag("shrink.max_passes", f.Lookup("max-passes"))
	_ = viper.BindPFlag("shrink.extra_blocks", f.Lookup("extra-blocks"))

	return prepCmd
}

func runPrep(cmd *cobra.Command, input string, flags prepFlags) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	cfg := TheAppConfig
	opts := []pipeline.Option{
		pipeline.WithOutputDirectory(cfg.OutputDirectory),
		pipeline.WithCompression(!flags.noCompress),
		pipeline.WithCompressionLevel(cfg.CompressionLevel),
		pipeline.WithZeroFreeBlocks(cfg.ZeroFreeBlocks && !flags.noZero),
		pipeline.WithAutoExpand(cfg.AutoExpand.Enabled && !flags.noAutoExpand, cfg.AutoExpand.CmdlineParam),
		pipeline.WithScrubPatterns(cfg.ScrubPatterns()),
		pipeline.WithMaxPasses(cfg.Shrink.MaxPasses),
		pipeline.WithExtraBlocks(cfg.Shrink.ExtraBlocks),
		pipeline.WithSignals(signals, os.Exit),
		pipeline.WithLogger(logrus.StandardLogger()),
	}
	if w := progressWriter(); w != nil {
		opts = append(opts, pipeline.WithProgress(w))
	}

	res, err := pipeline.New(input, opts...).Run(cmd.Context())
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), res)
	return nil
}

func printSummary(out io.Writer, res *pipeline.Result) {
	fmt.Fprintf(out, "image:    %s (%d bytes)\n", res.Image, res.Size)
	if sr := res.Shrink; sr.Shrunk() {
		fmt.Fprintf(out, "rootfs:   %d -> %d blocks in %d passes\n", sr.Before.BlockCount, sr.After.BlockCount, sr.Passes)
	} else {
		fmt.Fprintf(out, "rootfs:   already minimal (%d blocks)\n", sr.After.BlockCount)
	}
	if res.Archive != "" {
		fmt.Fprintf(out, "archive:  %s\n", res.Archive)
	}
	if res.Release.ID != "" {
		fmt.Fprintf(out, "system:   %s\n", res.Release)
	}
	for _, s := range res.Sums {
		fmt.Fprintf(out, "sha256:   %s  %s\n", s.Hash.Hex, s.Sidecar)
	}
}

// progressWriter is stderr when it is a terminal.
func progressWriter() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return os.Stderr
	}
	return nil
}
