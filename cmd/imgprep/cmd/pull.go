package cmd

import (
	"fmt"

	"github.com/macvmio/imgprep/pkg/publish"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewCmdPull() *cobra.Command {
	var (
		flagConcurrentWorkers int
		flagInsecure          bool
		flagForce             bool
		flagCacheDir          string
	)

	var pullCmd = &cobra.Command{
		Use:   "pull <reference> [image.img]",
		Short: "Pull a prepared image from an OCI registry.",
		Long: `Downloads the segments of an image pushed with 'imgprep push' and reassembles
them into a sparse file. Without a destination the image is written to the
output directory under the name it was pushed with.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := TheAppConfig.Override(args[0])
			dst := TheAppConfig.OutputDirectory
			if len(args) == 2 {
				dst = args[1]
			}
			cacheDir := TheAppConfig.CacheDirectory
			if cmd.Flags().Changed("cache-dir") {
				cacheDir = flagCacheDir
			}
			workers := TheAppConfig.Workers
			if cmd.Flags().Changed("concurrent-workers") {
				workers = flagConcurrentWorkers
			}
			res, err := publish.Pull(ref, dst,
				publish.WithContext(cmd.Context()),
				publish.WithWorkersCount(workers),
				publish.WithInsecure(flagInsecure),
				publish.WithForce(flagForce),
				publish.WithCachePath(cacheDir),
				publish.WithLogger(logrus.StandardLogger()),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes, %d bytes left sparse\n", res.Path, res.Size, res.Skipped)
			return nil
		},
	}

	pullCmd.Flags().IntVar(&flagConcurrentWorkers, "concurrent-workers", 8,
		"Specifies number of concurrent workers to use when downloading layers")
	pullCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "Allow plain HTTP registries")
	pullCmd.Flags().StringVar(&flagCacheDir, "cache-dir", "", "Keep pulled segments in this directory and reuse them")
	pullCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "Overwrite an existing image file")

	return pullCmd
}
