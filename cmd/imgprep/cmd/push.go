package cmd

import (
	"fmt"

	"github.com/macvmio/imgprep/pkg/publish"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewCmdPush() *cobra.Command {
	var (
		flagConcurrentWorkers int
		flagSegmentSize       int64
		flagInsecure          bool
		flagAnnotations       map[string]string
	)

	var pushCmd = &cobra.Command{
		Use:   "push <image.img> <reference>",
		Short: "Push a prepared image to an OCI registry.",
		Long: `Splits the image into segments, compresses each one with zstd and uploads them
as layers of an OCI image. A reference without a registry is resolved against
the current context.`,
		Example: `  imgprep push raspios-shrunk.img ghcr.io/acme/raspios:bookworm`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := TheAppConfig.Override(args[1])
			workers := TheAppConfig.Workers
			if cmd.Flags().Changed("concurrent-workers") {
				workers = flagConcurrentWorkers
			}
			segmentSize := TheAppConfig.SegmentSize
			if cmd.Flags().Changed("segment-size") {
				segmentSize = flagSegmentSize
			}
			digest, err := publish.Push(args[0], ref,
				publish.WithContext(cmd.Context()),
				publish.WithWorkersCount(workers),
				publish.WithSegmentSize(segmentSize),
				publish.WithInsecure(flagInsecure),
				publish.WithAnnotations(flagAnnotations),
				publish.WithLogger(logrus.StandardLogger()),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", ref, digest)
			return nil
		},
	}

	pushCmd.Flags().IntVar(&flagConcurrentWorkers, "concurrent-workers", 8,
		"Specifies number of concurrent workers to use when uploading layers to a registry")
	pushCmd.Flags().Int64Var(&flagSegmentSize, "segment-size", publish.DefaultSegmentSize,
		"Size in bytes of each uploaded segment")
	pushCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "Allow plain HTTP registries")
	pushCmd.Flags().StringToStringVar(&flagAnnotations, "annotation", nil, "Manifest annotation key=value, repeatable")

	return pushCmd
}
