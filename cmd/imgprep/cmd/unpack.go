package cmd

import (
	"fmt"

	"github.com/macvmio/imgprep/pkg/checksum"
	"github.com/macvmio/imgprep/pkg/compress"
	"github.com/spf13/cobra"
)

func NewCmdUnpack() *cobra.Command {
	var verify bool
	var unpackCmd = &cobra.Command{
		Use:   "unpack <image.img.zst> <image.img>",
		Short: "Decompress a prepared archive into a sparse image file.",
		Long:  `Expands a .zst archive written by 'imgprep prep'. Runs of zero blocks become holes in the output, so a mostly empty image takes little disk space.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verify {
				if err := checksum.Verify(args[0]); err != nil {
					return err
				}
			}
			var opts []compress.Option
			if w := progressWriter(); w != nil {
				opts = append(opts, compress.WithProgress(w))
			}
			st, err := compress.DecompressFile(args[0], args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes, %d bytes left sparse\n", args[1], st.Out, st.Skipped)
			return nil
		},
	}
	unpackCmd.Flags().BoolVar(&verify, "verify", false,
		"Check the archive against its "+checksum.Suffix+" file before expanding it")
	return unpackCmd
}
