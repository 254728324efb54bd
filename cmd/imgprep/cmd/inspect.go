package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/macvmio/imgprep/pkg/parted"
	"github.com/macvmio/imgprep/pkg/shell"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewCmdInspect() *cobra.Command {
	var flagInput string

	var inspectCmd = &cobra.Command{
		Use:   "inspect --input <image>",
		Short: "Print the partition table and free space of an image.",
		Long:  `Runs parted on the image and prints its partitions and unallocated ranges in bytes. The image is not modified.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := shell.NewRunner(shell.WithLogger(logrus.StandardLogger()))
			t, err := parted.ReadFree(cmd.Context(), r, flagInput)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d bytes, %s table, %d byte sectors\n\n", flagInput, t.Size, t.Label, t.LogicalSectorSize)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NUMBER\tSTART\tEND\tSIZE\tTYPE\tFLAGS")
			for _, p := range t.Rows {
				num := fmt.Sprint(p.Number)
				if p.IsFree() {
					num = "-"
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n", num, p.Start, p.End, p.Size, p.Filesystem, p.Flags)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if root, err := t.Root(); err == nil {
				fmt.Fprintf(out, "\nroot: %s\n", root)
			}
			if boot, ok := t.Boot(); ok {
				fmt.Fprintf(out, "boot: %s\n", boot)
			}
			return nil
		},
	}
	inspectCmd.Flags().StringVarP(&flagInput, "input", "i", "", "image to inspect")
	_ = inspectCmd.MarkFlagRequired("input")
	return inspectCmd
}
