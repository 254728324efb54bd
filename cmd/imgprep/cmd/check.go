package cmd

import (
	"errors"
	"fmt"

	"github.com/macvmio/imgprep/pkg/preflight"
	"github.com/spf13/cobra"
)

func NewCmdCheck() *cobra.Command {
	var flagNoZero bool

	var checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Check that this host can run the preparation pipeline.",
		Long:  `Verifies the operating system, root privileges and every external tool the pipeline runs, and prints how to install what is missing.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := preflight.NewChecker()
			hostErr := c.Host()
			if hostErr != nil {
				fmt.Fprintf(out, "host:  %v\n", hostErr)
			} else {
				fmt.Fprintln(out, "host:  ok")
			}
			toolsErr := c.Tools(preflight.RequiredTools(TheAppConfig.ZeroFreeBlocks && !flagNoZero))
			var missing *preflight.MissingToolsError
			switch {
			case errors.As(toolsErr, &missing):
				fmt.Fprintf(out, "tools: %v\n", missing)
			case toolsErr != nil:
				fmt.Fprintf(out, "tools: %v\n", toolsErr)
			default:
				fmt.Fprintln(out, "tools: ok")
			}
			if err := errors.Join(hostErr, toolsErr); err != nil {
				return errors.New("host is not ready")
			}
			return nil
		},
	}
	checkCmd.Flags().BoolVar(&flagNoZero, "no-zero", false, "do not require zerofree")
	return checkCmd
}
