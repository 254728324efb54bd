package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func InitializeCommands() *cobra.Command {
	var flagInput string

	var rootCmd = &cobra.Command{
		Use:   "imgprep",
		Short: "imgprep shrinks SD-card images for distribution.",
		Long: `imgprep turns a raw SD-card image into a minimised, compressed copy.
It checks and shrinks the root filesystem, removes logs, caches and host keys,
arms first boot expansion and truncates the image to its last partition.
The prepared image can be pushed to and pulled from OCI registries.`,
		Args:                       cobra.NoArgs,
		SuggestionsMinimumDistance: 2,
		SilenceUsage:               true,
		SilenceErrors:              true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagInput == "" {
				return cmd.Help()
			}
			return runPrep(cmd, flagInput, prepFlags{})
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file (default is $HOME/.imgprep/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log the output of every external command")
	rootCmd.Flags().StringVarP(&flagInput, "input", "i", "", "image to prepare, same as 'imgprep prep --input'")

	rootCmd.AddCommand(
		NewCmdPrep(),
		NewCmdCheck(),
		NewCmdInspect(),
		NewCmdUnpack(),
		NewCmdPush(),
		NewCmdPull(),
		NewCmdAuthLogin(),
		NewCmdAuthLogout(),
		NewCmdContext(),
		NewCmdVersion(),
	)

	return rootCmd
}

func Execute(rootCmd *cobra.Command) {
	rootCmd.Version = Version
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
