package cmd

import (
	"fmt"

	"github.com/macvmio/imgprep/pkg/appconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func persistContexts() error {
	viper.Set("contexts", TheAppConfig.Contexts)
	viper.Set("current_context", TheAppConfig.CurrentContext)
	return saveConfig()
}

func NewCmdContext() *cobra.Command {
	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Manage registry contexts",
		Long:  `A context names a registry. References given to push and pull without a registry are resolved against the current context.`,
	}

	var contextSetCmd = &cobra.Command{
		Use:   "set [name] --registry=REGISTRY [--user=USER]",
		Short: "Set a new context or modify an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			registry, _ := cmd.Flags().GetString("registry")
			user, _ := cmd.Flags().GetString("user")
			if registry == "" {
				return fmt.Errorf("context %s needs --registry", name)
			}

			TheAppConfig.SetContext(appconfig.Context{Name: name, Registry: registry, User: user})
			if err := persistContexts(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context %s set/updated successfully.\n", name)
			return nil
		},
	}
	contextSetCmd.Flags().String("registry", "", "Registry host, e.g. ghcr.io/acme")
	contextSetCmd.Flags().String("user", "", "Registry username, informational; credentials come from 'imgprep login'")

	var contextUseCmd = &cobra.Command{
		Use:   "use [name]",
		Short: "Switch to a different context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := TheAppConfig.UseContext(args[0]); err != nil {
				return err
			}
			if err := persistContexts(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %s.\n", args[0])
			return nil
		},
	}

	var contextGetCmd = &cobra.Command{
		Use:   "get",
		Short: "Get details of the current context",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, ctx := range TheAppConfig.Contexts {
				if ctx.Name == TheAppConfig.CurrentContext {
					fmt.Fprintf(cmd.OutOrStdout(), "Current context: %s\nRegistry: %s\nUser: %s\n",
						ctx.Name, ctx.Registry, ctx.User)
					return
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No current context set.")
		},
	}

	var contextListCmd = &cobra.Command{
		Use:     "list",
		Short:   "List all available contexts",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, ctx := range TheAppConfig.Contexts {
				status := ""
				if ctx.Name == TheAppConfig.CurrentContext {
					status = "(current)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s %s\n", ctx.Name, ctx.Registry, status)
			}
		},
	}

	var contextDeleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !TheAppConfig.DeleteContext(name) {
				return fmt.Errorf("context %s not found", name)
			}
			if err := persistContexts(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context %s deleted successfully.\n", name)
			return nil
		},
	}

	contextCmd.AddCommand(
		contextSetCmd,
		contextUseCmd,
		contextGetCmd,
		contextListCmd,
		contextDeleteCmd)

	return contextCmd
}
