package cmd

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/docker/cli/cli/config"
	"github.com/docker/cli/cli/config/types"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewCmdAuthLogin stores registry credentials in the docker config, where
// push and pull find them through the default keychain.
func NewCmdAuthLogin() *cobra.Command {
	var opts loginOptions

	eg := `  # Log in to ghcr.io
  imgprep login ghcr.io -u <username> --password-stdin < token.txt`

	cmd := &cobra.Command{
		Use:     "login [OPTIONS] [SERVER]",
		Short:   "Log in to a registry",
		Example: eg,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := TheAppConfig.CurrentRegistry()
			if len(args) == 1 {
				server = args[0]
			}
			if server == "" {
				return errors.New("no registry given and no current context")
			}
			reg, err := name.NewRegistry(server)
			if err != nil {
				return err
			}
			opts.serverAddress = reg.Name()
			return login(cmd.InOrStdin(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.user, "username", "u", "", "Username")
	flags.StringVarP(&opts.password, "password", "p", "", "Password")
	flags.BoolVarP(&opts.passwordStdin, "password-stdin", "", false, "Take the password from stdin")

	return cmd
}

type loginOptions struct {
	serverAddress string
	user          string
	password      string
	passwordStdin bool
}

func readPassword(in io.Reader) (string, error) {
	var b []byte
	var err error
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err = term.ReadPassword(int(f.Fd()))
	} else {
		b, err = io.ReadAll(in)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func login(in io.Reader, opts loginOptions) error {
	if opts.passwordStdin {
		password, err := readPassword(in)
		if err != nil {
			return err
		}
		opts.password = password
	}
	if opts.user == "" || opts.password == "" {
		return errors.New("username and password required")
	}
	cf, err := config.Load(os.Getenv("DOCKER_CONFIG"))
	if err != nil {
		return err
	}
	creds := cf.GetCredentialsStore(opts.serverAddress)
	if opts.serverAddress == name.DefaultRegistry {
		opts.serverAddress = authn.DefaultAuthKey
	}
	if err := creds.Store(types.AuthConfig{
		ServerAddress: opts.serverAddress,
		Username:      opts.user,
		Password:      opts.password,
	}); err != nil {
		return err
	}

	if err := cf.Save(); err != nil {
		return err
	}
	logrus.WithField("file", cf.Filename).Infof("logged in to %s", opts.serverAddress)
	return nil
}

// NewCmdAuthLogout removes stored credentials of a registry.
func NewCmdAuthLogout() *cobra.Command {
	eg := `  # Log out of ghcr.io
  imgprep logout ghcr.io`

	cmd := &cobra.Command{
		Use:     "logout [SERVER]",
		Short:   "Log out of a registry",
		Example: eg,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := name.NewRegistry(args[0])
			if err != nil {
				return err
			}
			serverAddress := reg.Name()

			cf, err := config.Load(os.Getenv("DOCKER_CONFIG"))
			if err != nil {
				return err
			}
			creds := cf.GetCredentialsStore(serverAddress)
			if serverAddress == name.DefaultRegistry {
				serverAddress = authn.DefaultAuthKey
			}
			if err := creds.Erase(serverAddress); err != nil {
				return err
			}

			if err := cf.Save(); err != nil {
				return err
			}
			logrus.WithField("file", cf.Filename).Infof("logged out of %s", serverAddress)
			return nil
		},
	}
	return cmd
}
