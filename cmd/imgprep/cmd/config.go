package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/macvmio/imgprep/pkg/appconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var flagConfigFile string
var flagVerbose bool

var TheAppConfig appconfig.Config

func initConfig() error {
	v := viper.GetViper()
	if err := appconfig.Configure(v, flagConfigFile); err != nil {
		return err
	}
	cfg, err := appconfig.Load(v)
	if err != nil {
		return err
	}
	TheAppConfig = *cfg

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flagVerbose || TheAppConfig.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.WithField("file", v.ConfigFileUsed()).Debug("using config")
	}
	return nil
}

// saveConfig persists viper's settings, creating the default config file
// when none was loaded.
func saveConfig() error {
	v := viper.GetViper()
	if v.ConfigFileUsed() != "" {
		return v.WriteConfig()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not determine home directory: %w", err)
	}
	file := filepath.Join(home, ".imgprep", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	if err := v.WriteConfigAs(file); err != nil {
		return fmt.Errorf("error writing config '%v': %w", file, err)
	}
	return nil
}
