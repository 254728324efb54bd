// Package appconfig holds the settings read from ~/.imgprep/config.yaml,
// IMGPREP_* environment variables and command flags.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/macvmio/imgprep/pkg/autoexpand"
	"github.com/macvmio/imgprep/pkg/scrub"
	"github.com/spf13/viper"
)

const EnvPrefix = "IMGPREP"

// Context is a named registry destination for push and pull.
type Context struct {
	Name     string `mapstructure:"name"`
	Registry string `mapstructure:"registry"`
	User     string `mapstructure:"user"`
}

type Shrink struct {
	MaxPasses   int   `mapstructure:"max_passes"`
	ExtraBlocks int64 `mapstructure:"extra_blocks"`
}

type AutoExpand struct {
	Enabled      bool   `mapstructure:"enabled"`
	CmdlineParam string `mapstructure:"cmdline_param"`
}

type Scrub struct {
	SystemPatterns []string `mapstructure:"system_patterns"`
	UserPatterns   []string `mapstructure:"user_patterns"`
}

type Config struct {
	OutputDirectory  string     `mapstructure:"output_directory"`
	CacheDirectory   string     `mapstructure:"cache_directory"`
	Verbose          bool       `mapstructure:"verbose"`
	CompressionLevel int        `mapstructure:"compression_level"`
	Shrink           Shrink     `mapstructure:"shrink"`
	AutoExpand       AutoExpand `mapstructure:"autoexpand"`
	Scrub            Scrub      `mapstructure:"scrub"`
	ZeroFreeBlocks   bool       `mapstructure:"zero_free_blocks"`
	SegmentSize      int64      `mapstructure:"segment_size"`
	Workers          int        `mapstructure:"workers"`
	Contexts         []Context  `mapstructure:"contexts"`
	CurrentContext   string     `mapstructure:"current_context"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output_directory", ".")
	v.SetDefault("cache_directory", "")
	v.SetDefault("verbose", false)
	v.SetDefault("compression_level", 3)
	v.SetDefault("shrink.max_passes", 10)
	v.SetDefault("shrink.extra_blocks", 0)
	v.SetDefault("autoexpand.enabled", true)
	v.SetDefault("autoexpand.cmdline_param", autoexpand.DefaultParam)
	v.SetDefault("scrub.system_patterns", scrub.DefaultSystemPatterns)
	v.SetDefault("scrub.user_patterns", scrub.DefaultUserPatterns)
	v.SetDefault("zero_free_blocks", true)
	v.SetDefault("segment_size", 512*1024*1024)
	v.SetDefault("workers", 8)
}

// Configure points v at the config file and environment. An empty file
// searches $HOME/.imgprep and the working directory for config.yaml.
func Configure(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not determine home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".imgprep"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return nil
}

// Load reads the configured file, if any, and decodes every key. A config
// file that cannot be found by search is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config '%v': %w", v.ConfigFileUsed(), err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("error unmarshalling config '%v': %w", v.ConfigFileUsed(), err)
	}
	return &c, nil
}

func (c *Config) ScrubPatterns() scrub.Patterns {
	return scrub.Patterns{System: c.Scrub.SystemPatterns, User: c.Scrub.UserPatterns}
}

func (c *Config) findCurrentContext() (*Context, error) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == c.CurrentContext {
			return &c.Contexts[i], nil
		}
	}
	return nil, fmt.Errorf("could not find current context %q", c.CurrentContext)
}

// SetContext adds ctx or replaces the context of the same name.
func (c *Config) SetContext(ctx Context) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == ctx.Name {
			c.Contexts[i] = ctx
			return
		}
	}
	c.Contexts = append(c.Contexts, ctx)
}

// DeleteContext removes the named context and reports whether it existed.
// Deleting the current context unsets it.
func (c *Config) DeleteContext(name string) bool {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			c.Contexts = append(c.Contexts[:i], c.Contexts[i+1:]...)
			if c.CurrentContext == name {
				c.CurrentContext = ""
			}
			return true
		}
	}
	return false
}

// UseContext makes the named context current.
func (c *Config) UseContext(name string) error {
	for _, ctx := range c.Contexts {
		if ctx.Name == name {
			c.CurrentContext = name
			return nil
		}
	}
	return fmt.Errorf("context %q not found", name)
}

// hasRegistry reports whether the first path component of ref names a
// registry host rather than a repository namespace.
func hasRegistry(ref string) bool {
	host, _, found := strings.Cut(ref, "/")
	if !found {
		return false
	}
	return strings.ContainsAny(host, ".:") || host == "localhost"
}

// Override takes a reference and prepends the registry from the current
// context unless the reference already names a registry.
func (c *Config) Override(ref string) string {
	currentContext, err := c.findCurrentContext()
	if err != nil || currentContext.Registry == "" || hasRegistry(ref) {
		return ref
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(currentContext.Registry, "/"), ref)
}

func (c *Config) CurrentRegistry() string {
	currentContext, err := c.findCurrentContext()
	if err != nil {
		return ""
	}
	return currentContext.Registry
}
