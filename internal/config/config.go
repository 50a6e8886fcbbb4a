// Package config provides configuration management for the Coralite
// development server using Viper for flexible configuration loading from
// files, environment variables, and command-line flags.
//
// Values are read from .coralite.yml (or the file named by --config or
// CORALITE_CONFIG_FILE), overridden by CORALITE_<SECTION>_<OPTION>
// environment variables and finally by flags. Load applies defaults and
// validates the result.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration of one server process.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server" mapstructure:"server"`
	Watch  WatchConfig  `yaml:"watch" json:"watch" mapstructure:"watch"`
	HTML   HTMLConfig   `yaml:"html" json:"html" mapstructure:"html"`
	CSS    CSSConfig    `yaml:"css" json:"css" mapstructure:"css"`
	Serve  ServeConfig  `yaml:"serve" json:"serve" mapstructure:"serve"`
	Copy   []CopyConfig `yaml:"copy" json:"copy" mapstructure:"copy"`
	Client ClientConfig `yaml:"client" json:"client" mapstructure:"client"`
	Log    LogConfig    `yaml:"log" json:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" json:"port" mapstructure:"port"`
	Host            string        `yaml:"host" json:"host" mapstructure:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type WatchConfig struct {
	Paths    []string      `yaml:"paths" json:"paths" mapstructure:"paths"`
	Debounce time.Duration `yaml:"debounce" json:"debounce" mapstructure:"debounce"`
}

// HTMLConfig configures the HTML build target.
type HTMLConfig struct {
	Pages     string `yaml:"pages" json:"pages" mapstructure:"pages"`
	Templates string `yaml:"templates" json:"templates" mapstructure:"templates"`
	Output    string `yaml:"output" json:"output" mapstructure:"output"`
	Command   string `yaml:"command" json:"command" mapstructure:"command"`
}

// CSSConfig configures the CSS build target.
type CSSConfig struct {
	Filename string `yaml:"filename" json:"filename" mapstructure:"filename"`
	Input    string `yaml:"input" json:"input" mapstructure:"input"`
	Output   string `yaml:"output" json:"output" mapstructure:"output"`
	Command  string `yaml:"command" json:"command" mapstructure:"command"`
}

// ServeConfig describes the two served roots and the push endpoint.
type ServeConfig struct {
	AssetsRoot   string      `yaml:"assets_root" json:"assets_root" mapstructure:"assets_root"`
	AssetsPrefix string      `yaml:"assets_prefix" json:"assets_prefix" mapstructure:"assets_prefix"`
	PagesRoot    string      `yaml:"pages_root" json:"pages_root" mapstructure:"pages_root"`
	RebuildPath  string      `yaml:"rebuild_path" json:"rebuild_path" mapstructure:"rebuild_path"`
	AssetsCache  CacheConfig `yaml:"assets_cache" json:"assets_cache" mapstructure:"assets_cache"`
	PagesCache   CacheConfig `yaml:"pages_cache" json:"pages_cache" mapstructure:"pages_cache"`
}

// CacheConfig bounds the resident part of a static cache.
type CacheConfig struct {
	MaxFileCount int   `yaml:"max_file_count" json:"max_file_count" mapstructure:"max_file_count"`
	MaxFileSize  int64 `yaml:"max_file_size" json:"max_file_size" mapstructure:"max_file_size"`
}

// CopyConfig is one one-shot directory copy performed at startup.
type CopyConfig struct {
	From string `yaml:"from" json:"from" mapstructure:"from"`
	To   string `yaml:"to" json:"to" mapstructure:"to"`
}

type ClientConfig struct {
	Inject bool `yaml:"inject" json:"inject" mapstructure:"inject"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"`
}

// Defaults.
const (
	DefaultPort         = 3000
	DefaultHost         = "localhost"
	DefaultRebuildPath  = "/_/rebuild"
	DefaultAssetsPrefix = "/assets"
	DefaultMaxFileCount = 250
	// 10 MB for public assets, 1 MB for built pages.
	DefaultAssetsMaxFileSize = 10_000_000
	DefaultPagesMaxFileSize  = 1024 * 1024
)

// ClientPath is where the reload client script is served.
const ClientPath = "/_/client.js"

// Default returns a configuration matching the conventional project layout:
// sources under src/ and assets/, output under dist/, public files under public/.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			Host:            DefaultHost,
			ShutdownTimeout: 5 * time.Second,
		},
		Watch: WatchConfig{
			Paths:    []string{"./src", "./assets"},
			Debounce: 50 * time.Millisecond,
		},
		HTML: HTMLConfig{
			Pages:     "src/pages",
			Templates: "src/templates",
			Output:    "dist",
			Command:   "npx coralite --templates {templates} --pages {pages} --output {output}",
		},
		CSS: CSSConfig{
			Filename: "styles.css",
			Input:    "assets/css",
			Output:   "dist/css",
			Command:  "npx postcss {input}/{filename} --output {output}/{filename}",
		},
		Serve: ServeConfig{
			AssetsRoot:   "public",
			AssetsPrefix: DefaultAssetsPrefix,
			PagesRoot:    "dist",
			RebuildPath:  DefaultRebuildPath,
			AssetsCache: CacheConfig{
				MaxFileCount: DefaultMaxFileCount,
				MaxFileSize:  DefaultAssetsMaxFileSize,
			},
			PagesCache: CacheConfig{
				MaxFileCount: DefaultMaxFileCount,
				MaxFileSize:  DefaultPagesMaxFileSize,
			},
		},
		Copy: []CopyConfig{
			{From: "public", To: "dist/assets"},
			{From: "assets", To: "dist/assets"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration from viper, fills unset values from Default
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	config := Default()
	defaults := Default()

	// mapstructure merges into existing slices element by element, so slices
	// start empty and get their defaults afterwards.
	config.Watch.Paths = nil
	config.Copy = nil

	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	// Slices from env vars arrive as a single space separated string.
	if v.IsSet("watch.paths") && len(config.Watch.Paths) == 0 {
		config.Watch.Paths = v.GetStringSlice("watch.paths")
	}
	if len(config.Watch.Paths) == 0 {
		config.Watch.Paths = defaults.Watch.Paths
	}
	if !v.IsSet("copy") {
		config.Copy = defaults.Copy
	}

	if config.Server.Host == "" {
		config.Server.Host = defaults.Server.Host
	}
	if config.Server.ShutdownTimeout <= 0 {
		config.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if config.Serve.RebuildPath == "" {
		config.Serve.RebuildPath = defaults.Serve.RebuildPath
	}
	if config.Serve.AssetsPrefix == "" {
		config.Serve.AssetsPrefix = defaults.Serve.AssetsPrefix
	}
	if config.Log.Level == "" {
		config.Log.Level = defaults.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = defaults.Log.Format
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
