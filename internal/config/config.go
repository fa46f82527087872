// Package config handles the parsing and validation of application
// configuration from command-line arguments and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/woozymasta/spoofspy/internal/logger"
	"github.com/woozymasta/spoofspy/internal/vars"
)

// Query cycle intervals; development deployments poll faster.
const (
	ProdInterval  = 5 * time.Minute
	DebugInterval = 1 * time.Minute
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"SPOOFSPY_DB"`
	Redis     Redis         `group:"Redis Options" namespace:"redis" env-namespace:"SPOOFSPY_REDIS"`
	Directory Directory     `group:"Directory Options" namespace:"steam" env-namespace:"SPOOFSPY_STEAM"`
	Probe     Probe         `group:"Probe Options" namespace:"probe" env-namespace:"SPOOFSPY_PROBE"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"SPOOFSPY_GEOIP"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"SPOOFSPY_LOG"`

	Debug   bool `long:"debug" env:"SPOOFSPY_DEBUG" description:"Development mode: shorter scheduling intervals"`
	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Storage holds database configuration and maintenance flags.
type Storage struct {
	// betteralign:ignore

	Path          string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"spoofspy.db"`
	PruneOlder    time.Duration `long:"prune-older" env:"PRUNE_OLDER" description:"Delete state samples older than duration and exit"`
	GenerateCount int           `long:"gen-fake-data" hidden:"true"`
}

// Redis holds cache store configuration.
type Redis struct {
	URL string `short:"r" long:"url" env:"URL" description:"Redis connection URL" default:"redis://localhost:6379/0"`
}

// Directory holds Steam Web API configuration.
type Directory struct {
	// betteralign:ignore

	APIKey  string        `short:"k" long:"api-key" env:"API_KEY" description:"Steam Web API key"`
	URL     string        `long:"url" env:"URL" description:"GetServerList endpoint override"`
	Timeout time.Duration `long:"timeout" env:"TIMEOUT" description:"Directory request timeout" default:"30s"`
	Rate    float64       `long:"rate" env:"RATE" description:"Directory requests per second" default:"2"`
}

// Probe holds protocol and ICMP probe configuration.
type Probe struct {
	// betteralign:ignore

	Timeout       time.Duration `long:"timeout" env:"TIMEOUT" description:"A2S query timeout" default:"10s"`
	DedupTimeout  time.Duration `long:"dedup-timeout" env:"DEDUP_TIMEOUT" description:"Short A2S timeout for duplicate resolution" default:"5s"`
	BufferSize    uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
	RetryAttempts int           `long:"retry-attempts" env:"RETRY_ATTEMPTS" description:"Attempts per probe on timeout" default:"3"`
	RetryDelay    time.Duration `long:"retry-delay" env:"RETRY_DELAY" description:"Fixed delay between probe attempts" default:"2s"`
	Workers       int           `long:"workers" env:"WORKERS" description:"Probe queue worker count" default:"32"`
}

// GeoIP holds MaxMind GeoIP configuration. Country enrichment is skipped
// entirely when the path is empty.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file (empty disables GeoIP)"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// Interval returns the query cycle interval for the deployment mode.
func (c *Config) Interval() time.Duration {
	if c.Debug {
		return DebugInterval
	}
	return ProdInterval
}

// Maintenance reports whether a run-and-exit maintenance flag is set.
func (c *Config) Maintenance() bool {
	return c.Storage.PruneOlder > 0 || c.Storage.GenerateCount > 0
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the
// help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if cfg.Directory.APIKey == "" && !cfg.Maintenance() {
		fmt.Fprintln(os.Stderr,
			"Required flag `-k, --steam-api-key' or environment variable `SPOOFSPY_STEAM_API_KEY` was not specified!")
		os.Exit(1)
	}

	return &cfg
}
