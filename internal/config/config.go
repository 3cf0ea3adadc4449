// ABOUTME: Receiver configuration loading
// ABOUTME: Merges command line flags, OHRECV_ environment variables and an optional YAML file
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables, e.g. OHRECV_LOG_LEVEL
const EnvPrefix = "OHRECV"

var (
	// ErrSourceRequired is returned when neither a preset nor a URI is given
	ErrSourceRequired = errors.New("one of --preset or --uri is required")

	// ErrSourceConflict is returned when both a preset and a URI are given
	ErrSourceConflict = errors.New("--preset and --uri are mutually exclusive")
)

// Config is the resolved receiver configuration
type Config struct {
	Preset    uint32 `mapstructure:"preset"`
	URI       string `mapstructure:"uri"`
	UsePreset bool   `mapstructure:"-"`

	Output string `mapstructure:"output"`
	Volume int    `mapstructure:"volume"`

	TUI      bool   `mapstructure:"tui"`
	LogLevel string `mapstructure:"log-level"`
	LogFile  string `mapstructure:"log-file"`

	MonitorAddr string `mapstructure:"monitor-addr"`
	Interface   string `mapstructure:"interface"`

	DiscoveryTimeout time.Duration `mapstructure:"discovery-timeout"`
	RequestResend    bool          `mapstructure:"request-resend"`
	RestartOnHalt    bool          `mapstructure:"restart-on-halt"`

	Advertise  bool   `mapstructure:"advertise"`
	Name       string `mapstructure:"name"`
	ArtworkDir string `mapstructure:"artwork-dir"`
}

// Flags defines the receiver's command line flags on a new flag set
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.String("config", "", "YAML configuration file")
	fs.Uint32P("preset", "p", 0, "Preset number to resolve and play")
	fs.StringP("uri", "u", "", "Stream or zone URI (ohz://, ohm:// or ohu://)")
	fs.String("output", "malgo", "Audio output: malgo, oto or null")
	fs.Int("volume", 100, "Initial volume (0-100)")
	fs.Bool("tui", false, "Show the terminal display (logs go to the log file only)")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-file", "ohreceiver.log", "Log file path")
	fs.String("monitor-addr", "", "Serve /metrics and /events on this address (e.g. :9321)")
	fs.String("interface", "", "Network interface for multicast")
	fs.Duration("discovery-timeout", 0, "Give up resolving a preset or zone after this long (0 waits forever)")
	fs.Bool("request-resend", false, "Ask the sender to retransmit missing frames")
	fs.Bool("restart-on-halt", false, "Start a new session when the sender halts")
	fs.Bool("advertise", false, "Advertise this receiver via mDNS")
	fs.String("name", "", "Receiver name for mDNS (default: hostname-ohreceiver)")
	fs.String("artwork-dir", "", "Album art cache directory (default: temp dir)")

	return fs
}

// Load parses args and merges them with the environment and the config
// file. Flags win over the environment, which wins over the file.
func Load(args []string) (*Config, error) {
	fs := Flags("ohreceiver")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags builds a Config from an already parsed flag set
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	hasPreset := v.IsSet("preset")
	hasURI := v.GetString("uri") != ""
	switch {
	case hasPreset && hasURI:
		return nil, ErrSourceConflict
	case !hasPreset && !hasURI:
		return nil, ErrSourceRequired
	}
	cfg.UsePreset = hasPreset

	if cfg.Volume < 0 || cfg.Volume > 100 {
		return nil, fmt.Errorf("volume %d out of range 0-100", cfg.Volume)
	}
	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = fmt.Sprintf("%s-ohreceiver", hostname)
	}

	return &cfg, nil
}
