package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FolderMode selects the folder hierarchy messages are filed under.
type FolderMode string

const (
	// FolderByNetwork files messages as Inbox/Protocol/Network/Address.
	FolderByNetwork FolderMode = "by_network"

	// FolderByAddress files messages as Inbox/Address/Protocol/Network.
	FolderByAddress FolderMode = "by_address"
)

// Label returns the human-readable hierarchy for the mode.
func (m FolderMode) Label() string {
	switch m {
	case FolderByNetwork:
		return "Protocol>Network>Address"
	case FolderByAddress:
		return "Address>Protocol>Network"
	default:
		return string(m)
	}
}

// Valid reports whether m is a known folder mode.
func (m FolderMode) Valid() bool {
	return m == FolderByNetwork || m == FolderByAddress
}

// MinPollInterval is the shortest wait between two sync ticks.
const MinPollInterval = 60 * time.Second

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "MAILCHAIN_IMAP"

// IMAPConfig holds the IMAP server connection settings.
type IMAPConfig struct {
	Server   string `mapstructure:"server" yaml:"server"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password is normally kept in the OS keyring; a value here (or in
	// MAILCHAIN_IMAP_IMAP_PASSWORD) takes precedence.
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// SSL dials with implicit TLS. StartTLS is only used when SSL is off.
	SSL      bool `mapstructure:"ssl" yaml:"ssl"`
	StartTLS bool `mapstructure:"starttls" yaml:"starttls"`
}

// Addr returns the host:port dial address.
func (c IMAPConfig) Addr() string {
	return c.Server + ":" + strconv.Itoa(c.Port)
}

// MailchainConfig holds the Mailchain client API settings and the
// delivery preferences.
type MailchainConfig struct {
	Hostname string `mapstructure:"hostname" yaml:"hostname"`
	Port     int    `mapstructure:"port" yaml:"port"`
	SSL      bool   `mapstructure:"ssl" yaml:"ssl"`

	// Folders is the folder hierarchy, see FolderMode.
	Folders FolderMode `mapstructure:"folders" yaml:"folders"`

	// MainnetToInbox delivers mainnet messages straight to Inbox so mail
	// clients raise new-message alerts for them.
	MainnetToInbox bool `mapstructure:"mainnet_to_inbox" yaml:"mainnet_to_inbox"`

	// IntervalSec is the polling interval in seconds.
	IntervalSec int `mapstructure:"interval" yaml:"interval"`
}

// StoreConfig holds where local state (ledger, log file) is kept.
type StoreConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the top-level connector configuration.
type Config struct {
	IMAP      IMAPConfig      `mapstructure:"imap" yaml:"imap"`
	Mailchain MailchainConfig `mapstructure:"mailchain" yaml:"mailchain"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// PollInterval returns the configured interval, floored at MinPollInterval.
func (c *Config) PollInterval() time.Duration {
	d := time.Duration(c.Mailchain.IntervalSec) * time.Second
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

// APIBaseURL returns the root URL of the Mailchain client API.
func (c *Config) APIBaseURL() string {
	scheme := "http"
	if c.Mailchain.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/api", scheme, c.Mailchain.Hostname, c.Mailchain.Port)
}

// LedgerPath returns the location of the delivery ledger database.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Store.Dir, "ledger.db")
}

// LogPath returns the location of the connector log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Store.Dir, "mailchain_connector_imap.log")
}

// Validate checks that every setting required to run a sync is present.
// The returned error is of KindConfig and lists all problems at once.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.IMAP.Server) == "" {
		problems = append(problems, "imap.server is required")
	}
	if strings.TrimSpace(c.IMAP.Username) == "" {
		problems = append(problems, "imap.username is required")
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("imap.port %d is out of range", c.IMAP.Port))
	}
	if strings.TrimSpace(c.Mailchain.Hostname) == "" {
		problems = append(problems, "mailchain.hostname is required")
	}
	if c.Mailchain.Port <= 0 || c.Mailchain.Port > 65535 {
		problems = append(problems, fmt.Sprintf("mailchain.port %d is out of range", c.Mailchain.Port))
	}
	if !c.Mailchain.Folders.Valid() {
		problems = append(problems, fmt.Sprintf(
			"mailchain.folders %q must be %q or %q",
			c.Mailchain.Folders, FolderByNetwork, FolderByAddress,
		))
	}
	if strings.TrimSpace(c.Store.Dir) == "" {
		problems = append(problems, "store.dir is required")
	}

	if len(problems) == 0 {
		return nil
	}
	return &Error{
		Kind: KindConfig,
		Op:   "validating config",
		Err: fmt.Errorf(
			"invalid or missing config: %s; run `mailchain-connector-imap configure`",
			strings.Join(problems, "; "),
		),
	}
}

// DefaultDir returns the directory holding the connector's state,
// ~/.mailchain_connector/imap.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".mailchain_connector", "imap")
	}
	return filepath.Join(home, ".mailchain_connector", "imap")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// defaultConfig returns a sensible default configuration.
func defaultConfig() *Config {
	return &Config{
		IMAP: IMAPConfig{
			Port: 993,
			SSL:  true,
		},
		Mailchain: MailchainConfig{
			Hostname:    "127.0.0.1",
			Port:        8080,
			Folders:     FolderByNetwork,
			IntervalSec: 300,
		},
		Store: StoreConfig{
			Dir: DefaultDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// newViper returns a viper instance with defaults and environment
// overrides registered for every key.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values and so
	// AutomaticEnv knows every key when unmarshaling.
	d := defaultConfig()
	v.SetDefault("imap.server", "")
	v.SetDefault("imap.port", d.IMAP.Port)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.ssl", d.IMAP.SSL)
	v.SetDefault("imap.starttls", d.IMAP.StartTLS)
	v.SetDefault("mailchain.hostname", d.Mailchain.Hostname)
	v.SetDefault("mailchain.port", d.Mailchain.Port)
	v.SetDefault("mailchain.ssl", d.Mailchain.SSL)
	v.SetDefault("mailchain.folders", string(d.Mailchain.Folders))
	v.SetDefault("mailchain.mainnet_to_inbox", d.Mailchain.MainnetToInbox)
	v.SetDefault("mailchain.interval", d.Mailchain.IntervalSec)
	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, the defaults (plus environment overrides)
// are returned; Validate reports what still has to be configured.
func LoadConfig(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{
				Kind: KindConfig,
				Op:   "reading config",
				Err:  fmt.Errorf("%s: %w", path, err),
			}
		}
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &Error{
			Kind: KindConfig,
			Op:   "parsing config",
			Err:  fmt.Errorf("%s: %w", path, err),
		}
	}
	cfg.Mailchain.Folders = FolderMode(strings.ToLower(string(cfg.Mailchain.Folders)))

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The IMAP password is never
// written; it belongs in the keyring.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap.server", cfg.IMAP.Server)
	v.Set("imap.port", cfg.IMAP.Port)
	v.Set("imap.username", cfg.IMAP.Username)
	v.Set("imap.ssl", cfg.IMAP.SSL)
	v.Set("imap.starttls", cfg.IMAP.StartTLS)
	v.Set("mailchain.hostname", cfg.Mailchain.Hostname)
	v.Set("mailchain.port", cfg.Mailchain.Port)
	v.Set("mailchain.ssl", cfg.Mailchain.SSL)
	v.Set("mailchain.folders", string(cfg.Mailchain.Folders))
	v.Set("mailchain.mainnet_to_inbox", cfg.Mailchain.MainnetToInbox)
	v.Set("mailchain.interval", cfg.Mailchain.IntervalSec)
	v.Set("store.dir", cfg.Store.Dir)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
