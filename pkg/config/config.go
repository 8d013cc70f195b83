package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/thumbsup-team/securenas/pkg/controlplane/api"
)

// Config represents the SecureNAS appliance configuration.
//
// This structure captures the static configuration of the device:
//   - Logging configuration
//   - Device lifecycle settings (ports, timeouts)
//   - TLS material for the mutual-TLS authentication gate
//   - Discovery (mDNS), firewall, export, and storage controller settings
//   - Metrics and admin API servers
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SECURENAS_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Device contains lifecycle and listener settings
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// TLS contains the certificate material for the authentication gate
	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`

	// Discovery configures mDNS self-announcement
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`

	// Firewall configures the packet filter controller
	Firewall FirewallConfig `mapstructure:"firewall" yaml:"firewall"`

	// Export configures the NFS export controller
	Export ExportConfig `mapstructure:"export" yaml:"export"`

	// Storage configures the backing storage volume
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains admin control-plane API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// DeviceConfig contains device lifecycle and listener settings.
type DeviceConfig struct {
	// Host is the address the authentication listener binds to
	Host string `mapstructure:"host" yaml:"host"`

	// AuthPort is the mutual-TLS authentication port
	AuthPort int `mapstructure:"auth_port" validate:"required,gt=0,lte=65535" yaml:"auth_port"`

	// HandshakeTimeout bounds a stalling TLS handshake
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"required,gt=0" yaml:"handshake_timeout"`

	// InactivityTimeout is the delay after the last session ends before
	// the device returns to dormant
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" validate:"required,gt=0" yaml:"inactivity_timeout"`

	// MonitorInterval is how often the inactivity monitor evaluates its condition
	MonitorInterval time.Duration `mapstructure:"monitor_interval" validate:"required,gt=0" yaml:"monitor_interval"`
}

// TLSConfig contains the certificate material for the authentication gate.
type TLSConfig struct {
	// CertFile is the server certificate (PEM)
	CertFile string `mapstructure:"cert_file" validate:"required" yaml:"cert_file"`

	// KeyFile is the server private key (PEM)
	KeyFile string `mapstructure:"key_file" validate:"required" yaml:"key_file"`

	// ClientCAFile is the trusted issuer for client certificates (PEM)
	ClientCAFile string `mapstructure:"client_ca_file" validate:"required" yaml:"client_ca_file"`

	// RevokedSerials lists certificate serial numbers that are no longer accepted
	RevokedSerials []string `mapstructure:"revoked_serials" yaml:"revoked_serials,omitempty"`
}

// DiscoveryConfig configures mDNS self-announcement.
type DiscoveryConfig struct {
	// Enabled controls whether the device announces itself at all
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServiceName is the mDNS instance name
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// ServiceType is the DNS-SD service type
	ServiceType string `mapstructure:"service_type" yaml:"service_type"`

	// Domain is the mDNS domain
	Domain string `mapstructure:"domain" yaml:"domain"`
}

// FirewallConfig configures the packet filter controller.
type FirewallConfig struct {
	// IptablesPath is the iptables binary (resolved via PATH if bare)
	IptablesPath string `mapstructure:"iptables_path" yaml:"iptables_path"`

	// NFSPort is the port client allow-rules are scoped to
	NFSPort int `mapstructure:"nfs_port" validate:"required,gt=0,lte=65535" yaml:"nfs_port"`
}

// ExportConfig configures the NFS export controller.
type ExportConfig struct {
	// ExportsFile is the exports table the controller owns entries in
	ExportsFile string `mapstructure:"exports_file" validate:"required" yaml:"exports_file"`

	// ExportfsPath is the exportfs binary used to reload the export table
	ExportfsPath string `mapstructure:"exportfs_path" yaml:"exportfs_path"`

	// Options is the per-client export option string
	Options string `mapstructure:"options" yaml:"options"`

	// Watch enables detection of out-of-band edits to the exports file
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// StorageConfig configures the backing storage volume.
type StorageConfig struct {
	// Path is the shared storage directory exported to clients
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Device is the encrypted block device. When empty the controller runs
	// in demo mode and only verifies that Path exists.
	Device string `mapstructure:"device" yaml:"device,omitempty"`

	// MapperName is the device-mapper name used when unlocking Device
	MapperName string `mapstructure:"mapper_name" yaml:"mapper_name,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics server port
	Port int `mapstructure:"port" validate:"omitempty,gt=0,lte=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SECURENAS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Specify a config file:\n"+
				"  securenas <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if ok := isValidationErrors(err, &errs); ok {
			msgs := make([]string, 0, len(errs))
			for _, fe := range errs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q constraint", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

// SaveConfig saves the configuration to the specified file path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the config carries the API token secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SECURENAS_ prefix and underscores.
	// Example: SECURENAS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SECURENAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// getConfigDir returns the default configuration directory.
func getConfigDir() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "securenas")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "securenas")
	}
	return "/etc/securenas"
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
