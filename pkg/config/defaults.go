package config

import (
	"strings"
	"time"
)

// Default values for device lifecycle settings.
const (
	DefaultAuthPort          = 8443
	DefaultNFSPort           = 2049
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultMonitorInterval   = 2 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMetricsPort       = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	applyDeviceDefaults(&cfg.Device)
	applyDiscoveryDefaults(&cfg.Discovery)
	applyFirewallDefaults(&cfg.Firewall)
	applyExportDefaults(&cfg.Export)
	applyStorageDefaults(&cfg.Storage)
	applyMetricsDefaults(&cfg.Metrics)
	cfg.API.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.AuthPort == 0 {
		cfg.AuthPort = DefaultAuthPort
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
}

func applyDiscoveryDefaults(cfg *DiscoveryConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "SecureNAS"
	}
	if cfg.ServiceType == "" {
		cfg.ServiceType = "_securenas._tcp"
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
}

func applyFirewallDefaults(cfg *FirewallConfig) {
	if cfg.IptablesPath == "" {
		cfg.IptablesPath = "iptables"
	}
	if cfg.NFSPort == 0 {
		cfg.NFSPort = DefaultNFSPort
	}
}

func applyExportDefaults(cfg *ExportConfig) {
	if cfg.ExportsFile == "" {
		cfg.ExportsFile = "/etc/exports"
	}
	if cfg.ExportfsPath == "" {
		cfg.ExportfsPath = "exportfs"
	}
	if cfg.Options == "" {
		cfg.Options = "rw,sync,no_subtree_check,no_root_squash,insecure"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Device != "" && cfg.MapperName == "" {
		cfg.MapperName = "securenas_storage"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a configuration populated entirely from defaults.
//
// The result is not valid for serving (TLS material and storage path are
// empty) but is the starting point `securenas init` writes out, and is
// useful for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
