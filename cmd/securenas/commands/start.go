package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thumbsup-team/securenas/internal/execx"
	"github.com/thumbsup-team/securenas/internal/logger"
	"github.com/thumbsup-team/securenas/pkg/cert"
	"github.com/thumbsup-team/securenas/pkg/config"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api"
	"github.com/thumbsup-team/securenas/pkg/device"
	"github.com/thumbsup-team/securenas/pkg/discovery"
	"github.com/thumbsup-team/securenas/pkg/export"
	"github.com/thumbsup-team/securenas/pkg/firewall"
	"github.com/thumbsup-team/securenas/pkg/gateway"
	"github.com/thumbsup-team/securenas/pkg/metrics"
	prommetrics "github.com/thumbsup-team/securenas/pkg/metrics/prometheus"
	"github.com/thumbsup-team/securenas/pkg/storage"
)

var skipFirewall bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the SecureNAS appliance",
	Long: `Start the appliance: install the base firewall policy, unlock storage,
open the certificate-gated authentication port, and announce the device
over mDNS. The device returns to dormant after the configured inactivity
timeout and can be re-activated over the admin API.

Examples:
  # Start with default config location
  securenas start

  # Start with custom config file
  securenas start --config /etc/securenas/config.yaml

  # Start with environment variable overrides
  SECURENAS_LOGGING_LEVEL=DEBUG securenas start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&skipFirewall, "skip-firewall", false, "Do not install the base firewall policy (development only)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("SecureNAS - certificate-gated file sharing appliance")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics first so the device constructor sees them enabled.
	var deviceMetrics device.Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		deviceMetrics = prommetrics.NewDeviceMetrics()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		logger.Info("Metrics enabled", logger.KeyPort, cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	runner := execx.NewRunner()

	fw := firewall.NewController(runner, cfg.Firewall.IptablesPath, cfg.Firewall.NFSPort)
	if skipFirewall {
		logger.Warn("Base firewall policy skipped, file service port is unprotected")
	} else if err := fw.Initialize(ctx, cfg.Device.AuthPort); err != nil {
		return fmt.Errorf("failed to install base firewall policy: %w", err)
	}

	ex := export.NewController(runner,
		cfg.Export.ExportsFile, cfg.Export.ExportfsPath,
		cfg.Storage.Path, cfg.Export.Options)
	st := storage.NewController(runner, cfg.Storage.Path, cfg.Storage.Device, cfg.Storage.MapperName)

	var announcer device.Announcer = discovery.NewAdvertiser(discovery.Config{
		ServiceName: cfg.Discovery.ServiceName,
		ServiceType: cfg.Discovery.ServiceType,
		Domain:      cfg.Discovery.Domain,
		Port:        cfg.Device.AuthPort,
	})
	if !cfg.Discovery.Enabled {
		announcer = nopAnnouncer{}
		logger.Info("Discovery disabled")
	}

	if err := checkCertFiles(cfg); err != nil {
		return err
	}

	validator, err := cert.NewValidatorFromFile(cfg.TLS.ClientCAFile, cfg.TLS.RevokedSerials)
	if err != nil {
		return fmt.Errorf("failed to load client issuer bundle: %w", err)
	}
	if len(cfg.TLS.RevokedSerials) > 0 {
		logger.Info("Revocation list loaded", logger.KeyCount, len(cfg.TLS.RevokedSerials))
	}

	dev := device.New(device.Config{
		InactivityTimeout: cfg.Device.InactivityTimeout,
	}, fw, ex, st, announcer, deviceMetrics)

	gw := gateway.New(gateway.Config{
		Host:               cfg.Device.Host,
		Port:               cfg.Device.AuthPort,
		CertFile:           cfg.TLS.CertFile,
		KeyFile:            cfg.TLS.KeyFile,
		HandshakeTimeout:   cfg.Device.HandshakeTimeout,
		SessionReadTimeout: cfg.Device.InactivityTimeout,
		MountHost:          mountHost(cfg),
		MountPath:          cfg.Storage.Path,
	}, validator, dev)
	dev.SetListener(gw)

	monitor := device.NewInactivityMonitor(dev, cfg.Device.MonitorInterval)

	apiServer, err := api.NewServer(cfg.API, newDeviceAdapter(dev))
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	logger.Info("API server configured", logger.KeyPort, cfg.API.Port)

	// Bring the device up: the appliance boots straight into advertising.
	if err := dev.Activate(ctx); err != nil {
		return fmt.Errorf("failed to activate device: %w", err)
	}

	serverDone := make(chan error, 4)
	go func() { serverDone <- apiServer.Start(ctx) }()
	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			serverDone <- err
		}
	}()
	if metricsServer != nil {
		go func() { serverDone <- metricsServer.Start(ctx) }()
	}
	if cfg.Export.Watch {
		watcher, err := export.NewWatcher(ex)
		if err != nil {
			logger.Warn("Exports watcher unavailable", logger.Err(err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("Exports watcher stopped", logger.Err(err))
				}
			}()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Appliance is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil && ctx.Err() == nil {
			logger.Error("Server error", logger.Err(err))
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := dev.Shutdown(shutdownCtx); err != nil {
		logger.Error("Device shutdown error", logger.Err(err))
		if runErr == nil {
			runErr = err
		}
	}
	if !skipFirewall {
		if err := fw.Teardown(shutdownCtx); err != nil {
			logger.Warn("Firewall teardown error", logger.Err(err))
		}
	}
	cancel()

	if runErr == nil {
		logger.Info("Appliance stopped gracefully")
	}
	return runErr
}

// checkCertFiles fails fast with every missing PEM file listed, instead
// of erroring on the first one at listener start.
func checkCertFiles(cfg *config.Config) error {
	var missing []string
	for _, f := range []string{cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.ClientCAFile} {
		if _, err := os.Stat(f); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing certificate files: %s", strings.Join(missing, ", "))
	}
	return nil
}

// mountHost is the address clients are told to mount from.
func mountHost(cfg *config.Config) string {
	if cfg.Device.Host != "" {
		return cfg.Device.Host
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "localhost"
}

// nopAnnouncer satisfies device.Announcer when discovery is disabled.
type nopAnnouncer struct{}

func (nopAnnouncer) Start(status discovery.Status, clients int) error { return nil }
func (nopAnnouncer) Update(status discovery.Status, clients int)      {}
func (nopAnnouncer) Stop()                                            {}
func (nopAnnouncer) IsAdvertising() bool                              { return false }
