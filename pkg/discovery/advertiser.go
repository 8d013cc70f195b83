// Package discovery publishes the appliance on the local network via
// DNS-SD so clients can find it without knowing its address.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/thumbsup-team/securenas/internal/logger"
)

// Advertiser errors.
var (
	ErrClosed = errors.New("advertiser is closed")
)

// MDNSServer is the interface for an active mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// SetText replaces the advertised TXT records.
	SetText(txt []string)

	// Shutdown stops the registration.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Status is the advertised lifecycle state of the appliance.
type Status string

// Advertised status values.
const (
	StatusAdvertising Status = "advertising"
	StatusActive      Status = "active"
)

// Config holds advertiser configuration.
type Config struct {
	// ServiceName is the advertised instance name.
	ServiceName string

	// ServiceType is the DNS-SD service type, e.g. "_securenas._tcp".
	ServiceType string

	// Domain is the mDNS domain, almost always "local.".
	Domain string

	// Port is the authentication port clients should connect to.
	Port int

	// Interfaces limits advertising to specific interfaces. Nil means all.
	Interfaces []net.Interface

	// ServerFactory overrides the mDNS backend. Nil selects zeroconf.
	ServerFactory MDNSServerFactory
}

// Advertiser publishes the appliance's presence and current status.
//
// The TXT record carries "status" and "clients" keys so a browsing client
// can tell an idle appliance from a busy one before connecting.
type Advertiser struct {
	config  Config
	factory MDNSServerFactory

	mu      sync.RWMutex
	server  MDNSServer
	status  Status
	clients int
	closed  bool
}

// NewAdvertiser creates an advertiser. It does not register anything
// until Start is called.
func NewAdvertiser(config Config) *Advertiser {
	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}
	return &Advertiser{
		config:  config,
		factory: factory,
	}
}

// Start registers the service with the given status. Starting an already
// started advertiser just updates the TXT record.
func (a *Advertiser) Start(status Status, clients int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	if a.server != nil {
		a.status = status
		a.clients = clients
		a.server.SetText(a.txtRecords())
		return nil
	}

	a.status = status
	a.clients = clients

	server, err := a.factory.Register(
		a.config.ServiceName,
		a.config.ServiceType,
		a.config.Domain,
		a.config.Port,
		a.txtRecords(),
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("mDNS registration failed for %s: %w", a.config.ServiceType, err)
	}

	a.server = server
	logger.Info("Discovery advertising started",
		logger.Service(a.config.ServiceType),
		logger.KeyPort, a.config.Port,
		"status", string(status),
	)
	return nil
}

// Update refreshes the advertised status and client count. A stopped
// advertiser ignores updates.
func (a *Advertiser) Update(status Status, clients int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}

	a.status = status
	a.clients = clients
	a.server.SetText(a.txtRecords())

	logger.Debug("Discovery record updated",
		"status", string(status),
		logger.KeyCount, clients,
	)
}

// Stop withdraws the registration. Stopping a stopped advertiser is a
// no-op.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}

	a.server.Shutdown()
	a.server = nil
	logger.Info("Discovery advertising stopped", logger.Service(a.config.ServiceType))
}

// Close stops advertising and prevents further starts.
func (a *Advertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
}

// IsAdvertising reports whether a registration is currently active.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.server != nil
}

// txtRecords renders the TXT payload. Caller holds a.mu.
func (a *Advertiser) txtRecords() []string {
	return []string{
		fmt.Sprintf("status=%s", a.status),
		fmt.Sprintf("clients=%d", a.clients),
	}
}
