// Package gateway runs the mutual-TLS authentication endpoint clients
// connect to before they can reach the file service.
//
// Certificate validation is delegated to a Validator rather than the
// TLS stack's ClientCAs verification so revocation and identity rules
// live in one place. A connection that fails validation is closed
// without any protocol response.
package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/thumbsup-team/securenas/internal/logger"
	"github.com/thumbsup-team/securenas/pkg/cert"
	"github.com/thumbsup-team/securenas/pkg/session"
)

// ErrAlreadyStarted is returned when Start is called on a running
// gateway.
var ErrAlreadyStarted = errors.New("gateway already started")

// Validator validates a presented certificate chain.
type Validator interface {
	Validate(chain []*x509.Certificate) (cert.Identity, error)
}

// DeviceSink receives client lifecycle events from the gateway.
// *device.Device satisfies this.
type DeviceSink interface {
	HandleClientAuthenticated(ctx context.Context, identity cert.Identity, address string, port int) (session.Session, error)
	HandleClientDisconnected(ctx context.Context, sessionID, reason string) error
	Touch(sessionID string)
}

// Config holds gateway settings.
type Config struct {
	// Host is the address to bind, empty for all interfaces.
	Host string

	// Port is the authentication port.
	Port int

	// CertFile and KeyFile are the server TLS keypair.
	CertFile string
	KeyFile  string

	// HandshakeTimeout bounds the TLS handshake.
	HandshakeTimeout time.Duration

	// SessionReadTimeout bounds each read on an established session. A
	// client that goes quiet for longer is disconnected.
	SessionReadTimeout time.Duration

	// MountHost and MountPath are announced to authenticated clients as
	// the NFS mount target.
	MountHost string
	MountPath string

	// TLSConfig overrides the file-based server TLS configuration.
	// Used by tests.
	TLSConfig *tls.Config
}

// Gateway accepts TLS connections, authenticates the client
// certificate, and hands admitted clients to the device.
type Gateway struct {
	config    Config
	validator Validator
	sink      DeviceSink

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	acceptWG sync.WaitGroup
}

// New creates a stopped gateway.
func New(config Config, validator Validator, sink DeviceSink) *Gateway {
	return &Gateway{
		config:    config,
		validator: validator,
		sink:      sink,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting connections. It returns
// once the listener is bound; accepting happens in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listener != nil {
		return ErrAlreadyStarted
	}

	tlsConfig, err := g.serverTLSConfig()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", g.config.Host, g.config.Port)
	listener, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.listener = listener
	g.cancel = cancel

	g.acceptWG.Add(1)
	go g.acceptLoop(runCtx, listener)

	logger.Info("Gateway listening", "addr", listener.Addr().String())
	return nil
}

// Stop closes the listener and every live connection. Connection
// handlers observe the close and report their disconnects on their own
// goroutines; Stop does not wait for them.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	listener := g.listener
	cancel := g.cancel
	g.listener = nil
	g.cancel = nil

	conns := make([]net.Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	if listener == nil {
		return nil
	}

	cancel()
	err := listener.Close()
	for _, c := range conns {
		c.Close()
	}

	g.acceptWG.Wait()
	logger.Info("Gateway stopped")
	return err
}

// CloseClient closes the connection from the given remote address and
// port, if one is open. The device calls this when a reconnecting
// client replaces its previous session, so the stale channel does not
// linger until its read deadline.
func (g *Gateway) CloseClient(address string, port int) {
	target := net.JoinHostPort(address, strconv.Itoa(port))

	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.conns {
		if conn.RemoteAddr().String() == target {
			conn.Close()
		}
	}
}

// Addr returns the bound address, or empty when stopped.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

func (g *Gateway) serverTLSConfig() (*tls.Config, error) {
	if g.config.TLSConfig != nil {
		return g.config.TLSConfig, nil
	}

	keypair, err := tls.LoadX509KeyPair(g.config.CertFile, g.config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server keypair: %w", err)
	}

	// The client certificate is requested at the TLS layer but judged
	// by the validator, so revocation checks apply uniformly.
	return &tls.Config{
		Certificates: []tls.Certificate{keypair},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (g *Gateway) acceptLoop(ctx context.Context, listener net.Listener) {
	defer g.acceptWG.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("Accept failed", logger.Err(err))
			continue
		}

		g.trackConn(conn)
		go g.handleConn(ctx, conn)
	}
}

func (g *Gateway) trackConn(conn net.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn] = struct{}{}
}

func (g *Gateway) untrackConn(conn net.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn)
}
