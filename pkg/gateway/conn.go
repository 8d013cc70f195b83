package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/thumbsup-team/securenas/internal/logger"
)

// handleConn authenticates one connection and, if admitted, runs the
// session channel until the client leaves or goes quiet.
func (g *Gateway) handleConn(ctx context.Context, conn net.Conn) {
	defer g.untrackConn(conn)
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return
	}

	remote := conn.RemoteAddr().String()
	host, port, err := splitAddr(remote)
	if err != nil {
		logger.Warn("Unparseable remote address", "remote", remote)
		return
	}

	if g.config.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(g.config.HandshakeTimeout)); err != nil {
			return
		}
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		logger.Debug("TLS handshake failed", logger.ClientIP(host), logger.Err(err))
		return
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return
	}

	identity, err := g.validator.Validate(tlsConn.ConnectionState().PeerCertificates)
	if err != nil {
		// Reject silently: the failure reason is logged here, never
		// sent to the peer.
		logger.Warn("Client certificate rejected",
			logger.ClientIP(host),
			logger.Reason(err.Error()),
		)
		return
	}

	sess, err := g.sink.HandleClientAuthenticated(ctx, identity, host, port)
	if err != nil {
		logger.Warn("Client admission failed",
			logger.ClientIP(host),
			logger.Identity(identity.CommonName),
			logger.Err(err),
		)
		return
	}

	reason := g.serveSession(ctx, tlsConn, sess.ID, identity.CommonName)

	// Report on a fresh context: the connection context is cancelled
	// when the gateway stops, but the grant teardown must still run.
	if err := g.sink.HandleClientDisconnected(context.Background(), sess.ID, reason); err != nil {
		logger.Error("Failed to process disconnect",
			logger.SessionID(sess.ID),
			logger.Err(err),
		)
	}
}

// serveSession runs the post-authentication text channel and returns
// the disconnect reason.
func (g *Gateway) serveSession(ctx context.Context, conn *tls.Conn, sessionID, identity string) string {
	writer := bufio.NewWriter(conn)
	fmt.Fprintf(writer, "WELCOME %s\n", identity)
	fmt.Fprintf(writer, "MOUNT %s:%s\n", g.config.MountHost, g.config.MountPath)
	if err := writer.Flush(); err != nil {
		return "write failed"
	}

	scanner := bufio.NewScanner(conn)
	for {
		if g.config.SessionReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(g.config.SessionReadTimeout)); err != nil {
				return "connection error"
			}
		}

		if !scanner.Scan() {
			err := scanner.Err()
			switch {
			case err == nil:
				return "client closed connection"
			case errors.Is(err, os.ErrDeadlineExceeded):
				return "session idle timeout"
			case ctx.Err() != nil:
				return "gateway stopped"
			case errors.Is(err, net.ErrClosed):
				return "connection closed"
			default:
				return "connection error"
			}
		}

		g.sink.Touch(sessionID)

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToUpper(line) {
		case "":
			continue
		case "PING":
			fmt.Fprintln(writer, "PONG")
		case "QUIT":
			fmt.Fprintln(writer, "BYE")
			writer.Flush()
			return "client quit"
		default:
			// File operations happen over the NFS mount, not here.
			fmt.Fprintf(writer, "ACK: %s - use the share at %s:%s\n",
				line, g.config.MountHost, g.config.MountPath)
		}
		if err := writer.Flush(); err != nil {
			return "write failed"
		}
	}
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}
