// Package device implements the appliance lifecycle.
//
// The Device owns the lifecycle state and serializes every event under
// one mutex. State changes are computed by a pure transition function;
// the Device then executes the returned effects against its
// collaborators (firewall, exports, storage, discovery, gateway).
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thumbsup-team/securenas/internal/logger"
	"github.com/thumbsup-team/securenas/pkg/cert"
	"github.com/thumbsup-team/securenas/pkg/discovery"
	"github.com/thumbsup-team/securenas/pkg/session"
)

// ErrShuttingDown is returned for operations requested while the device
// is stuck in SHUTDOWN after a failed cleanup.
var ErrShuttingDown = errors.New("device is shutting down")

// FirewallController is the packet filter surface the device drives.
type FirewallController interface {
	Grant(ctx context.Context, address string) error
	Revoke(ctx context.Context, address string) error
	Reconcile(ctx context.Context) error
}

// ExportController is the file export surface the device drives.
type ExportController interface {
	Grant(ctx context.Context, address string) error
	Revoke(ctx context.Context, address string) error
	Reconcile(ctx context.Context) error
}

// StorageController locks and unlocks the shared volume.
type StorageController interface {
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	IsUnlocked() bool
}

// Announcer publishes and withdraws the discovery record.
type Announcer interface {
	Start(status discovery.Status, clients int) error
	Update(status discovery.Status, clients int)
	Stop()
	IsAdvertising() bool
}

// Listener is the client-facing gateway the device starts and stops.
// CloseClient closes the connection behind an evicted session so a
// replaced client does not keep a live channel with no access behind it.
type Listener interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	CloseClient(address string, port int)
}

// Metrics receives lifecycle observations. Implementations must be safe
// for concurrent use.
type Metrics interface {
	SetState(state string)
	ObserveTransition(from, to, event string)
	ObserveAuth(outcome string)
	SetSessions(count int)
	ObserveGrantFailure(stage string)
}

type nopMetrics struct{}

func (nopMetrics) SetState(string)                  {}
func (nopMetrics) ObserveTransition(_, _, _ string) {}
func (nopMetrics) ObserveAuth(string)               {}
func (nopMetrics) SetSessions(int)                  {}
func (nopMetrics) ObserveGrantFailure(string)       {}

// Config holds device tunables.
type Config struct {
	// InactivityTimeout returns the device to DORMANT after this long
	// without sessions while ADVERTISING. Zero disables the timeout.
	InactivityTimeout time.Duration
}

// Device is the lifecycle orchestrator.
type Device struct {
	config     Config
	firewall   FirewallController
	export     ExportController
	storage    StorageController
	advertiser Announcer
	metrics    Metrics

	mu        sync.Mutex
	state     State
	listener  Listener
	registry  *session.Registry
	grants    map[string]*accessGrant
	idleSince time.Time
}

// New creates a dormant device. The gateway listener is attached
// separately with SetListener because the gateway needs the device as
// its event sink.
func New(config Config, fw FirewallController, ex ExportController, st StorageController, adv Announcer, m Metrics) *Device {
	if m == nil {
		m = nopMetrics{}
	}
	return &Device{
		config:     config,
		firewall:   fw,
		export:     ex,
		storage:    st,
		advertiser: adv,
		metrics:    m,
		state:      StateDormant,
		registry:   session.NewRegistry(),
		grants:     make(map[string]*accessGrant),
	}
}

// SetListener attaches the client gateway. Must be called before
// Activate.
func (d *Device) SetListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = l
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Sessions returns the live sessions ordered by connection time.
func (d *Device) Sessions() []session.Session {
	return d.registry.List()
}

// SessionCount returns the number of live sessions.
func (d *Device) SessionCount() int {
	return d.registry.Count()
}

// StorageUnlocked reports whether the shared volume is accessible.
func (d *Device) StorageUnlocked() bool {
	return d.storage.IsUnlocked()
}

// Advertising reports whether the discovery record is published.
func (d *Device) Advertising() bool {
	return d.advertiser.IsAdvertising()
}

// Activate brings a dormant device up: stale grants are swept, storage
// is unlocked, the gateway starts listening, and discovery begins.
// Activating an already active or advertising device is a no-op.
func (d *Device) Activate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateAdvertising, StateActive:
		return nil
	case StateShutdown:
		return ErrShuttingDown
	}

	next, effects, err := transition(d.state, EventActivate, 0)
	if err != nil {
		return err
	}

	if err := d.runEffects(ctx, effects); err != nil {
		// Roll the partial bring-up back so DORMANT means fully down.
		d.compensateActivate(ctx)
		return fmt.Errorf("activation failed: %w", err)
	}

	d.setState(next, EventActivate)
	d.idleSince = time.Now()
	return nil
}

// HandleClientAuthenticated admits an authenticated client: a session is
// registered and the paired firewall and export grants are installed. A
// second connection from the same address replaces the first; the old
// session's grants are released before the new ones are installed.
//
// The returned session is the caller's handle for Touch and disconnect.
func (d *Device) HandleClientAuthenticated(ctx context.Context, identity cert.Identity, address string, port int) (session.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateAdvertising && d.state != StateActive {
		d.metrics.ObserveAuth("rejected")
		return session.Session{}, fmt.Errorf("%w: state %s", ErrNotAccepting, d.state)
	}

	evicted := false
	if old, ok := d.registry.FindByAddress(address); ok {
		logger.Info("Replacing existing session for address",
			logger.ClientIP(address),
			logger.SessionID(old.ID),
		)
		d.dropSessionLocked(ctx, old.ID, "replaced by new connection")
		if d.listener != nil {
			d.listener.CloseClient(old.Address, old.Port)
		}
		evicted = true
	}

	grant, err := installGrant(ctx, d.firewall, d.export, address)
	if err != nil {
		d.metrics.ObserveAuth("grant_failed")
		d.metrics.ObserveGrantFailure("install")
		if evicted {
			d.settleAfterEvictionLocked(ctx)
		}
		return session.Session{}, err
	}

	s := session.NewSession(identity.CommonName, address, port, identity.Serial)
	d.registry.Add(s)
	d.grants[s.ID] = grant

	next, effects, err := transition(d.state, EventClientAuthenticated, d.registry.Count())
	if err != nil {
		// Cannot happen given the state check above; keep the grant
		// from leaking if it ever does.
		d.dropSessionLocked(ctx, s.ID, "transition rejected")
		if evicted {
			d.settleAfterEvictionLocked(ctx)
		}
		return session.Session{}, err
	}

	if err := d.runEffects(ctx, effects); err != nil {
		logger.Warn("Post-admission effect failed", logger.Err(err))
	}
	d.setState(next, EventClientAuthenticated)
	d.metrics.ObserveAuth("accepted")
	d.metrics.SetSessions(d.registry.Count())

	logger.Info("Client session established",
		logger.SessionID(s.ID),
		logger.Identity(s.Identity),
		logger.ClientIP(address),
	)
	return s, nil
}

// HandleClientDisconnected removes the session and releases its grants.
// Unknown session IDs are ignored; disconnect is idempotent.
func (d *Device) HandleClientDisconnected(ctx context.Context, sessionID, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.registry.Get(sessionID); !ok {
		return nil
	}

	d.dropSessionLocked(ctx, sessionID, reason)

	remaining := d.registry.Count()
	next, effects, err := transition(d.state, EventClientDisconnected, remaining)
	if err != nil {
		// Disconnects can race shutdown; the grant release above is
		// what matters.
		return nil
	}

	if next == StateAdvertising && d.state == StateActive {
		d.idleSince = time.Now()
	}
	if err := d.runEffects(ctx, effects); err != nil {
		logger.Warn("Post-disconnect effect failed", logger.Err(err))
	}
	d.setState(next, EventClientDisconnected)
	d.metrics.SetSessions(remaining)
	return nil
}

// Touch records client activity for the session.
func (d *Device) Touch(sessionID string) {
	d.registry.Touch(sessionID)
}

// CheckInactivity returns the device to DORMANT when it has been
// ADVERTISING without sessions for longer than the configured timeout.
// Called periodically by the inactivity monitor.
func (d *Device) CheckInactivity(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config.InactivityTimeout <= 0 {
		return nil
	}
	if d.state != StateAdvertising || d.registry.Count() > 0 {
		return nil
	}
	if time.Since(d.idleSince) < d.config.InactivityTimeout {
		return nil
	}

	logger.Info("Inactivity timeout reached, returning to dormant",
		"idle", time.Since(d.idleSince).Round(time.Second).String(),
	)

	next, effects, err := transition(d.state, EventInactivityTimeout, 0)
	if err != nil {
		return err
	}
	if err := d.runEffects(ctx, effects); err != nil {
		logger.Error("Failed to wind down after inactivity", logger.Err(err))
	}
	d.setState(next, EventInactivityTimeout)
	return nil
}

// Shutdown tears everything down: all sessions are dropped with their
// grants, discovery stops, the gateway stops, and storage locks. Once
// cleanup completes the device resets to DORMANT and can be activated
// again. A failed cleanup leaves the device in SHUTDOWN. Shutdown is
// idempotent.
func (d *Device) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateShutdown {
		return nil
	}

	next, effects, err := transition(d.state, EventShutdown, 0)
	if err != nil {
		return err
	}

	if err := d.runEffects(ctx, effects); err != nil {
		// Stay in SHUTDOWN: cleanup did not finish, so the device must
		// not present itself as safely dormant.
		logger.Error("Shutdown effect failed", logger.Err(err))
		d.setState(next, EventShutdown)
		d.metrics.SetSessions(0)
		return err
	}
	d.setState(next, EventShutdown)
	d.metrics.SetSessions(0)

	// Cleanup runs synchronously under the mutex, so the reset fires
	// before anyone can observe SHUTDOWN.
	next, _, err = transition(d.state, EventCleanupComplete, 0)
	if err != nil {
		return err
	}
	d.setState(next, EventCleanupComplete)
	return nil
}

// settleAfterEvictionLocked realigns state with the registry when an
// admission evicted an old session and then failed. Without this the
// device could sit in ACTIVE with zero sessions, which neither the
// disconnect path (the evicted ID is already gone) nor the inactivity
// monitor (it only acts while ADVERTISING) can recover from. Caller
// holds d.mu.
func (d *Device) settleAfterEvictionLocked(ctx context.Context) {
	remaining := d.registry.Count()
	next, effects, err := transition(d.state, EventClientDisconnected, remaining)
	if err != nil {
		return
	}

	if next == StateAdvertising && d.state == StateActive {
		d.idleSince = time.Now()
	}
	if err := d.runEffects(ctx, effects); err != nil {
		logger.Warn("Post-eviction effect failed", logger.Err(err))
	}
	d.setState(next, EventClientDisconnected)
	d.metrics.SetSessions(remaining)
}

// dropSessionLocked removes one session and releases its grants. Caller
// holds d.mu.
func (d *Device) dropSessionLocked(ctx context.Context, sessionID, reason string) {
	s, ok := d.registry.Remove(sessionID)
	if !ok {
		return
	}

	if grant, ok := d.grants[sessionID]; ok {
		delete(d.grants, sessionID)
		if err := grant.release(ctx); err != nil {
			d.metrics.ObserveGrantFailure("release")
			logger.Error("Failed to release access grant",
				logger.SessionID(sessionID),
				logger.ClientIP(s.Address),
				logger.Err(err),
			)
		}
	}

	logger.Info("Client session closed",
		logger.SessionID(sessionID),
		logger.Identity(s.Identity),
		logger.ClientIP(s.Address),
		logger.Reason(reason),
	)
}

// runEffects executes transition effects in order, stopping at the first
// failure. Caller holds d.mu.
func (d *Device) runEffects(ctx context.Context, effects []Effect) error {
	for _, ef := range effects {
		if err := d.runEffect(ctx, ef); err != nil {
			return fmt.Errorf("effect %s: %w", ef, err)
		}
	}
	return nil
}

func (d *Device) runEffect(ctx context.Context, ef Effect) error {
	logger.Debug("Executing effect", logger.KeyEffect, ef.String())

	switch ef {
	case EffectReconcileGrants:
		if err := d.firewall.Reconcile(ctx); err != nil {
			return err
		}
		return d.export.Reconcile(ctx)

	case EffectUnlockStorage:
		return d.storage.Unlock(ctx)

	case EffectStartGateway:
		if d.listener == nil {
			return errors.New("no gateway listener attached")
		}
		return d.listener.Start(ctx)

	case EffectStartAdvertising:
		return d.advertiser.Start(d.advertisedStatus(), d.registry.Count())

	case EffectUpdateAdvertisement:
		d.advertiser.Update(d.advertisedStatus(), d.registry.Count())
		return nil

	case EffectRevokeAllGrants:
		for _, s := range d.registry.List() {
			d.dropSessionLocked(ctx, s.ID, "device shutdown")
		}
		return nil

	case EffectStopAdvertising:
		d.advertiser.Stop()
		return nil

	case EffectStopGateway:
		if d.listener == nil {
			return nil
		}
		return d.listener.Stop(ctx)

	case EffectLockStorage:
		return d.storage.Lock(ctx)

	default:
		return fmt.Errorf("unknown effect %d", int(ef))
	}
}

// advertisedStatus maps the pending session count to the TXT status. The
// device may not have committed its state yet when this runs, so the
// count is the source of truth.
func (d *Device) advertisedStatus() discovery.Status {
	if d.registry.Count() > 0 {
		return discovery.StatusActive
	}
	return discovery.StatusAdvertising
}

// compensateActivate unwinds a partial activation. Caller holds d.mu.
func (d *Device) compensateActivate(ctx context.Context) {
	d.advertiser.Stop()
	if d.listener != nil {
		if err := d.listener.Stop(ctx); err != nil {
			logger.Warn("Failed to stop gateway during rollback", logger.Err(err))
		}
	}
	if err := d.storage.Lock(ctx); err != nil {
		logger.Warn("Failed to relock storage during rollback", logger.Err(err))
	}
}

// setState commits a transition. Caller holds d.mu.
func (d *Device) setState(next State, e Event) {
	if next == d.state {
		return
	}

	logger.Info("State transition",
		logger.KeyFromState, d.state.String(),
		logger.KeyToState, next.String(),
		logger.KeyEvent, e.String(),
	)
	d.metrics.ObserveTransition(d.state.String(), next.String(), e.String())
	d.state = next
	d.metrics.SetState(next.String())
}
