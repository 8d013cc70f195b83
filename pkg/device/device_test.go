package device_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbsup-team/securenas/pkg/cert"
	"github.com/thumbsup-team/securenas/pkg/device"
	"github.com/thumbsup-team/securenas/pkg/discovery"
)

// opLog records collaborator calls across fakes so ordering can be
// asserted.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeFirewall struct {
	log     *opLog
	mu      sync.Mutex
	granted map[string]bool
	failOn  string
}

func newFakeFirewall(log *opLog) *fakeFirewall {
	return &fakeFirewall{log: log, granted: map[string]bool{}}
}

func (f *fakeFirewall) Grant(ctx context.Context, addr string) error {
	f.log.add("fw.grant " + addr)
	if f.failOn == "grant" {
		return errors.New("iptables failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted[addr] = true
	return nil
}

func (f *fakeFirewall) Revoke(ctx context.Context, addr string) error {
	f.log.add("fw.revoke " + addr)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.granted, addr)
	return nil
}

func (f *fakeFirewall) Reconcile(ctx context.Context) error {
	f.log.add("fw.reconcile")
	return nil
}

func (f *fakeFirewall) has(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted[addr]
}

type fakeExport struct {
	log     *opLog
	mu      sync.Mutex
	granted map[string]bool
	failOn  string
}

func newFakeExport(log *opLog) *fakeExport {
	return &fakeExport{log: log, granted: map[string]bool{}}
}

func (f *fakeExport) Grant(ctx context.Context, addr string) error {
	f.log.add("ex.grant " + addr)
	if f.failOn == "grant" {
		return errors.New("exportfs failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted[addr] = true
	return nil
}

func (f *fakeExport) Revoke(ctx context.Context, addr string) error {
	f.log.add("ex.revoke " + addr)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.granted, addr)
	return nil
}

func (f *fakeExport) Reconcile(ctx context.Context) error {
	f.log.add("ex.reconcile")
	return nil
}

func (f *fakeExport) has(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted[addr]
}

type fakeStorage struct {
	mu       sync.Mutex
	unlocked bool
	failUnlk bool
	failLock bool
}

func (f *fakeStorage) Unlock(ctx context.Context) error {
	if f.failUnlk {
		return errors.New("cryptsetup failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = true
	return nil
}

func (f *fakeStorage) Lock(ctx context.Context) error {
	if f.failLock {
		return errors.New("umount failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = false
	return nil
}

func (f *fakeStorage) IsUnlocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocked
}

type fakeAnnouncer struct {
	mu      sync.Mutex
	running bool
	status  discovery.Status
	clients int
}

func (f *fakeAnnouncer) Start(status discovery.Status, clients int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.status = status
	f.clients = clients
	return nil
}

func (f *fakeAnnouncer) Update(status discovery.Status, clients int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.status = status
	f.clients = clients
}

func (f *fakeAnnouncer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeAnnouncer) IsAdvertising() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeAnnouncer) snapshot() (discovery.Status, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.clients
}

type fakeListener struct {
	mu      sync.Mutex
	running bool
	closed  []string
}

func (f *fakeListener) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeListener) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeListener) CloseClient(address string, port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, fmt.Sprintf("%s:%d", address, port))
}

func (f *fakeListener) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeListener) closedClients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type harness struct {
	device     *device.Device
	firewall   *fakeFirewall
	export     *fakeExport
	storage    *fakeStorage
	advertiser *fakeAnnouncer
	listener   *fakeListener
	log        *opLog
}

func newHarness(t *testing.T, cfg device.Config) *harness {
	t.Helper()

	log := &opLog{}
	h := &harness{
		firewall:   newFakeFirewall(log),
		export:     newFakeExport(log),
		storage:    &fakeStorage{},
		advertiser: &fakeAnnouncer{},
		listener:   &fakeListener{},
		log:        log,
	}
	h.device = device.New(cfg, h.firewall, h.export, h.storage, h.advertiser, nil)
	h.device.SetListener(h.listener)
	return h
}

func identity(cn string) cert.Identity {
	return cert.Identity{CommonName: cn, Serial: "1234"}
}

func TestActivateBringsDeviceUp(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()

	require.Equal(t, device.StateDormant, h.device.State())
	require.NoError(t, h.device.Activate(ctx))

	assert.Equal(t, device.StateAdvertising, h.device.State())
	assert.True(t, h.storage.IsUnlocked())
	assert.True(t, h.listener.isRunning())
	assert.True(t, h.advertiser.IsAdvertising())

	status, clients := h.advertiser.snapshot()
	assert.Equal(t, discovery.StatusAdvertising, status)
	assert.Equal(t, 0, clients)

	// Stale grants from a previous run are swept before anything opens.
	ops := h.log.list()
	require.NotEmpty(t, ops)
	assert.Equal(t, "fw.reconcile", ops[0])
	assert.Equal(t, "ex.reconcile", ops[1])
}

func TestActivateIsIdempotent(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()

	require.NoError(t, h.device.Activate(ctx))
	require.NoError(t, h.device.Activate(ctx))
	assert.Equal(t, device.StateAdvertising, h.device.State())
}

func TestActivateRollsBackOnStorageFailure(t *testing.T) {
	h := newHarness(t, device.Config{})
	h.storage.failUnlk = true

	err := h.device.Activate(context.Background())
	require.Error(t, err)

	assert.Equal(t, device.StateDormant, h.device.State())
	assert.False(t, h.listener.isRunning())
	assert.False(t, h.advertiser.IsAdvertising())
}

func TestAuthenticatedClientGetsPairedGrants(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	s, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)

	assert.Equal(t, device.StateActive, h.device.State())
	assert.Equal(t, 1, h.device.SessionCount())
	assert.True(t, h.firewall.has("192.168.1.10"))
	assert.True(t, h.export.has("192.168.1.10"))
	assert.Equal(t, "alice", s.Identity)

	status, clients := h.advertiser.snapshot()
	assert.Equal(t, discovery.StatusActive, status)
	assert.Equal(t, 1, clients)
}

func TestGrantInstallOrderFirewallFirst(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	_, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)

	ops := h.log.list()
	grantIdx := indexOf(ops, "fw.grant 192.168.1.10")
	exportIdx := indexOf(ops, "ex.grant 192.168.1.10")
	require.GreaterOrEqual(t, grantIdx, 0)
	require.GreaterOrEqual(t, exportIdx, 0)
	assert.Less(t, grantIdx, exportIdx, "firewall rule must precede export entry")
}

func TestExportFailureRollsBackFirewallRule(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	h.export.failOn = "grant"
	_, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.Error(t, err)

	assert.False(t, h.firewall.has("192.168.1.10"), "firewall rule must be rolled back")
	assert.Equal(t, 0, h.device.SessionCount())
	assert.Equal(t, device.StateAdvertising, h.device.State())
}

func TestAuthRejectedWhileDormant(t *testing.T) {
	h := newHarness(t, device.Config{})

	_, err := h.device.HandleClientAuthenticated(context.Background(), identity("alice"), "192.168.1.10", 40001)
	assert.ErrorIs(t, err, device.ErrNotAccepting)
	assert.Equal(t, 0, h.device.SessionCount())
}

func TestDuplicateAddressReplacesSession(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	first, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)

	second, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40002)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, h.device.SessionCount())
	assert.True(t, h.firewall.has("192.168.1.10"))
	assert.True(t, h.export.has("192.168.1.10"))

	// The old grant is fully released before the new one is installed.
	ops := h.log.list()
	releaseIdx := indexOf(ops, "ex.revoke 192.168.1.10")
	reinstallIdx := lastIndexOf(ops, "fw.grant 192.168.1.10")
	assert.Less(t, releaseIdx, reinstallIdx)

	// The evicted client's connection is closed, not left idling.
	assert.Equal(t, []string{"192.168.1.10:40001"}, h.listener.closedClients())
}

func TestReplacementGrantFailureReturnsToAdvertising(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	_, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)

	h.export.failOn = "grant"
	_, err = h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40002)
	require.Error(t, err)

	// The evicted session is gone, so the device must not stay ACTIVE
	// with nobody connected.
	assert.Equal(t, 0, h.device.SessionCount())
	assert.Equal(t, device.StateAdvertising, h.device.State())
	assert.False(t, h.firewall.has("192.168.1.10"))
	assert.False(t, h.export.has("192.168.1.10"))

	status, clients := h.advertiser.snapshot()
	assert.Equal(t, discovery.StatusAdvertising, status)
	assert.Equal(t, 0, clients)

	// A later reconnect succeeds once the export layer recovers.
	h.export.failOn = ""
	_, err = h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40003)
	require.NoError(t, err)
	assert.Equal(t, device.StateActive, h.device.State())
}

func TestLastDisconnectReturnsToAdvertising(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	s1, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)
	s2, err := h.device.HandleClientAuthenticated(ctx, identity("bob"), "192.168.1.11", 40002)
	require.NoError(t, err)

	require.NoError(t, h.device.HandleClientDisconnected(ctx, s1.ID, "client closed"))
	assert.Equal(t, device.StateActive, h.device.State(), "one session remains")
	assert.False(t, h.firewall.has("192.168.1.10"))
	assert.False(t, h.export.has("192.168.1.10"))
	assert.True(t, h.firewall.has("192.168.1.11"))

	require.NoError(t, h.device.HandleClientDisconnected(ctx, s2.ID, "client closed"))
	assert.Equal(t, device.StateAdvertising, h.device.State())
	assert.True(t, h.storage.IsUnlocked(), "storage stays unlocked while advertising")

	status, clients := h.advertiser.snapshot()
	assert.Equal(t, discovery.StatusAdvertising, status)
	assert.Equal(t, 0, clients)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	s, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)

	require.NoError(t, h.device.HandleClientDisconnected(ctx, s.ID, "closed"))
	require.NoError(t, h.device.HandleClientDisconnected(ctx, s.ID, "closed"))
	require.NoError(t, h.device.HandleClientDisconnected(ctx, "unknown", "closed"))

	// Only one revoke pair was issued.
	assert.Equal(t, 1, count(h.log.list(), "fw.revoke 192.168.1.10"))
	assert.Equal(t, 1, count(h.log.list(), "ex.revoke 192.168.1.10"))
}

func TestInactivityReturnsToDormant(t *testing.T) {
	h := newHarness(t, device.Config{InactivityTimeout: 10 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	// Too early: nothing happens.
	require.NoError(t, h.device.CheckInactivity(ctx))
	assert.Equal(t, device.StateAdvertising, h.device.State())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, h.device.CheckInactivity(ctx))

	assert.Equal(t, device.StateDormant, h.device.State())
	assert.False(t, h.advertiser.IsAdvertising())
	assert.False(t, h.listener.isRunning())
	assert.False(t, h.storage.IsUnlocked())
}

func TestInactivityIgnoredWithSessions(t *testing.T) {
	h := newHarness(t, device.Config{InactivityTimeout: time.Nanosecond})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	_, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)

	require.NoError(t, h.device.CheckInactivity(ctx))
	assert.Equal(t, device.StateActive, h.device.State())
}

func TestMonitorTriggersDormancy(t *testing.T) {
	h := newHarness(t, device.Config{InactivityTimeout: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.device.Activate(ctx))

	m := device.NewInactivityMonitor(h.device, 5*time.Millisecond)
	go func() { _ = m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return h.device.State() == device.StateDormant
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownTearsEverythingDown(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	_, err := h.device.HandleClientAuthenticated(ctx, identity("alice"), "192.168.1.10", 40001)
	require.NoError(t, err)
	_, err = h.device.HandleClientAuthenticated(ctx, identity("bob"), "192.168.1.11", 40002)
	require.NoError(t, err)

	require.NoError(t, h.device.Shutdown(ctx))

	assert.Equal(t, 0, h.device.SessionCount())
	assert.False(t, h.firewall.has("192.168.1.10"))
	assert.False(t, h.firewall.has("192.168.1.11"))
	assert.False(t, h.export.has("192.168.1.10"))
	assert.False(t, h.export.has("192.168.1.11"))
	assert.False(t, h.advertiser.IsAdvertising())
	assert.False(t, h.listener.isRunning())
	assert.False(t, h.storage.IsUnlocked())

	// Shutdown is idempotent.
	require.NoError(t, h.device.Shutdown(ctx))
}

func TestShutdownResetsToDormant(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))
	require.NoError(t, h.device.Shutdown(ctx))

	assert.Equal(t, device.StateDormant, h.device.State())

	// The cleanup reset lets an admin bring the device back up.
	require.NoError(t, h.device.Activate(ctx))
	assert.Equal(t, device.StateAdvertising, h.device.State())
	assert.True(t, h.listener.isRunning())
	assert.True(t, h.storage.IsUnlocked())
}

func TestFailedCleanupLeavesShutdown(t *testing.T) {
	h := newHarness(t, device.Config{})
	ctx := context.Background()
	require.NoError(t, h.device.Activate(ctx))

	h.storage.failLock = true
	require.Error(t, h.device.Shutdown(ctx))

	assert.Equal(t, device.StateShutdown, h.device.State())
	assert.ErrorIs(t, h.device.Activate(ctx), device.ErrShuttingDown)

	// Repeated shutdown of a stuck device is a no-op.
	require.NoError(t, h.device.Shutdown(ctx))
}

func TestShutdownFromDormant(t *testing.T) {
	h := newHarness(t, device.Config{})
	require.NoError(t, h.device.Shutdown(context.Background()))
	assert.Equal(t, device.StateDormant, h.device.State())
	assert.False(t, h.storage.IsUnlocked())
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

func lastIndexOf(ops []string, op string) int {
	last := -1
	for i, o := range ops {
		if o == op {
			last = i
		}
	}
	return last
}

func count(ops []string, op string) int {
	var n int
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}
