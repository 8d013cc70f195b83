package export_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbsup-team/securenas/pkg/export"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.fail {
		return "", errors.New("exit status 1")
	}
	return "", nil
}

func (f *fakeRunner) reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		if strings.HasSuffix(c, "-ra") {
			n++
		}
	}
	return n
}

func newTestController(t *testing.T) (*export.Controller, *fakeRunner, string, string) {
	t.Helper()

	dir := t.TempDir()
	exportsFile := filepath.Join(dir, "exports")
	storage := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(storage, 0o755))

	runner := &fakeRunner{}
	c := export.NewController(runner, exportsFile, "exportfs", storage, "rw,sync,no_subtree_check")
	return c, runner, exportsFile, storage
}

func readExports(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestGrantWritesEntryAndReloads(t *testing.T) {
	c, runner, exportsFile, storage := newTestController(t)

	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))

	content := readExports(t, exportsFile)
	assert.Contains(t, content, storage+" 192.168.1.10(rw,sync,no_subtree_check)")
	assert.Equal(t, 1, runner.reloads())
	assert.True(t, c.Granted("192.168.1.10"))
}

func TestGrantIsIdempotent(t *testing.T) {
	c, runner, exportsFile, _ := newTestController(t)

	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))
	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))

	assert.Equal(t, 1, runner.reloads())
	assert.Equal(t, 1, strings.Count(readExports(t, exportsFile), "192.168.1.10"))
}

func TestGrantFailsWhenStorageMissing(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	c := export.NewController(runner, filepath.Join(dir, "exports"), "exportfs",
		filepath.Join(dir, "missing"), "rw")

	err := c.Grant(context.Background(), "192.168.1.10")
	require.Error(t, err)
	assert.False(t, c.Granted("192.168.1.10"))
	assert.Empty(t, runner.calls)
}

func TestGrantRollsBackLedgerOnReloadFailure(t *testing.T) {
	c, runner, _, _ := newTestController(t)
	runner.fail = true

	err := c.Grant(context.Background(), "192.168.1.10")
	require.Error(t, err)
	assert.False(t, c.Granted("192.168.1.10"))

	runner.fail = false
	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))
	assert.True(t, c.Granted("192.168.1.10"))
}

func TestRevokeRemovesOnlyThatEntry(t *testing.T) {
	c, _, exportsFile, storage := newTestController(t)

	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))
	require.NoError(t, c.Grant(context.Background(), "192.168.1.11"))
	require.NoError(t, c.Revoke(context.Background(), "192.168.1.10"))

	content := readExports(t, exportsFile)
	assert.NotContains(t, content, "192.168.1.10")
	assert.Contains(t, content, storage+" 192.168.1.11")

	// Revoking again is a no-op.
	require.NoError(t, c.Revoke(context.Background(), "192.168.1.10"))
}

func TestForeignLinesArePreserved(t *testing.T) {
	c, _, exportsFile, _ := newTestController(t)
	foreign := "/srv/other 10.0.0.0/8(ro)\n"
	require.NoError(t, os.WriteFile(exportsFile, []byte(foreign), 0o644))

	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))
	require.NoError(t, c.Revoke(context.Background(), "192.168.1.10"))

	content := readExports(t, exportsFile)
	assert.Contains(t, content, "/srv/other 10.0.0.0/8(ro)")
	assert.NotContains(t, content, "192.168.1.10")
}

func TestReconcileDropsStaleEntries(t *testing.T) {
	c, runner, exportsFile, storage := newTestController(t)

	// Simulate entries left behind by a previous process.
	stale := storage + " 192.168.1.99(rw)\n/srv/other 10.0.0.0/8(ro)\n"
	require.NoError(t, os.WriteFile(exportsFile, []byte(stale), 0o644))

	require.NoError(t, c.Reconcile(context.Background()))

	content := readExports(t, exportsFile)
	assert.NotContains(t, content, "192.168.1.99")
	assert.Contains(t, content, "/srv/other")
	assert.Equal(t, 1, runner.reloads())
}

func TestResyncRestoresDriftedFile(t *testing.T) {
	c, runner, exportsFile, storage := newTestController(t)

	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))
	before := readExports(t, exportsFile)

	// In-sync file is left alone.
	require.NoError(t, c.Resync(context.Background()))
	assert.Equal(t, 1, runner.reloads())

	// Out-of-band edit gets rewritten.
	require.NoError(t, os.WriteFile(exportsFile,
		[]byte(storage+" 192.168.1.99(rw)\n"), 0o644))
	require.NoError(t, c.Resync(context.Background()))

	assert.Equal(t, before, readExports(t, exportsFile))
	assert.Equal(t, 2, runner.reloads())
}

func TestWatcherResyncsAfterEdit(t *testing.T) {
	c, _, exportsFile, storage := newTestController(t)
	require.NoError(t, c.Grant(context.Background(), "192.168.1.10"))
	want := readExports(t, exportsFile)

	w, err := export.NewWatcher(c)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.NoError(t, os.WriteFile(exportsFile,
		[]byte(storage+" 192.168.1.99(rw)\n"), 0o644))

	assert.Eventually(t, func() bool {
		return readExports(t, exportsFile) == want
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
