package storage_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbsup-team/securenas/pkg/storage"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	if f.failOn != "" && strings.HasPrefix(cmd, f.failOn) {
		return "", errors.New("exit status 1")
	}
	return "", nil
}

func (f *fakeRunner) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestPlainModeUnlockAndLock(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	c := storage.NewController(runner, dir, "", "")

	assert.False(t, c.IsUnlocked())
	require.NoError(t, c.Unlock(context.Background()))
	assert.True(t, c.IsUnlocked())

	// No external commands in plain mode.
	assert.Empty(t, runner.calls)

	require.NoError(t, c.Lock(context.Background()))
	assert.False(t, c.IsUnlocked())
}

func TestPlainModeUnlockFailsOnMissingPath(t *testing.T) {
	runner := &fakeRunner{}
	c := storage.NewController(runner, "/no/such/dir", "", "")

	err := c.Unlock(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsUnlocked())
}

func TestEncryptedModeUnlockOpensAndMounts(t *testing.T) {
	runner := &fakeRunner{}
	c := storage.NewController(runner, "/srv/nas", "/dev/sdb1", "nas_crypt")

	require.NoError(t, c.Unlock(context.Background()))
	assert.True(t, c.IsUnlocked())

	assert.Equal(t, 1, runner.callCount("cryptsetup open /dev/sdb1 nas_crypt"))
	assert.Equal(t, 1, runner.callCount("mount /dev/mapper/nas_crypt /srv/nas"))

	// Unlock is idempotent.
	require.NoError(t, c.Unlock(context.Background()))
	assert.Equal(t, 1, runner.callCount("cryptsetup open"))
}

func TestEncryptedModeMountFailureClosesMapping(t *testing.T) {
	runner := &fakeRunner{failOn: "mount"}
	c := storage.NewController(runner, "/srv/nas", "/dev/sdb1", "nas_crypt")

	err := c.Unlock(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsUnlocked())
	assert.Equal(t, 1, runner.callCount("cryptsetup close nas_crypt"))
}

func TestEncryptedModeLockUnmountsAndCloses(t *testing.T) {
	runner := &fakeRunner{}
	c := storage.NewController(runner, "/srv/nas", "/dev/sdb1", "nas_crypt")

	require.NoError(t, c.Unlock(context.Background()))
	require.NoError(t, c.Lock(context.Background()))
	assert.False(t, c.IsUnlocked())

	assert.Equal(t, 1, runner.callCount("umount /srv/nas"))
	assert.Equal(t, 1, runner.callCount("cryptsetup close nas_crypt"))

	// Lock is idempotent.
	require.NoError(t, c.Lock(context.Background()))
	assert.Equal(t, 1, runner.callCount("umount"))
}

func TestEncryptedModeLockFailureKeepsUnlocked(t *testing.T) {
	runner := &fakeRunner{}
	c := storage.NewController(runner, "/srv/nas", "/dev/sdb1", "nas_crypt")
	require.NoError(t, c.Unlock(context.Background()))

	runner.failOn = "umount"
	err := c.Lock(context.Background())
	require.Error(t, err)
	assert.True(t, c.IsUnlocked())
}
