// Package storage controls access to the shared volume.
//
// Two modes exist. With an encrypted block device configured, unlock
// opens the LUKS mapping and mounts it at the storage path; lock
// unmounts and closes the mapping. Without a device, the storage path is
// a plain directory and lock state is tracked in memory only, which is
// the mode used for development and tests.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/thumbsup-team/securenas/internal/execx"
	"github.com/thumbsup-team/securenas/internal/logger"
)

// Controller locks and unlocks the shared volume.
type Controller struct {
	runner     execx.Runner
	path       string
	device     string
	mapperName string

	mu       sync.Mutex
	unlocked bool
}

// NewController creates a storage controller. An empty device selects
// plain-directory mode.
func NewController(runner execx.Runner, path, device, mapperName string) *Controller {
	if mapperName == "" {
		mapperName = "securenas_storage"
	}
	return &Controller{
		runner:     runner,
		path:       path,
		device:     device,
		mapperName: mapperName,
	}
}

// Path returns the storage mount point.
func (c *Controller) Path() string {
	return c.path
}

// IsUnlocked reports whether the volume is currently accessible.
func (c *Controller) IsUnlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocked
}

// Unlock makes the volume accessible. Unlocking an unlocked volume is a
// no-op.
func (c *Controller) Unlock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unlocked {
		return nil
	}

	if c.device == "" {
		if err := c.checkPlainDir(); err != nil {
			return err
		}
		c.unlocked = true
		logger.Info("Storage unlocked", logger.Path(c.path))
		return nil
	}

	if _, err := c.runner.Run(ctx, "cryptsetup", "open", c.device, c.mapperName); err != nil {
		return fmt.Errorf("failed to open encrypted device %s: %w", c.device, err)
	}

	mapperDev := filepath.Join("/dev/mapper", c.mapperName)
	if _, err := c.runner.Run(ctx, "mount", mapperDev, c.path); err != nil {
		// Leave no half-open mapping behind.
		if _, closeErr := c.runner.Run(ctx, "cryptsetup", "close", c.mapperName); closeErr != nil {
			logger.Warn("Failed to close mapping after mount failure",
				logger.Err(closeErr))
		}
		return fmt.Errorf("failed to mount %s at %s: %w", mapperDev, c.path, err)
	}

	c.unlocked = true
	logger.Info("Storage unlocked", logger.Path(c.path), "device", c.device)
	return nil
}

// Lock makes the volume inaccessible. Locking a locked volume is a
// no-op.
func (c *Controller) Lock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.unlocked {
		return nil
	}

	if c.device == "" {
		c.unlocked = false
		logger.Info("Storage locked", logger.Path(c.path))
		return nil
	}

	if _, err := c.runner.Run(ctx, "umount", c.path); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", c.path, err)
	}
	if _, err := c.runner.Run(ctx, "cryptsetup", "close", c.mapperName); err != nil {
		return fmt.Errorf("failed to close encrypted device: %w", err)
	}

	c.unlocked = false
	logger.Info("Storage locked", logger.Path(c.path), "device", c.device)
	return nil
}

func (c *Controller) checkPlainDir() error {
	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("storage path %q not available: %w", c.path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %q is not a directory", c.path)
	}
	return nil
}
