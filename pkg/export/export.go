// Package export manages per-client NFS export entries.
//
// The controller owns every exports line that references its storage
// path; lines for other paths are preserved untouched. After each file
// rewrite the export table is reloaded with exportfs. An optional
// fsnotify watcher detects out-of-band edits and restores the
// controller's view of the file.
package export

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/thumbsup-team/securenas/internal/execx"
	"github.com/thumbsup-team/securenas/internal/logger"
)

// Controller maintains the exports file and reloads the kernel export
// table after each change.
type Controller struct {
	runner       execx.Runner
	exportsFile  string
	exportfsPath string
	storagePath  string
	options      string

	mu      sync.Mutex
	granted map[string]struct{}
}

// NewController creates an export controller for one storage path.
// exportfsPath defaults to "exportfs" when empty.
func NewController(runner execx.Runner, exportsFile, exportfsPath, storagePath, options string) *Controller {
	if exportfsPath == "" {
		exportfsPath = "exportfs"
	}
	return &Controller{
		runner:       runner,
		exportsFile:  exportsFile,
		exportfsPath: exportfsPath,
		storagePath:  storagePath,
		options:      options,
		granted:      make(map[string]struct{}),
	}
}

// Grant adds an export entry for the client address and reloads the
// export table. Granting an already exported address is a no-op.
//
// The storage path must be a readable directory at grant time; a locked
// or missing volume fails the grant before the exports file is touched.
func (c *Controller) Grant(ctx context.Context, address string) error {
	info, err := os.Stat(c.storagePath)
	if err != nil {
		return fmt.Errorf("storage path %q not available: %w", c.storagePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %q is not a directory", c.storagePath)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.granted[address]; ok {
		logger.Debug("Export entry already present", logger.ClientIP(address))
		return nil
	}

	c.granted[address] = struct{}{}
	if err := c.writeAndReload(ctx); err != nil {
		delete(c.granted, address)
		return err
	}

	logger.Info("Export entry added", logger.ClientIP(address), logger.Path(c.storagePath))
	return nil
}

// Revoke removes the client's export entry and reloads the export table.
// Revoking an address without an entry is a no-op.
func (c *Controller) Revoke(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.granted[address]; !ok {
		return nil
	}

	delete(c.granted, address)
	if err := c.writeAndReload(ctx); err != nil {
		c.granted[address] = struct{}{}
		return err
	}

	logger.Info("Export entry removed", logger.ClientIP(address))
	return nil
}

// Granted reports whether the address currently has an export entry.
func (c *Controller) Granted(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.granted[address]
	return ok
}

// Reconcile drops every entry for the storage path, including entries
// written by a previous process, and reloads the export table. The
// ledger is reset to empty.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.granted = make(map[string]struct{})
	if err := c.writeAndReload(ctx); err != nil {
		return err
	}

	logger.Info("Export entries reconciled", logger.Path(c.storagePath))
	return nil
}

// Resync rewrites the exports file from the ledger if the on-disk content
// has drifted. Used by the watcher after out-of-band edits.
func (c *Controller) Resync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.readFile()
	if err != nil {
		return err
	}
	if current == c.render(c.foreignLines(current)) {
		return nil
	}

	logger.Warn("Exports file drifted from expected content, rewriting",
		logger.Path(c.exportsFile))
	return c.writeAndReload(ctx)
}

// StoragePath returns the exported directory.
func (c *Controller) StoragePath() string {
	return c.storagePath
}

// writeAndReload rewrites the exports file from the ledger and reloads
// the export table. Caller holds c.mu.
func (c *Controller) writeAndReload(ctx context.Context) error {
	current, err := c.readFile()
	if err != nil {
		return err
	}

	content := c.render(c.foreignLines(current))
	if err := os.WriteFile(c.exportsFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write exports file %q: %w", c.exportsFile, err)
	}

	if _, err := c.runner.Run(ctx, c.exportfsPath, "-ra"); err != nil {
		return fmt.Errorf("failed to reload export table: %w", err)
	}
	return nil
}

func (c *Controller) readFile() (string, error) {
	data, err := os.ReadFile(c.exportsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read exports file %q: %w", c.exportsFile, err)
	}
	return string(data), nil
}

// foreignLines returns the lines that do not reference the storage path.
func (c *Controller) foreignLines(content string) []string {
	var foreign []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if fields := strings.Fields(trimmed); len(fields) > 0 && fields[0] == c.storagePath {
			continue
		}
		foreign = append(foreign, line)
	}
	return foreign
}

// render produces the full exports file content: foreign lines first,
// then one line per granted address in stable order.
func (c *Controller) render(foreign []string) string {
	addresses := make([]string, 0, len(c.granted))
	for addr := range c.granted {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	var b strings.Builder
	for _, line := range foreign {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, addr := range addresses {
		fmt.Fprintf(&b, "%s %s(%s)\n", c.storagePath, addr, c.options)
	}
	return b.String()
}
