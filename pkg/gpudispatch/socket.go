package gpudispatch

import (
	"fmt"
	"os"
	"path/filepath"
)

// SocketManager manages the Unix domain socket files used for worker IPC.
type SocketManager struct {
	dir         string
	prefix      string
	permissions os.FileMode
}

// NewSocketManager creates a new socket manager.
func NewSocketManager(cfg SocketConfig) *SocketManager {
	return &SocketManager{
		dir:         cfg.Dir,
		prefix:      cfg.Prefix,
		permissions: os.FileMode(cfg.Permissions),
	}
}

// SocketPath returns the socket path for the worker at GPU g, slot i.
func (sm *SocketManager) SocketPath(g, i int) string {
	filename := fmt.Sprintf("%s-gpu%d-worker%d.sock", sm.prefix, g, i)
	return filepath.Join(sm.dir, filename)
}

// CleanupSocket removes a socket file if it exists.
func (sm *SocketManager) CleanupSocket(socketPath string) error {
	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat socket file: %w", err)
	}
	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("failed to remove socket file: %w", err)
	}
	return nil
}

// CleanupAllSockets removes all socket files matching the configured prefix.
func (sm *SocketManager) CleanupAllSockets() error {
	pattern := filepath.Join(sm.dir, fmt.Sprintf("%s-gpu*-worker*.sock", sm.prefix))

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to glob socket files: %w", err)
	}

	var lastErr error
	for _, socketPath := range matches {
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			lastErr = fmt.Errorf("failed to remove socket %s: %w", socketPath, err)
		}
	}
	return lastErr
}

// EnsureSocketDir ensures the socket directory exists.
func (sm *SocketManager) EnsureSocketDir() error {
	if err := os.MkdirAll(sm.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	return nil
}

// SetSocketPermissions sets the configured permissions on a socket file.
func (sm *SocketManager) SetSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, sm.permissions); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return nil
}
