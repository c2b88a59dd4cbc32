//go:build !windows

package updater

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Restart restarts the application
func (r *Restarter) Restart() error {
	if r.ServiceName != "" {
		// Try systemd first (Linux)
		if err := r.restartSystemd(); err == nil {
			return nil
		}

		// Try launchd (macOS)
		if err := r.restartLaunchd(); err == nil {
			return nil
		}
		log.Warn("service restart failed, re-executing", "service", r.ServiceName)
	}

	// Fall back to exec syscall
	return r.restartExec()
}

func (r *Restarter) restartSystemd() error {
	cmd := exec.Command("systemctl", "restart", r.ServiceName)
	return cmd.Run()
}

func (r *Restarter) restartLaunchd() error {
	cmd := exec.Command("launchctl", "kickstart", "-k", "system/"+r.ServiceName)
	return cmd.Run()
}

func (r *Restarter) restartExec() error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks
	binary, err = filepath.EvalSymlinks(binary)
	if err != nil {
		return fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	args := append([]string{binary}, r.relaunchArgs()...)
	return syscall.Exec(binary, args, os.Environ())
}
