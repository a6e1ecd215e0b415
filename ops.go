package kgsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/TheKrystalShip/kgsm/options"
)

// FileOps wraps the filesystem operations the Integration Manager and
// Backup Subsystem perform against host state, grounded on the teacher's
// file_ops.go: a small interface, a default exec/os-backed implementation,
// and a fake for tests.
type FileOps interface {
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
	Symlink(oldname, newname string) error
	Lstat(path string) (os.FileInfo, error)
	Readlink(path string) (string, error)
	Copy(ctx context.Context, src, dst string) error
}

type defaultFileOps struct{}

// NewDefaultFileOps returns the exec.Command/os-backed FileOps used in
// production; components accept a FileOps so tests can substitute a fake.
func NewDefaultFileOps() FileOps {
	return &defaultFileOps{}
}

func (f *defaultFileOps) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (f *defaultFileOps) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (f *defaultFileOps) Symlink(oldname, newname string) error {
	return os.Symlink(oldname, newname)
}

func (f *defaultFileOps) Lstat(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

func (f *defaultFileOps) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

func (f *defaultFileOps) Copy(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "cp", "-R", src, dst)
	slog.InfoContext(ctx, "FileOps.Copy", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.InfoContext(ctx, "FileOps.Copy", "error", err, "output", string(output))
		return fmt.Errorf("copy failed: %w (output: %s)", err, output)
	}
	return nil
}

// SystemdOps wraps `systemctl` invocations performed by the service-unit
// integration.
type SystemdOps interface {
	DaemonReload(ctx context.Context) error
	EnableNow(ctx context.Context, unit string) error
	DisableNow(ctx context.Context, unit string) error
	IsActive(ctx context.Context, unit string) (bool, error)
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
}

type defaultSystemdOps struct {
	// ElevationPrefix is prepended to argv when the caller is not root
	// (e.g. "sudo"), per spec.md §4.4.
	ElevationPrefix []string
}

// NewDefaultSystemdOps returns the exec.Command-backed SystemdOps.
// elevationPrefix may be nil when already running as root.
func NewDefaultSystemdOps(elevationPrefix []string) SystemdOps {
	return &defaultSystemdOps{ElevationPrefix: elevationPrefix}
}

func (s *defaultSystemdOps) run(ctx context.Context, args ...string) (string, error) {
	full := append(append([]string{}, s.ElevationPrefix...), args...)
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	slog.InfoContext(ctx, "SystemdOps", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.InfoContext(ctx, "SystemdOps", "error", err, "output", string(output))
		return string(output), fmt.Errorf("systemctl failed: %w (output: %s)", err, output)
	}
	return string(output), nil
}

func (s *defaultSystemdOps) DaemonReload(ctx context.Context) error {
	_, err := s.run(ctx, "systemctl", "daemon-reload")
	return err
}

func (s *defaultSystemdOps) EnableNow(ctx context.Context, unit string) error {
	args := append([]string{"systemctl", "enable", unit}, options.ToArgs(&options.SystemctlAction{Now: true})...)
	_, err := s.run(ctx, args...)
	return err
}

func (s *defaultSystemdOps) DisableNow(ctx context.Context, unit string) error {
	args := append([]string{"systemctl", "disable", unit}, options.ToArgs(&options.SystemctlAction{Now: true})...)
	_, err := s.run(ctx, args...)
	return err
}

func (s *defaultSystemdOps) Start(ctx context.Context, unit string) error {
	_, err := s.run(ctx, "systemctl", "start", unit)
	return err
}

func (s *defaultSystemdOps) Stop(ctx context.Context, unit string) error {
	_, err := s.run(ctx, "systemctl", "stop", unit)
	return err
}

func (s *defaultSystemdOps) IsActive(ctx context.Context, unit string) (bool, error) {
	full := append(append([]string{}, s.ElevationPrefix...), "systemctl", "is-active", unit)
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	slog.InfoContext(ctx, "SystemdOps.IsActive", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.CombinedOutput()
	status := strings.TrimSpace(string(output))
	// is-active exits non-zero for "inactive"/"failed"; that's not an
	// operational error, just a status to report.
	if err != nil && status == "" {
		return false, fmt.Errorf("systemctl is-active failed: %w", err)
	}
	return status == "active", nil
}

// FirewallOps wraps `ufw` invocations performed by the firewall integration.
type FirewallOps interface {
	Allow(ctx context.Context, ruleSpec, comment string) error
	Delete(ctx context.Context, comment string) error
}

type defaultFirewallOps struct {
	ElevationPrefix []string
}

// NewDefaultFirewallOps returns the exec.Command-backed FirewallOps.
func NewDefaultFirewallOps(elevationPrefix []string) FirewallOps {
	return &defaultFirewallOps{ElevationPrefix: elevationPrefix}
}

func (f *defaultFirewallOps) run(ctx context.Context, args ...string) error {
	full := append(append([]string{}, f.ElevationPrefix...), args...)
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	slog.InfoContext(ctx, "FirewallOps", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.InfoContext(ctx, "FirewallOps", "error", err, "output", string(output))
		return fmt.Errorf("ufw failed: %w (output: %s)", err, output)
	}
	return nil
}

func (f *defaultFirewallOps) Allow(ctx context.Context, ruleSpec, comment string) error {
	args := append([]string{"ufw", "allow", ruleSpec}, options.ToArgs(&options.UfwAllow{Comment: comment})...)
	return f.run(ctx, args...)
}

func (f *defaultFirewallOps) Delete(ctx context.Context, comment string) error {
	return f.run(ctx, "ufw", "delete", "allow", comment)
}
