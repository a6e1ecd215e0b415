package kgsm

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// LifecycleOps starts and stops an instance through whichever path its
// lifecycle_manager dictates: a systemd unit, or the generated management
// script directly (spec.md §4.3 "stop-if-running", §4.7 steps 3/6). The
// management script's own runtime behavior is an external collaborator out
// of scope per spec.md §1 — only this start/stop contract is fixed, wrapped
// the same way ops.go wraps systemctl/ufw: an interface, a default
// exec.Command-backed implementation, slog of the argv, %w-wrapped failures.
type LifecycleOps interface {
	Start(ctx context.Context, inst *Instance) error
	Stop(ctx context.Context, inst *Instance) error
}

type defaultLifecycleOps struct {
	systemd SystemdOps
}

// NewDefaultLifecycleOps returns the production LifecycleOps, dispatching
// to systemd for systemd-managed instances and to the management script
// otherwise.
func NewDefaultLifecycleOps(systemd SystemdOps) LifecycleOps {
	return &defaultLifecycleOps{systemd: systemd}
}

func (l *defaultLifecycleOps) Start(ctx context.Context, inst *Instance) error {
	if inst.LifecycleManager == LifecycleSystemd {
		if err := l.systemd.Start(ctx, filepath.Base(inst.SystemdServiceFile)); err != nil {
			return WrapErr(ErrSystemd, fmt.Sprintf("starting %s", inst.Name), "", err)
		}
		return nil
	}
	if err := runManagementFile(ctx, inst, "start"); err != nil {
		return WrapErr(ErrGeneral, fmt.Sprintf("starting %s", inst.Name), "", err)
	}
	return nil
}

func (l *defaultLifecycleOps) Stop(ctx context.Context, inst *Instance) error {
	if inst.LifecycleManager == LifecycleSystemd {
		if err := l.systemd.Stop(ctx, filepath.Base(inst.SystemdServiceFile)); err != nil {
			return WrapErr(ErrSystemd, fmt.Sprintf("stopping %s", inst.Name), "", err)
		}
		return nil
	}
	if err := runManagementFile(ctx, inst, "stop"); err != nil {
		return WrapErr(ErrGeneral, fmt.Sprintf("stopping %s", inst.Name), "", err)
	}
	return nil
}

func runManagementFile(ctx context.Context, inst *Instance, arg string) error {
	cmd := exec.CommandContext(ctx, inst.ManagementFile, arg)
	slog.InfoContext(ctx, "LifecycleOps", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.InfoContext(ctx, "LifecycleOps", "error", err, "output", string(output))
		return fmt.Errorf("%s failed: %w (output: %s)", arg, err, output)
	}
	return nil
}
