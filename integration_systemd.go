package kgsm

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/TheKrystalShip/kgsm/systemdunit"
)

// systemdIntegration materialises a .service + .socket unit pair that
// supervises the instance's management script, grounded on
// systemdunit.BuildService/BuildSocket and ops.go's exec.Command-backed
// SystemdOps (spec.md §4.4 "Service unit integration").
type systemdIntegration struct {
	ctx     *Context
	fileOps FileOps
	systemd SystemdOps
}

func (s *systemdIntegration) Kind() string { return "systemd" }

func (s *systemdIntegration) unitDir() string {
	if dir, err := s.ctx.Config.GetDefault("systemd_files_dir"); err == nil && dir != "" {
		return dir
	}
	return "/etc/systemd/system"
}

func (s *systemdIntegration) paths(inst *Instance) (service, socket string) {
	dir := s.unitDir()
	return filepath.Join(dir, fmt.Sprintf("kgsm-%s.service", inst.Name)),
		filepath.Join(dir, fmt.Sprintf("kgsm-%s.socket", inst.Name))
}

func (s *systemdIntegration) State(ctx context.Context, inst *Instance) (IntegrationState, error) {
	svcExists := fileExists(inst.SystemdServiceFile)
	sockExists := fileExists(inst.SystemdSocketFile)

	switch {
	case !svcExists && !sockExists && !inst.EnableSystemd:
		return IntegrationAbsent, nil
	case svcExists && sockExists && inst.EnableSystemd:
		return IntegrationPresent, nil
	default:
		return IntegrationPartial, nil
	}
}

func (s *systemdIntegration) Enable(ctx context.Context, inst *Instance) error {
	state, err := s.State(ctx, inst)
	if err != nil {
		return err
	}
	if state == IntegrationPartial {
		if err := s.Disable(ctx, inst); err != nil {
			return err
		}
	}

	serviceFile, socketFile := s.paths(inst)
	if fileExists(serviceFile) && inst.SystemdServiceFile != serviceFile {
		return WrapErr(ErrFailedTemplate, fmt.Sprintf("%s already exists and is not recorded for instance %q", serviceFile, inst.Name), "remove the stale unit file or pick a different instance name", nil)
	}
	if fileExists(socketFile) && inst.SystemdSocketFile != socketFile {
		return WrapErr(ErrFailedTemplate, fmt.Sprintf("%s already exists and is not recorded for instance %q", socketFile, inst.Name), "remove the stale unit file or pick a different instance name", nil)
	}

	socketUnit := filepath.Base(socketFile)
	serviceBytes, err := systemdunit.BuildService(systemdunit.ServiceSpec{
		InstanceName:    inst.Name,
		ManagementFile:  inst.ManagementFile,
		SocketUnitName:  socketUnit,
		PIDFile:         inst.PIDFile,
		WorkingDir:      inst.WorkingDir,
		StopTimeoutSecs: inst.StopCommandTimeoutSeconds,
	})
	if err != nil {
		return WrapErr(ErrFailedTemplate, "rendering .service unit", "", err)
	}
	socketBytes, err := systemdunit.BuildSocket(systemdunit.SocketSpec{
		InstanceName: inst.Name,
		SocketFile:   inst.SocketFile,
	})
	if err != nil {
		return WrapErr(ErrFailedTemplate, "rendering .socket unit", "", err)
	}

	if err := writeArtifact(serviceFile, serviceBytes, 0o644); err != nil {
		return err
	}
	if err := writeArtifact(socketFile, socketBytes, 0o644); err != nil {
		return err
	}

	if err := s.systemd.DaemonReload(ctx); err != nil {
		return WrapErr(ErrSystemd, "reloading systemd units", "check elevated-privilege configuration", err)
	}
	serviceUnit := filepath.Base(serviceFile)
	if err := s.systemd.EnableNow(ctx, socketUnit); err != nil {
		return WrapErr(ErrSystemd, fmt.Sprintf("enabling %s", socketUnit), "", err)
	}
	if err := s.systemd.EnableNow(ctx, serviceUnit); err != nil {
		return WrapErr(ErrSystemd, fmt.Sprintf("enabling %s", serviceUnit), "", err)
	}

	inst.SystemdServiceFile = serviceFile
	inst.SystemdSocketFile = socketFile
	inst.EnableSystemd = true
	inst.LifecycleManager = LifecycleSystemd
	return s.ctx.saveInstance(inst)
}

func (s *systemdIntegration) Disable(ctx context.Context, inst *Instance) error {
	if inst.SystemdServiceFile != "" {
		unit := filepath.Base(inst.SystemdServiceFile)
		_ = s.systemd.DisableNow(ctx, unit) // tolerant of already-stopped/disabled
	}
	if inst.SystemdSocketFile != "" {
		unit := filepath.Base(inst.SystemdSocketFile)
		_ = s.systemd.DisableNow(ctx, unit)
	}

	if err := removeArtifactTolerant(s.fileOps, inst.SystemdServiceFile); err != nil {
		return err
	}
	if err := removeArtifactTolerant(s.fileOps, inst.SystemdSocketFile); err != nil {
		return err
	}
	_ = s.systemd.DaemonReload(ctx)

	inst.SystemdServiceFile = ""
	inst.SystemdSocketFile = ""
	inst.EnableSystemd = false
	inst.LifecycleManager = LifecycleStandalone
	return s.ctx.saveInstance(inst)
}
