package kgsm

import (
	"context"
	"path/filepath"
)

// Instance is the mutable per-deployment document materialized from a
// Blueprint (spec.md §3).
type Instance struct {
	Name, BlueprintFile string

	WorkingDir, BackupsDir, InstallDir, SavesDir, TempDir, LogsDir string
	VersionFile, ConfigFile, ManagementFile                       string

	Runtime          Runtime
	LifecycleManager LifecycleManager

	ExecutableFile, ExecutableArguments, LaunchDir string
	Ports, StopCommand, SaveCommand                string
	StartupSuccessRegex                            string
	SocketFile, PIDFile, TailPIDFile                string

	EnableSystemd                         bool
	SystemdServiceFile, SystemdSocketFile string

	EnableFirewallManagement bool
	FirewallRuleFile         string

	EnableCommandShortcuts bool
	CommandShortcutFile    string

	EnablePortForwarding bool
	UPnPPorts            []string

	SaveCommandTimeoutSeconds, StopCommandTimeoutSeconds int
	CompressBackups, AutoUpdate                          bool

	InstallDatetime, InstalledVersion string
}

// instanceDirs returns the five canonical subdirectories an instance's
// working_dir must contain exactly, per spec.md §3's invariant.
func instanceDirs(installDir, name string) Instance {
	working := filepath.Join(installDir, name)
	return Instance{
		Name:           name,
		WorkingDir:     working,
		BackupsDir:     filepath.Join(working, "backups"),
		InstallDir:     filepath.Join(working, "install"),
		SavesDir:       filepath.Join(working, "saves"),
		TempDir:        filepath.Join(working, "temp"),
		LogsDir:        filepath.Join(working, "logs"),
		VersionFile:    filepath.Join(working, "."+name+".version"),
		ConfigFile:     filepath.Join(working, name+".config.ini"),
		ManagementFile: filepath.Join(working, name+".manage.sh"),
		PIDFile:        filepath.Join(working, "."+name+".pid"),
		TailPIDFile:    filepath.Join(working, "."+name+".tail.pid"),
		SocketFile:     filepath.Join(working, "."+name+".stdin"),
	}
}

func (i *Instance) dirs() []string {
	return []string{i.BackupsDir, i.InstallDir, i.SavesDir, i.TempDir, i.LogsDir}
}

// IsActive reports whether the instance should be considered running,
// based on its lifecycle manager: a systemd is-active query for
// systemd-managed instances, a PID-file existence check otherwise (spec.md
// §4.8 "describe").
func (i *Instance) IsActive(ctx context.Context, systemdOps SystemdOps, fileOps FileOps) bool {
	return isInstanceActive(ctx, i, systemdOps, fileOps)
}
