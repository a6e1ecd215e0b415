package kgsm

import (
	"context"
	"path/filepath"
)

// shortcutIntegration symlinks the instance's management file onto a
// directory on PATH, reusing ops.go's FileOps the way the teacher's
// file_ops.go is reused for any exec/os-backed side effect (spec.md §4.4
// "Command shortcut integration").
type shortcutIntegration struct {
	ctx     *Context
	fileOps FileOps
}

func (s *shortcutIntegration) Kind() string { return "shortcut" }

func (s *shortcutIntegration) dir() string {
	if dir, err := s.ctx.Config.GetDefault("command_shortcuts_directory"); err == nil && dir != "" {
		return dir
	}
	return "/usr/local/bin"
}

func (s *shortcutIntegration) path(inst *Instance) string {
	return filepath.Join(s.dir(), inst.Name)
}

func (s *shortcutIntegration) State(ctx context.Context, inst *Instance) (IntegrationState, error) {
	_, err := s.fileOps.Lstat(s.path(inst))
	exists := err == nil
	switch {
	case !exists && !inst.EnableCommandShortcuts:
		return IntegrationAbsent, nil
	case exists && inst.EnableCommandShortcuts && inst.CommandShortcutFile == s.path(inst):
		return IntegrationPresent, nil
	default:
		return IntegrationPartial, nil
	}
}

// Enable replaces any existing symlink at the target path unconditionally —
// spec.md §4.4: "If the target symlink exists it is replaced", no collision
// refusal unlike the systemd/firewall artifacts.
func (s *shortcutIntegration) Enable(ctx context.Context, inst *Instance) error {
	path := s.path(inst)
	if _, err := s.fileOps.Lstat(path); err == nil {
		if err := s.fileOps.RemoveAll(path); err != nil {
			return WrapErr(ErrFailedRemove, "replacing existing command shortcut", "check directory permissions", err)
		}
	}
	if err := s.fileOps.Symlink(inst.ManagementFile, path); err != nil {
		return WrapErr(ErrFailedSymlink, "creating command shortcut symlink", "check directory permissions", err)
	}

	inst.CommandShortcutFile = path
	inst.EnableCommandShortcuts = true
	return s.ctx.saveInstance(inst)
}

func (s *shortcutIntegration) Disable(ctx context.Context, inst *Instance) error {
	if err := removeArtifactTolerant(s.fileOps, inst.CommandShortcutFile); err != nil {
		return err
	}
	inst.CommandShortcutFile = ""
	inst.EnableCommandShortcuts = false
	return s.ctx.saveInstance(inst)
}
