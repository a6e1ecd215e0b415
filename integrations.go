package kgsm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IntegrationState is the three-value machine every integration kind is
// driven through: absent -> (enable) -> present -> (disable) -> absent,
// with partial reachable by a crash between writing artifacts and recording
// config flags (spec.md §4.4).
type IntegrationState string

const (
	IntegrationAbsent  IntegrationState = "absent"
	IntegrationPartial IntegrationState = "partial"
	IntegrationPresent IntegrationState = "present"
)

// Integration is one pluggable, idempotent host-level side-effect an
// instance can carry: service-unit, firewall rule, PATH shortcut, or UPnP
// port-forwarding flag (spec.md §4.4).
type Integration interface {
	Kind() string
	State(ctx context.Context, inst *Instance) (IntegrationState, error)
	Enable(ctx context.Context, inst *Instance) error
	Disable(ctx context.Context, inst *Instance) error
}

// Integrations builds the four stock Integration implementations wired to
// ctx's ops/registry, in the fixed order they're iterated during modify/
// install/uninstall.
func Integrations(ctx *Context, fileOps FileOps, systemdOps SystemdOps, firewallOps FirewallOps) []Integration {
	return []Integration{
		&systemdIntegration{ctx: ctx, fileOps: fileOps, systemd: systemdOps},
		&firewallIntegration{ctx: ctx, fileOps: fileOps, firewall: firewallOps},
		&shortcutIntegration{ctx: ctx, fileOps: fileOps},
		&upnpIntegration{ctx: ctx},
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// blueprintNameOf recovers the blueprint base name from an instance's
// recorded blueprint_file, for Registry.Save's (blueprint, instance) keying.
func blueprintNameOf(inst *Instance) string {
	base := filepath.Base(inst.BlueprintFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (c *Context) saveInstance(inst *Instance) error {
	return c.Registry.Save(blueprintNameOf(inst), inst)
}

// writeArtifact writes data to path atomically (temp sibling + rename),
// creating the parent directory if needed, mirroring configstore.go's
// write-then-rename idiom for files an integration materialises outside the
// instance's own document.
func writeArtifact(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return WrapErr(ErrPermission, fmt.Sprintf("creating %s", dir), "check elevated-privilege configuration", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return WrapErr(ErrPermission, fmt.Sprintf("creating temp file in %s", dir), "", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return WrapErr(ErrGeneral, fmt.Sprintf("writing %s", tmpName), "", err)
	}
	if err := tmp.Close(); err != nil {
		return WrapErr(ErrGeneral, fmt.Sprintf("closing %s", tmpName), "", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return WrapErr(ErrPermission, fmt.Sprintf("chmod %s", tmpName), "", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return WrapErr(ErrPermission, fmt.Sprintf("renaming into place over %s", path), "check directory permissions", err)
	}
	return nil
}

// removeArtifactTolerant removes path if present; a missing artifact is not
// an error (spec.md §4.4 "each disable tolerates missing components").
func removeArtifactTolerant(fileOps FileOps, path string) error {
	if path == "" {
		return nil
	}
	if err := fileOps.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return WrapErr(ErrFailedRemove, fmt.Sprintf("removing %s", path), "check file permissions", err)
	}
	return nil
}
