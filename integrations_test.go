package kgsm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/TheKrystalShip/kgsm/registryindex"
)

// fakeFileOps is an in-memory stand-in for FileOps, tracking symlinks and
// removed paths without touching the real filesystem.
type fakeFileOps struct {
	symlinks map[string]string // newname -> oldname
	removed  []string
}

func newFakeFileOps() *fakeFileOps {
	return &fakeFileOps{symlinks: map[string]string{}}
}

func (f *fakeFileOps) MkdirAll(path string, perm os.FileMode) error { return nil }

func (f *fakeFileOps) RemoveAll(path string) error {
	if _, ok := f.symlinks[path]; !ok {
		return os.ErrNotExist
	}
	delete(f.symlinks, path)
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeFileOps) Symlink(oldname, newname string) error {
	f.symlinks[newname] = oldname
	return nil
}

func (f *fakeFileOps) Lstat(path string) (os.FileInfo, error) {
	if _, ok := f.symlinks[path]; ok {
		return nil, nil
	}
	return nil, os.ErrNotExist
}

func (f *fakeFileOps) Readlink(path string) (string, error) {
	if target, ok := f.symlinks[path]; ok {
		return target, nil
	}
	return "", os.ErrNotExist
}

func (f *fakeFileOps) Copy(ctx context.Context, src, dst string) error { return nil }

type fakeSystemdOpsFull struct {
	enabled  map[string]bool
	reloaded int
}

func newFakeSystemdOpsFull() *fakeSystemdOpsFull {
	return &fakeSystemdOpsFull{enabled: map[string]bool{}}
}

func (f *fakeSystemdOpsFull) DaemonReload(ctx context.Context) error { f.reloaded++; return nil }
func (f *fakeSystemdOpsFull) EnableNow(ctx context.Context, unit string) error {
	f.enabled[unit] = true
	return nil
}
func (f *fakeSystemdOpsFull) DisableNow(ctx context.Context, unit string) error {
	delete(f.enabled, unit)
	return nil
}
func (f *fakeSystemdOpsFull) IsActive(ctx context.Context, unit string) (bool, error) {
	return f.enabled[unit], nil
}
func (f *fakeSystemdOpsFull) Start(ctx context.Context, unit string) error {
	f.enabled[unit] = true
	return nil
}
func (f *fakeSystemdOpsFull) Stop(ctx context.Context, unit string) error {
	f.enabled[unit] = false
	return nil
}

type fakeFirewallOps struct {
	allowed map[string]string // comment -> ruleSpec
}

func newFakeFirewallOps() *fakeFirewallOps {
	return &fakeFirewallOps{allowed: map[string]string{}}
}

func (f *fakeFirewallOps) Allow(ctx context.Context, ruleSpec, comment string) error {
	f.allowed[comment] = ruleSpec
	return nil
}

func (f *fakeFirewallOps) Delete(ctx context.Context, comment string) error {
	delete(f.allowed, comment)
	return nil
}

func newIntegrationTestContext(t *testing.T) *Context {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{
		filepath.Join(root, "instances"),
		filepath.Join(root, "blueprints", "default"),
	} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := OpenConfigStore(filepath.Join(root, "config.ini"))
	if err != nil {
		t.Fatalf("OpenConfigStore: %v", err)
	}
	idx, err := registryindex.Open(filepath.Join(root, "registryindex.db"))
	if err != nil {
		t.Fatalf("registryindex.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	if err := cfg.Set("systemd_files_dir", filepath.Join(root, "systemd"), ""); err != nil {
		t.Fatalf("Set systemd_files_dir: %v", err)
	}
	if err := cfg.Set("firewall_rules_dir", filepath.Join(root, "firewall-rules"), ""); err != nil {
		t.Fatalf("Set firewall_rules_dir: %v", err)
	}
	if err := cfg.Set("command_shortcuts_directory", filepath.Join(root, "bin"), ""); err != nil {
		t.Fatalf("Set command_shortcuts_directory: %v", err)
	}

	ctx := &Context{Root: root, Config: cfg}
	ctx.Registry = newRegistry(ctx, idx)
	return ctx
}

func sampleTestInstance(ctx *Context, name string) *Instance {
	inst := instanceDirs(filepath.Join(ctx.Root, "instances"), name)
	inst.BlueprintFile = "factorio.bp"
	inst.Runtime = RuntimeNative
	inst.LifecycleManager = LifecycleStandalone
	inst.Ports = "34197/udp"
	inst.ManagementFile = filepath.Join(inst.WorkingDir, name+".manage.sh")
	return &inst
}

func TestSystemdIntegrationEnableDisableLifecycle(t *testing.T) {
	ctx := newIntegrationTestContext(t)
	inst := sampleTestInstance(ctx, "factorio")
	if err := ctx.Registry.Save("factorio", inst); err != nil {
		t.Fatalf("Save: %v", err)
	}

	systemd := newFakeSystemdOpsFull()
	integ := &systemdIntegration{ctx: ctx, fileOps: NewDefaultFileOps(), systemd: systemd}

	state, err := integ.State(context.Background(), inst)
	if err != nil || state != IntegrationAbsent {
		t.Fatalf("initial state = %v, %v; want absent", state, err)
	}

	if err := integ.Enable(context.Background(), inst); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !inst.EnableSystemd || inst.LifecycleManager != LifecycleSystemd {
		t.Errorf("Enable did not record systemd flags on the instance")
	}
	if _, err := os.Stat(inst.SystemdServiceFile); err != nil {
		t.Errorf("expected service unit file to exist: %v", err)
	}
	if !systemd.enabled[filepath.Base(inst.SystemdServiceFile)] {
		t.Errorf("expected service unit to be enabled")
	}

	state, err = integ.State(context.Background(), inst)
	if err != nil || state != IntegrationPresent {
		t.Fatalf("post-enable state = %v, %v; want present", state, err)
	}

	if err := integ.Disable(context.Background(), inst); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if inst.EnableSystemd || inst.LifecycleManager != LifecycleStandalone {
		t.Errorf("Disable did not clear systemd flags")
	}
	if _, err := os.Stat(inst.SystemdServiceFile); !os.IsNotExist(err) {
		t.Errorf("expected service unit file to be removed")
	}
}

func TestSystemdIntegrationEnableIsIdempotent(t *testing.T) {
	ctx := newIntegrationTestContext(t)
	inst := sampleTestInstance(ctx, "factorio")
	systemd := newFakeSystemdOpsFull()
	integ := &systemdIntegration{ctx: ctx, fileOps: NewDefaultFileOps(), systemd: systemd}

	if err := integ.Enable(context.Background(), inst); err != nil {
		t.Fatalf("first Enable: %v", err)
	}
	if err := integ.Enable(context.Background(), inst); err != nil {
		t.Fatalf("second Enable (idempotent re-run): %v", err)
	}
}

func TestFirewallIntegrationEnableDisableLifecycle(t *testing.T) {
	ctx := newIntegrationTestContext(t)
	inst := sampleTestInstance(ctx, "factorio")
	fw := newFakeFirewallOps()
	integ := &firewallIntegration{ctx: ctx, fileOps: NewDefaultFileOps(), firewall: fw}

	if err := integ.Enable(context.Background(), inst); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !inst.EnableFirewallManagement {
		t.Error("expected EnableFirewallManagement=true")
	}
	if fw.allowed["kgsm-factorio"] != "34197/udp" {
		t.Errorf("got ufw rule %q, want 34197/udp", fw.allowed["kgsm-factorio"])
	}

	if err := integ.Disable(context.Background(), inst); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if inst.EnableFirewallManagement {
		t.Error("expected EnableFirewallManagement=false after Disable")
	}
	if _, ok := fw.allowed["kgsm-factorio"]; ok {
		t.Error("expected ufw rule to be deleted")
	}
}

func TestShortcutIntegrationReplacesExistingSymlink(t *testing.T) {
	ctx := newIntegrationTestContext(t)
	inst := sampleTestInstance(ctx, "factorio")
	fops := newFakeFileOps()
	integ := &shortcutIntegration{ctx: ctx, fileOps: fops}

	if err := integ.Enable(context.Background(), inst); err != nil {
		t.Fatalf("first Enable: %v", err)
	}
	first := inst.CommandShortcutFile
	if fops.symlinks[first] != inst.ManagementFile {
		t.Errorf("symlink target = %q, want %q", fops.symlinks[first], inst.ManagementFile)
	}

	if err := integ.Enable(context.Background(), inst); err != nil {
		t.Fatalf("second Enable (replace): %v", err)
	}
	if fops.symlinks[first] != inst.ManagementFile {
		t.Errorf("replaced symlink target = %q, want %q", fops.symlinks[first], inst.ManagementFile)
	}

	if err := integ.Disable(context.Background(), inst); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if inst.EnableCommandShortcuts || inst.CommandShortcutFile != "" {
		t.Error("expected shortcut flags cleared after Disable")
	}
}

func TestUPnPIntegrationIsPureConfigToggle(t *testing.T) {
	ctx := newIntegrationTestContext(t)
	inst := sampleTestInstance(ctx, "factorio")
	integ := &upnpIntegration{ctx: ctx}

	if err := integ.Enable(context.Background(), inst); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !inst.EnablePortForwarding || len(inst.UPnPPorts) == 0 {
		t.Errorf("expected UPnP ports populated, got %+v", inst)
	}

	if err := integ.Disable(context.Background(), inst); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if inst.EnablePortForwarding || len(inst.UPnPPorts) != 0 {
		t.Errorf("expected UPnP state cleared, got %+v", inst)
	}
}
