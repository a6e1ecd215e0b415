package kgsm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newOrchestratorTestContext(t *testing.T) *Context {
	t.Helper()
	ctx := newIntegrationTestContext(t)
	ctx.Blueprints = newBlueprintResolver(ctx)
	return ctx
}

func newTestOrchestrator(t *testing.T, ctx *Context) *Orchestrator {
	t.Helper()
	fileOps := NewDefaultFileOps()
	systemd := newFakeSystemdOpsFull()
	firewall := newFakeFirewallOps()
	return &Orchestrator{
		ctx:          ctx,
		fileOps:      fileOps,
		systemdOps:   systemd,
		firewallOps:  firewall,
		integrations: Integrations(ctx, fileOps, systemd, firewall),
		backups:      NewBackupManager(ctx, fileOps),
	}
}

type fakeDownloader struct {
	files map[string]string // relative path -> contents
	err   error
}

func (d *fakeDownloader) Download(ctx context.Context, inst *Instance, destDir string) error {
	if d.err != nil {
		return d.err
	}
	for rel, contents := range d.files {
		path := filepath.Join(destDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(contents), 0o640); err != nil {
			return err
		}
	}
	return nil
}

type fakeManagementRenderer struct {
	script string
}

func (r *fakeManagementRenderer) Render(inst *Instance) ([]byte, error) {
	return []byte(r.script), nil
}

func TestOrchestratorCreateWritesBaseAndRuntimeConfig(t *testing.T) {
	ctx := newOrchestratorTestContext(t)
	writeBlueprint(t, ctx, "default", "factorio", "ports=34197/udp\nexecutable_file=bin/factorio\n")
	orch := newTestOrchestrator(t, ctx)

	name, err := orch.Create(context.Background(), "factorio", filepath.Join(ctx.Root, "instances"), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if name != "factorio" {
		t.Errorf("got name %q, want the blueprint name for the first instance", name)
	}

	inst, err := ctx.Registry.Describe(name)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if inst.Runtime != RuntimeNative {
		t.Errorf("got runtime %v, want native", inst.Runtime)
	}
	if inst.ExecutableFile != "bin/factorio" {
		t.Errorf("got executable_file %q", inst.ExecutableFile)
	}
	if len(inst.UPnPPorts) == 0 {
		t.Error("expected native runtime to populate upnp_ports")
	}
}

func TestOrchestratorCreateRollsBackOnInvalidPortSpec(t *testing.T) {
	ctx := newOrchestratorTestContext(t)
	writeBlueprint(t, ctx, "default", "broken", "ports=not-a-port-spec\n")
	orch := newTestOrchestrator(t, ctx)

	if _, err := orch.Create(context.Background(), "broken", filepath.Join(ctx.Root, "instances"), ""); err == nil {
		t.Fatal("expected Create to fail on an invalid port spec")
	}

	if _, err := ctx.Registry.Describe("broken"); Classify(err) != ErrNotFound {
		t.Errorf("expected the partially written instance document to be rolled back, got %v", err)
	}
}

func TestOrchestratorInstallCreatesDirectoriesRendersScriptAndDeploys(t *testing.T) {
	ctx := newOrchestratorTestContext(t)
	writeBlueprint(t, ctx, "default", "factorio", "ports=34197/udp\n")
	orch := newTestOrchestrator(t, ctx)

	name, err := orch.Create(context.Background(), "factorio", filepath.Join(ctx.Root, "instances"), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	inst, err := ctx.Registry.Describe(name)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}

	downloader := &fakeDownloader{files: map[string]string{"server.bin": "binary contents"}}
	renderer := &fakeManagementRenderer{script: "#!/bin/sh\necho managed\n"}

	if err := orch.Install(context.Background(), inst, downloader, renderer); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, dir := range inst.dirs() {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
		}
	}
	if _, err := os.Stat(inst.ManagementFile); err != nil {
		t.Errorf("expected management file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inst.InstallDir, "server.bin")); err != nil {
		t.Errorf("expected downloaded artifact to be deployed into install_dir: %v", err)
	}
}

func TestOrchestratorInstallRollsBackDirectoriesOnDownloadFailure(t *testing.T) {
	ctx := newOrchestratorTestContext(t)
	writeBlueprint(t, ctx, "default", "factorio", "ports=34197/udp\n")
	orch := newTestOrchestrator(t, ctx)

	name, err := orch.Create(context.Background(), "factorio", filepath.Join(ctx.Root, "instances"), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	inst, err := ctx.Registry.Describe(name)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}

	downloader := &fakeDownloader{err: WrapErr(ErrFailedSource, "simulated download failure", "", nil)}
	renderer := &fakeManagementRenderer{script: "#!/bin/sh\necho managed\n"}

	if err := orch.Install(context.Background(), inst, downloader, renderer); err == nil {
		t.Fatal("expected Install to fail when the downloader errors")
	}

	if _, err := os.Stat(inst.ManagementFile); !os.IsNotExist(err) {
		t.Errorf("expected management file to be rolled back, got err=%v", err)
	}
	if _, err := os.Stat(inst.InstallDir); !os.IsNotExist(err) {
		t.Errorf("expected install_dir to be rolled back, got err=%v", err)
	}
}

func TestOrchestratorUninstallReversesInstall(t *testing.T) {
	ctx := newOrchestratorTestContext(t)
	writeBlueprint(t, ctx, "default", "factorio", "ports=34197/udp\n")
	orch := newTestOrchestrator(t, ctx)

	name, err := orch.Create(context.Background(), "factorio", filepath.Join(ctx.Root, "instances"), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	inst, err := ctx.Registry.Describe(name)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	downloader := &fakeDownloader{}
	renderer := &fakeManagementRenderer{script: "#!/bin/sh\n"}
	if err := orch.Install(context.Background(), inst, downloader, renderer); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := orch.Uninstall(context.Background(), inst); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if _, err := os.Stat(inst.WorkingDir); !os.IsNotExist(err) {
		t.Errorf("expected working_dir to be removed, got err=%v", err)
	}
	if _, err := ctx.Registry.Describe(name); Classify(err) != ErrNotFound {
		t.Errorf("expected registry entry to be removed, got %v", err)
	}
}

func TestOrchestratorModifyEnablesNamedIntegration(t *testing.T) {
	ctx := newOrchestratorTestContext(t)
	orch := newTestOrchestrator(t, ctx)
	inst := sampleTestInstance(ctx, "factorio")
	if err := ctx.Registry.Save("factorio", inst); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := orch.Modify(context.Background(), inst, "firewall", "enable"); err != nil {
		t.Fatalf("Modify enable: %v", err)
	}
	if !inst.EnableFirewallManagement {
		t.Error("expected firewall integration to be enabled")
	}

	if err := orch.Modify(context.Background(), inst, "firewall", "disable"); err != nil {
		t.Fatalf("Modify disable: %v", err)
	}
	if inst.EnableFirewallManagement {
		t.Error("expected firewall integration to be disabled")
	}
}

func TestOrchestratorModifyRejectsUnknownIntegration(t *testing.T) {
	ctx := newOrchestratorTestContext(t)
	orch := newTestOrchestrator(t, ctx)
	inst := sampleTestInstance(ctx, "factorio")

	if err := orch.Modify(context.Background(), inst, "nonexistent", "enable"); Classify(err) != ErrInvalidArg {
		t.Errorf("expected ErrInvalidArg, got %v", err)
	}
}
