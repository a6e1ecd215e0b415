package kgsm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeVersionProbe struct {
	version string
	err     error
}

func (p fakeVersionProbe) Latest(ctx context.Context, inst *Instance, bp *Blueprint) (string, error) {
	return p.version, p.err
}

type fakeLifecycleOps struct {
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func (l *fakeLifecycleOps) Start(ctx context.Context, inst *Instance) error {
	l.starts++
	return l.startErr
}

func (l *fakeLifecycleOps) Stop(ctx context.Context, inst *Instance) error {
	l.stops++
	return l.stopErr
}

func TestOrchestratorUpdateRunsAllStepsAndRecordsVersion(t *testing.T) {
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
	if err := os.MkdirAll(inst.TempDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(inst.WorkingDir, 0o750); err != nil {
		t.Fatal(err)
	}

	probe := fakeVersionProbe{version: "1.1.110"}
	downloader := &fakeDownloader{files: map[string]string{"factorio.bin": "new build"}}
	lifecycle := &fakeLifecycleOps{}

	if err := orch.Update(context.Background(), inst, probe, downloader, lifecycle, false); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if inst.InstalledVersion != "1.1.110" {
		t.Errorf("got installed_version %q", inst.InstalledVersion)
	}
	versionBytes, err := os.ReadFile(inst.VersionFile)
	if err != nil {
		t.Fatalf("reading version_file: %v", err)
	}
	if string(versionBytes) != "1.1.110\n" {
		t.Errorf("got version_file contents %q", versionBytes)
	}
	if _, err := os.Stat(filepath.Join(inst.InstallDir, "factorio.bin")); err != nil {
		t.Errorf("expected downloaded artifact deployed into install_dir: %v", err)
	}
	if lifecycle.starts != 0 || lifecycle.stops != 0 {
		t.Errorf("expected no start/stop calls for an inactive instance, got starts=%d stops=%d", lifecycle.starts, lifecycle.stops)
	}

	reloaded, err := ctx.Registry.Describe(name)
	if err != nil {
		t.Fatalf("Describe after update: %v", err)
	}
	if reloaded.InstalledVersion != "1.1.110" {
		t.Errorf("persisted installed_version = %q", reloaded.InstalledVersion)
	}
}

func TestOrchestratorUpdateStopsAndRestartsAnActiveInstance(t *testing.T) {
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
	if err := os.MkdirAll(inst.TempDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(inst.WorkingDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inst.PIDFile, []byte("1"), 0o640); err != nil {
		t.Fatalf("seeding pid file: %v", err)
	}

	probe := fakeVersionProbe{version: "1.1.110"}
	downloader := &fakeDownloader{}
	lifecycle := &fakeLifecycleOps{}

	if err := orch.Update(context.Background(), inst, probe, downloader, lifecycle, false); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if lifecycle.stops != 1 || lifecycle.starts != 1 {
		t.Errorf("expected one stop and one restart, got stops=%d starts=%d", lifecycle.stops, lifecycle.starts)
	}
}

func TestOrchestratorUpdateRollsBackDownloadWhenStopFails(t *testing.T) {
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
	if err := os.MkdirAll(inst.TempDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inst.PIDFile, []byte("1"), 0o640); err != nil {
		t.Fatalf("seeding pid file: %v", err)
	}

	probe := fakeVersionProbe{version: "1.1.110"}
	downloader := &fakeDownloader{files: map[string]string{"factorio.bin": "new build"}}
	lifecycle := &fakeLifecycleOps{stopErr: WrapErr(ErrGeneral, "simulated stop failure", "", nil)}

	if err := orch.Update(context.Background(), inst, probe, downloader, lifecycle, false); err == nil {
		t.Fatal("expected Update to fail when stopping the instance fails")
	}

	entries, err := os.ReadDir(inst.TempDir)
	if err != nil {
		t.Fatalf("reading temp_dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected download's inverse to clear temp_dir, got %d entries", len(entries))
	}
	if inst.InstalledVersion != "" {
		t.Errorf("expected installed_version to remain unset, got %q", inst.InstalledVersion)
	}
}

func TestOrchestratorUpdateSkipsWhenAlreadyCurrent(t *testing.T) {
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
	if err := os.MkdirAll(inst.TempDir, 0o750); err != nil {
		t.Fatal(err)
	}
	inst.InstalledVersion = "1.1.110"

	probe := fakeVersionProbe{version: "1.1.110"}
	downloader := &fakeDownloader{files: map[string]string{"factorio.bin": "new build"}}
	lifecycle := &fakeLifecycleOps{}

	if err := orch.Update(context.Background(), inst, probe, downloader, lifecycle, false); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := os.Stat(filepath.Join(inst.InstallDir, "factorio.bin")); err == nil {
		t.Error("expected no artifact deployed when already at the latest version")
	}
	if lifecycle.starts != 0 || lifecycle.stops != 0 {
		t.Errorf("expected no lifecycle calls, got starts=%d stops=%d", lifecycle.starts, lifecycle.stops)
	}
}

func TestOrchestratorUpdateForceRunsEvenWhenAlreadyCurrent(t *testing.T) {
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
	if err := os.MkdirAll(inst.TempDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(inst.WorkingDir, 0o750); err != nil {
		t.Fatal(err)
	}
	inst.InstalledVersion = "1.1.110"

	probe := fakeVersionProbe{version: "1.1.110"}
	downloader := &fakeDownloader{files: map[string]string{"factorio.bin": "new build"}}
	lifecycle := &fakeLifecycleOps{}

	if err := orch.Update(context.Background(), inst, probe, downloader, lifecycle, true); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := os.Stat(filepath.Join(inst.InstallDir, "factorio.bin")); err != nil {
		t.Errorf("expected --force to re-deploy even at the latest version: %v", err)
	}
}

func TestContainerVersionProbeRejectsInvalidImageReference(t *testing.T) {
	probe := NewContainerVersionProbe("not a valid ref::::")
	if _, err := probe.Latest(context.Background(), &Instance{}, &Blueprint{Name: "x"}); Classify(err) != ErrInvalidArg {
		t.Errorf("expected ErrInvalidArg, got %v", err)
	}
}

func TestNativeVersionProbeReportsMissingDependency(t *testing.T) {
	probe := NewNativeVersionProbe()
	if _, err := probe.Latest(context.Background(), &Instance{}, &Blueprint{Name: "factorio"}); Classify(err) != ErrMissingDependency {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}
