package kgsm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TheKrystalShip/kgsm/registryindex"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx := newTestContext(t)
	idx, err := registryindex.Open(filepath.Join(ctx.Root, "registryindex.db"))
	if err != nil {
		t.Fatalf("registryindex.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return newRegistry(ctx, idx)
}

func sampleInstance(name string) *Instance {
	inst := instanceDirs("/srv/kgsm/instances", name)
	inst.BlueprintFile = "factorio.bp"
	inst.Runtime = RuntimeNative
	inst.LifecycleManager = LifecycleStandalone
	inst.InstalledVersion = "1.1.110"
	return &inst
}

func TestRegistrySaveDescribeRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	inst := sampleInstance("factorio")

	if err := r.Save("factorio", inst); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := r.Describe("factorio")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got.Name != inst.Name || got.InstalledVersion != inst.InstalledVersion {
		t.Errorf("got %+v, want name/version to match %+v", got, inst)
	}
}

func TestRegistryGenerateNameReusesBlueprintNameFirst(t *testing.T) {
	r := newTestRegistry(t)
	name, err := r.GenerateName("factorio")
	if err != nil {
		t.Fatalf("GenerateName: %v", err)
	}
	if name != "factorio" {
		t.Errorf("got %q, want bare blueprint name for first instance", name)
	}
}

func TestRegistryGenerateNameAddsSuffixOnCollision(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Save("factorio", sampleInstance("factorio")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	name, err := r.GenerateName("factorio")
	if err != nil {
		t.Fatalf("GenerateName: %v", err)
	}
	if name == "factorio" || len(name) <= len("factorio-") {
		t.Errorf("got %q, want a suffixed name distinct from the existing instance", name)
	}
}

func TestRegistryListAcrossAllBlueprints(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Save("factorio", sampleInstance("factorio")); err != nil {
		t.Fatal(err)
	}
	if err := r.Save("zomboid", sampleInstance("zomboid")); err != nil {
		t.Fatal(err)
	}

	names, err := r.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("got %v, want 2 instances", names)
	}
}

func TestRegistryRemoveDeletesDocumentAndEmptyBlueprintDir(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Save("factorio", sampleInstance("factorio")); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove("factorio"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := r.Find("factorio"); Classify(err) != ErrNotFound {
		t.Errorf("expected ErrNotFound after Remove, got %v", err)
	}
	if _, err := os.Stat(r.blueprintDir("factorio")); !os.IsNotExist(err) {
		t.Errorf("expected empty blueprint dir to be removed, got err=%v", err)
	}
}

func TestRegistryRebuildRepopulatesIndexFromDisk(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Save("factorio", sampleInstance("factorio")); err != nil {
		t.Fatal(err)
	}
	if err := r.index.Delete("factorio"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := r.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	row, ok, err := r.index.Get("factorio")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected Rebuild to repopulate the index row for factorio")
	}
	if row.Blueprint != "factorio" {
		t.Errorf("got blueprint %q", row.Blueprint)
	}
}
