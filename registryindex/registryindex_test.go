package registryindex

import (
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "registryindex.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertGetDelete(t *testing.T) {
	idx := openTestIndex(t)

	row := Row{
		Name:             "minecraft",
		Blueprint:        "minecraft",
		Runtime:          "native",
		LifecycleManager: "standalone",
		WorkingDir:       "/opt/minecraft",
		InstalledVersion: "1.20.1",
		Status:           "stopped",
	}
	if err := idx.Upsert(row); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := idx.Get("minecraft")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected row to exist")
	}
	if got.InstalledVersion != "1.20.1" {
		t.Errorf("got InstalledVersion %q, want 1.20.1", got.InstalledVersion)
	}

	row.InstalledVersion = "1.20.2"
	if err := idx.Upsert(row); err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}
	got, _, _ = idx.Get("minecraft")
	if got.InstalledVersion != "1.20.2" {
		t.Errorf("got InstalledVersion %q after update, want 1.20.2", got.InstalledVersion)
	}

	if err := idx.Delete("minecraft"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = idx.Get("minecraft")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Error("expected row to be gone after Delete")
	}
}

func TestListFiltersByBlueprint(t *testing.T) {
	idx := openTestIndex(t)

	for _, r := range []Row{
		{Name: "minecraft", Blueprint: "minecraft"},
		{Name: "minecraft-01", Blueprint: "minecraft"},
		{Name: "rust", Blueprint: "rust"},
	} {
		if err := idx.Upsert(r); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	all, err := idx.List("")
	if err != nil {
		t.Fatalf("List(\"\"): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d rows, want 3", len(all))
	}

	mc, err := idx.List("minecraft")
	if err != nil {
		t.Fatalf("List(minecraft): %v", err)
	}
	if len(mc) != 2 {
		t.Errorf("got %d minecraft rows, want 2", len(mc))
	}
}

func TestRebuildReplacesContents(t *testing.T) {
	idx := openTestIndex(t)

	if err := idx.Upsert(Row{Name: "stale", Blueprint: "bp"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := idx.Rebuild([]Row{
		{Name: "fresh1", Blueprint: "bp"},
		{Name: "fresh2", Blueprint: "bp"},
	}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	rows, err := idx.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows after rebuild, want 2", len(rows))
	}
	for _, r := range rows {
		if r.Name == "stale" {
			t.Error("stale row survived Rebuild")
		}
	}
}
