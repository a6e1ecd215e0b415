package kgsm

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{
		filepath.Join(root, "blueprints", "default"),
		filepath.Join(root, "blueprints", "custom"),
		filepath.Join(root, "instances"),
	} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}
	return &Context{Root: root}
}

func writeBlueprint(t *testing.T, ctx *Context, dir, name, body string) {
	t.Helper()
	path := filepath.Join(ctx.Root, "blueprints", dir, name+".bp")
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}
}

func TestBlueprintResolverFindPrefersCustomOverDefault(t *testing.T) {
	ctx := newTestContext(t)
	writeBlueprint(t, ctx, "default", "factorio", "ports=34197/udp\n")
	writeBlueprint(t, ctx, "custom", "factorio", "ports=34198/udp\n")

	r := newBlueprintResolver(ctx)
	path, err := r.Find("factorio")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(ctx.Root, "blueprints", "custom") {
		t.Errorf("got %s, want the custom blueprint to win", path)
	}
}

func TestBlueprintResolverFindReturnsNotFound(t *testing.T) {
	ctx := newTestContext(t)
	r := newBlueprintResolver(ctx)
	if _, err := r.Find("nonexistent"); Classify(err) != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBlueprintResolverListDedupesAndSorts(t *testing.T) {
	ctx := newTestContext(t)
	writeBlueprint(t, ctx, "default", "zomboid", "")
	writeBlueprint(t, ctx, "default", "factorio", "")
	writeBlueprint(t, ctx, "custom", "factorio", "")

	r := newBlueprintResolver(ctx)
	got, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"factorio", "zomboid"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestDescribeNativeParsesFields(t *testing.T) {
	ctx := newTestContext(t)
	body := "ports=34197/udp\n" +
		"executable_file=bin/x64/factorio\n" +
		"executable_arguments=--start-server $save_name\n" +
		"level_name=world1\n" +
		"stop_command=/quit\n" +
		"save_command=/server-save\n" +
		"steam_app_id=427520\n" +
		"is_steam_account_required=false\n" +
		"platform=linux\n"
	writeBlueprint(t, ctx, "default", "factorio", body)

	r := newBlueprintResolver(ctx)
	bp, err := r.Describe("factorio")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if bp.Runtime != RuntimeNative {
		t.Errorf("got runtime %v, want native", bp.Runtime)
	}
	if bp.Ports != "34197/udp" {
		t.Errorf("got ports %q", bp.Ports)
	}
	if bp.SteamAppID != "427520" {
		t.Errorf("got steam_app_id %q", bp.SteamAppID)
	}
	if bp.IsSteamAccountRequired {
		t.Errorf("expected is_steam_account_required=false")
	}
}

func TestInterpolateArgumentsSubstitutesKnownNames(t *testing.T) {
	got := interpolateArguments("--start-server $save_name --port $port", map[string]string{
		"save_name": "world1",
		"port":      "34197",
	})
	want := "--start-server world1 --port 34197"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInterpolateArgumentsLeavesUnknownReferencesBlank(t *testing.T) {
	got := interpolateArguments("--foo $unknown", map[string]string{})
	want := "--foo "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInterpolateArgumentsRejectsSubshellSyntax(t *testing.T) {
	got := interpolateArguments("--foo $(whoami)", map[string]string{})
	if got != "--foo $(whoami)" {
		t.Errorf("expected literal passthrough of non-identifier syntax, got %q", got)
	}
}
