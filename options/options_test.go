package options

import (
	"reflect"
	"testing"
)

func check[T any](t *testing.T, name string, s T, expected []string) {
	t.Helper()
	got := ToArgs(&s)
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("%s: got %v, want %v", name, got, expected)
	}
}

func TestToArgs(t *testing.T) {
	check(t, "empty", SystemctlAction{}, nil)

	check(t, "now", SystemctlAction{Now: true}, []string{
		"--now", // bools don't get a value, just include the flag name.
	})

	check(t, "now and user", SystemctlAction{UserMode: true, Now: true}, []string{
		"--user",
		"--now",
	})

	check(t, "ufw allow comment", UfwAllow{Comment: "kgsm-minecraft"}, []string{
		"comment", "kgsm-minecraft",
	})

	check(t, "tar create", TarCreate{
		Create:    true,
		Gzip:      true,
		File:      "/opt/minecraft/backups/minecraft-1.2-2026-01-01T00:00:00.backup.tar.gz",
		ChangeDir: "/opt/minecraft/install",
	}, []string{
		"-c",
		"-z",
		"-f", "/opt/minecraft/backups/minecraft-1.2-2026-01-01T00:00:00.backup.tar.gz",
		"-C", "/opt/minecraft/install",
	})

	check(t, "tar extract", TarExtract{
		Extract:   true,
		Gzip:      true,
		File:      "minecraft-1.2-2026-01-01T00:00:00.backup.tar.gz",
		ChangeDir: "/opt/minecraft/install",
	}, []string{
		"-x",
		"-z",
		"-f", "minecraft-1.2-2026-01-01T00:00:00.backup.tar.gz",
		"-C", "/opt/minecraft/install",
	})

	check(t, "systemctl status quiet", SystemctlStatus{Quiet: true}, []string{"--quiet"})
}
