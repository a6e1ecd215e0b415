package systemdunit

import (
	"strings"
	"testing"
)

func TestBuildServiceRendersRequiredDirectives(t *testing.T) {
	raw, err := BuildService(ServiceSpec{
		InstanceName:    "minecraft",
		ManagementFile:  "/opt/minecraft/minecraft.manage.sh",
		SocketUnitName:  "kgsm-minecraft.socket",
		PIDFile:         "/opt/minecraft/.minecraft.pid",
		WorkingDir:      "/opt/minecraft/install",
		StopTimeoutSecs: 30,
	})
	if err != nil {
		t.Fatalf("BuildService: %v", err)
	}
	out := string(raw)
	for _, want := range []string{
		"[Unit]",
		"Requires",
		"kgsm-minecraft.socket",
		"[Service]",
		"ExecStart",
		"minecraft.manage.sh start",
		"[Install]",
		"WantedBy",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered unit missing %q:\n%s", want, out)
		}
	}
}

func TestBuildSocketRendersListenFIFO(t *testing.T) {
	raw, err := BuildSocket(SocketSpec{
		InstanceName: "minecraft",
		SocketFile:   "/opt/minecraft/.minecraft.stdin",
	})
	if err != nil {
		t.Fatalf("BuildSocket: %v", err)
	}
	out := string(raw)
	if !strings.Contains(out, "ListenFIFO") || !strings.Contains(out, ".minecraft.stdin") {
		t.Errorf("rendered socket unit missing ListenFIFO path:\n%s", out)
	}
}
