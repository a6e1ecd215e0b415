package composeports

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExtractPortsUnionsServices(t *testing.T) {
	yaml := `
services:
  server:
    image: itzg/minecraft-server
    ports:
      - "25565:25565/tcp"
  bedrock:
    image: itzg/minecraft-bedrock-server
    ports:
      - "19132:19132/udp"
`
	path := filepath.Join(t.TempDir(), "minecraft.docker-compose.yml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ExtractPorts(path)
	if err != nil {
		t.Fatalf("ExtractPorts: %v", err)
	}
	if got != "25565/tcp|19132/udp" && got != "19132/udp|25565/tcp" {
		t.Errorf("got %q", got)
	}
}

func TestExtractPortsDefaultsToTCP(t *testing.T) {
	yaml := `
services:
  server:
    image: some/image
    ports:
      - "8080:80"
`
	path := filepath.Join(t.TempDir(), "svc.docker-compose.yml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ExtractPorts(path)
	if err != nil {
		t.Fatalf("ExtractPorts: %v", err)
	}
	if got != "8080/tcp" {
		t.Errorf("got %q, want 8080/tcp", got)
	}
}
