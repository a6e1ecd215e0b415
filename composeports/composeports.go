// Package composeports extracts the port list from a container blueprint's
// docker-compose-style descriptor and translates it into KGSM's canonical
// UFW port-spec grammar (spec.md §6).
package composeports

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/TheKrystalShip/kgsm/ports"
)

// descriptor is the minimal shape KGSM reads out of a *.docker-compose.yml
// blueprint: each service's `image:` and `ports:` entries, reusing
// compose-go/v2/types.ServicePortConfig for each entry the way quad-ops's
// BuildContainer does for systemd unit generation.
type descriptor struct {
	Services map[string]struct {
		Image string                     `yaml:"image"`
		Ports []types.ServicePortConfig `yaml:"ports"`
	} `yaml:"services"`
}

// ExtractPorts parses the compose descriptor at path and returns its
// combined port set, translated into the canonical UFW grammar. Compose
// files name ports per-service; every service's ports are unioned since a
// KGSM container blueprint corresponds to exactly one runnable unit.
func ExtractPorts(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading compose descriptor %s: %w", path, err)
	}

	var d descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return "", fmt.Errorf("parsing compose descriptor %s: %w", path, err)
	}

	var ranges []ports.Range
	for _, svc := range d.Services {
		for _, p := range svc.Ports {
			r, err := fromServicePort(p)
			if err != nil {
				return "", fmt.Errorf("%s: %w", path, err)
			}
			ranges = append(ranges, r)
		}
	}
	return ports.String(ranges), nil
}

// ExtractImage returns the compose descriptor's single service image
// reference, for the container downloader/version-probe collaborators that
// need it (SPEC_FULL.md §5.10).
func ExtractImage(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading compose descriptor %s: %w", path, err)
	}
	var d descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return "", fmt.Errorf("parsing compose descriptor %s: %w", path, err)
	}
	for _, svc := range d.Services {
		if svc.Image != "" {
			return svc.Image, nil
		}
	}
	return "", fmt.Errorf("%s: no service declares an image", path)
}

// fromServicePort translates one compose `ports:` entry — "H:C/proto" or
// "H:C" (defaulting to tcp), per spec.md §6 — into a ports.Range.
func fromServicePort(p types.ServicePortConfig) (ports.Range, error) {
	proto := ports.TCP
	if p.Protocol != "" {
		switch strings.ToLower(p.Protocol) {
		case "tcp":
			proto = ports.TCP
		case "udp":
			proto = ports.UDP
		default:
			return ports.Range{}, fmt.Errorf("unsupported compose port protocol %q", p.Protocol)
		}
	}

	hostPort := p.Published
	if hostPort == "" {
		hostPort = strconv.FormatUint(uint64(p.Target), 10)
	}
	n, err := strconv.Atoi(hostPort)
	if err != nil {
		return ports.Range{}, fmt.Errorf("invalid compose host port %q: %w", hostPort, err)
	}
	return ports.Range{Start: n, End: n, Proto: proto}, nil
}
