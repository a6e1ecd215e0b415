// Package ports implements the UFW-style port-spec grammar used throughout
// KGSM as the canonical port representation (spec.md §6):
//
//	<port>[:<port>][/<proto>](|<port>[:<port>][/<proto>])*
//
// e.g. "16261:16262/tcp|16261:16262/udp". Ports is also responsible for
// translating a canonical spec into the flat list of individual ports UPnP
// mapping needs, and back.
package ports

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Proto is one of the two UFW-supported protocols.
type Proto string

const (
	TCP Proto = "tcp"
	UDP Proto = "udp"
)

// Range is a single `<port>[:<port>][/<proto>]` clause, with proto defaulted
// to tcp when the spec omits it (the UFW grammar allows that; KGSM always
// canonicalizes the proto explicitly when re-rendering, see String).
type Range struct {
	Start, End int // End == Start for a single port
	Proto      Proto
}

// Port is a single, unrolled host port + protocol pair, e.g. what the UPnP
// integration needs to request one mapping per port.
type Port struct {
	Number int
	Proto  Proto
}

func (p Port) String() string {
	return fmt.Sprintf("%d/%s", p.Number, p.Proto)
}

// Parse parses a UFW-style spec into its clauses. An empty spec parses to an
// empty, non-error Range slice.
func Parse(spec string) ([]Range, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	clauses := strings.Split(spec, "|")
	ranges := make([]Range, 0, len(clauses))
	for _, clause := range clauses {
		r, err := parseClause(strings.TrimSpace(clause))
		if err != nil {
			return nil, fmt.Errorf("invalid port spec clause %q: %w", clause, err)
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseClause(clause string) (Range, error) {
	proto := TCP
	portPart := clause
	if idx := strings.LastIndex(clause, "/"); idx >= 0 {
		protoStr := strings.ToLower(clause[idx+1:])
		switch Proto(protoStr) {
		case TCP, UDP:
			proto = Proto(protoStr)
		default:
			return Range{}, fmt.Errorf("unknown protocol %q", protoStr)
		}
		portPart = clause[:idx]
	}

	if portPart == "" {
		return Range{}, fmt.Errorf("missing port")
	}

	parts := strings.SplitN(portPart, ":", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return Range{}, fmt.Errorf("invalid port %q: %w", parts[0], err)
	}
	end := start
	if len(parts) == 2 {
		end, err = strconv.Atoi(parts[1])
		if err != nil {
			return Range{}, fmt.Errorf("invalid port %q: %w", parts[1], err)
		}
	}
	if end < start {
		return Range{}, fmt.Errorf("range end %d before start %d", end, start)
	}
	return Range{Start: start, End: end, Proto: proto}, nil
}

// String renders ranges back into UFW-spec form, clause order preserved.
func String(ranges []Range) string {
	clauses := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r.Start == r.End {
			clauses = append(clauses, fmt.Sprintf("%d/%s", r.Start, r.Proto))
		} else {
			clauses = append(clauses, fmt.Sprintf("%d:%d/%s", r.Start, r.End, r.Proto))
		}
	}
	return strings.Join(clauses, "|")
}

// Expand unrolls ranges into the flat, individually-addressable ports UPnP
// mapping operates on (spec.md S6/S8 scenario S6).
func Expand(ranges []Range) []Port {
	var out []Port
	for _, r := range ranges {
		for p := r.Start; p <= r.End; p++ {
			out = append(out, Port{Number: p, Proto: r.Proto})
		}
	}
	return out
}

// Collapse is the inverse of Expand: it groups a flat port list back into
// contiguous same-protocol ranges, matching canonical clause order so that
// Parse -> Expand -> Collapse -> String is the identity on already-canonical
// specs (spec.md §8 invariant 6).
func Collapse(points []Port) []Range {
	if len(points) == 0 {
		return nil
	}
	byProto := map[Proto][]int{}
	order := []Proto{}
	for _, p := range points {
		if _, ok := byProto[p.Proto]; !ok {
			order = append(order, p.Proto)
		}
		byProto[p.Proto] = append(byProto[p.Proto], p.Number)
	}

	var ranges []Range
	for _, proto := range order {
		nums := byProto[proto]
		sort.Ints(nums)
		i := 0
		for i < len(nums) {
			start := nums[i]
			end := start
			j := i + 1
			for j < len(nums) && nums[j] == end+1 {
				end = nums[j]
				j++
			}
			ranges = append(ranges, Range{Start: start, End: end, Proto: proto})
			i = j
		}
	}
	return ranges
}

// ToUPnP translates a canonical UFW spec into the unrolled port list the
// UPnP integration stores as Instance.UPnPPorts.
func ToUPnP(spec string) ([]string, error) {
	ranges, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	points := Expand(ranges)
	out := make([]string, 0, len(points))
	for _, p := range points {
		out = append(out, p.String())
	}
	return out, nil
}

// FromUPnP is the inverse of ToUPnP: it collapses an unrolled port list back
// into a canonical UFW spec.
func FromUPnP(upnpPorts []string) (string, error) {
	points := make([]Port, 0, len(upnpPorts))
	for _, s := range upnpPorts {
		idx := strings.LastIndex(s, "/")
		if idx < 0 {
			return "", fmt.Errorf("invalid upnp port entry %q", s)
		}
		n, err := strconv.Atoi(s[:idx])
		if err != nil {
			return "", fmt.Errorf("invalid upnp port entry %q: %w", s, err)
		}
		proto := Proto(strings.ToLower(s[idx+1:]))
		if proto != TCP && proto != UDP {
			return "", fmt.Errorf("invalid upnp protocol in %q", s)
		}
		points = append(points, Port{Number: n, Proto: proto})
	}
	return String(Collapse(points)), nil
}
