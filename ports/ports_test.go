package ports

import (
	"reflect"
	"testing"
)

func TestParseString(t *testing.T) {
	cases := []struct {
		name string
		spec string
		want []Range
	}{
		{"single port defaults tcp", "25565", []Range{{25565, 25565, TCP}}},
		{"single port udp", "19132/udp", []Range{{19132, 19132, UDP}}},
		{"range tcp", "16261:16262/tcp", []Range{{16261, 16262, TCP}}},
		{"multi clause", "16261:16262/tcp|16261:16262/udp", []Range{
			{16261, 16262, TCP},
			{16261, 16262, UDP},
		}},
		{"empty", "", nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Parse(c.spec)
			if err != nil {
				t.Fatalf("Parse(%q): %v", c.spec, err)
			}
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", c.spec, got, c.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{"", "/tcp", "abc/tcp", "100:50/tcp", "100/sctp"}
	for _, spec := range bad {
		if spec == "" {
			continue // empty spec is valid, parses to nil
		}
		if _, err := Parse(spec); err == nil {
			t.Errorf("Parse(%q): expected error, got none", spec)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	specs := []string{
		"25565/tcp",
		"16261:16262/tcp|16261:16262/udp",
	}
	for _, spec := range specs {
		ranges, err := Parse(spec)
		if err != nil {
			t.Fatalf("Parse(%q): %v", spec, err)
		}
		if got := String(ranges); got != spec {
			t.Errorf("String(Parse(%q)) = %q, want %q", spec, got, spec)
		}
	}
}

func TestToUPnPFromUPnPRoundTrip(t *testing.T) {
	spec := "16261:16263/tcp|19132/udp"
	upnp, err := ToUPnP(spec)
	if err != nil {
		t.Fatalf("ToUPnP: %v", err)
	}
	want := []string{"16261/tcp", "16262/tcp", "16263/tcp", "19132/udp"}
	if !reflect.DeepEqual(upnp, want) {
		t.Errorf("ToUPnP(%q) = %v, want %v", spec, upnp, want)
	}

	back, err := FromUPnP(upnp)
	if err != nil {
		t.Fatalf("FromUPnP: %v", err)
	}
	if back != spec {
		t.Errorf("FromUPnP(ToUPnP(%q)) = %q, want %q", spec, back, spec)
	}
}

func TestFromUPnPInvalid(t *testing.T) {
	if _, err := FromUPnP([]string{"not-a-port"}); err == nil {
		t.Error("expected error for malformed upnp entry")
	}
	if _, err := FromUPnP([]string{"80/sctp"}); err == nil {
		t.Error("expected error for unsupported protocol")
	}
}
