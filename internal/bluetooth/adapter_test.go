package bluetooth

import (
	"testing"

	"tinygo.org/x/bluetooth"

	"rpn/internal/printer"
)

type fakePayload struct {
	bluetooth.AdvertisementPayload
	name     string
	services []bluetooth.UUID
}

func (p fakePayload) LocalName() string { return p.name }

func (p fakePayload) HasServiceUUID(u bluetooth.UUID) bool {
	for _, s := range p.services {
		if s == u {
			return true
		}
	}
	return false
}

func TestMatches(t *testing.T) {
	svc, err := parseUUIDs([]string{printer.ServiceUUID})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	adv := fakePayload{name: "RPP02N", services: svc}
	other := fakePayload{name: "RPP02N"}
	const addr = "AA:BB:CC:DD:EE:FF"

	cases := []struct {
		name string
		p    fakePayload
		f    printer.Filter
		want bool
	}{
		{"service match", adv, printer.DefaultFilter(), true},
		{"service missing", other, printer.DefaultFilter(), false},
		{"name prefix", adv, printer.Filter{NamePrefix: "RPP"}, true},
		{"name prefix mismatch", adv, printer.Filter{NamePrefix: "MTP"}, false},
		{"pinned address", adv, printer.Filter{Address: "aa:bb:cc:dd:ee:ff"}, true},
		{"other address", adv, printer.Filter{Address: "11:22:33:44:55:66"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			services, _ := parseUUIDs(tc.f.Services)
			if got := matches(tc.p, addr, services, tc.f); got != tc.want {
				t.Fatalf("matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseUUIDs_Invalid(t *testing.T) {
	if _, err := parseUUIDs([]string{"not-a-uuid"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

var _ printer.WriteLimiter = (*characteristic)(nil)

func TestChunkLimit(t *testing.T) {
	cases := []struct {
		mtu  uint16
		want int
	}{
		{0, 0},
		{3, 0},
		{23, 20}, // BLE default
		{185, 182},
		{517, 514},
	}
	for _, tc := range cases {
		if got := chunkLimit(tc.mtu); got != tc.want {
			t.Fatalf("chunkLimit(%d) = %d, want %d", tc.mtu, got, tc.want)
		}
	}
}
