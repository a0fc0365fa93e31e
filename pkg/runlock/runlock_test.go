package runlock

import (
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://localhost:8000", "nbseed:lock:http://localhost:8000"},
		{"http://localhost:8000/", "nbseed:lock:http://localhost:8000"},
		{"https://netbox.lab/netbox/", "nbseed:lock:https://netbox.lab/netbox"},
	}
	for _, tt := range tests {
		if got := Key(tt.url); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestHolder(t *testing.T) {
	h := Holder("run-1")
	if !strings.HasSuffix(h, "/run-1") || !strings.Contains(h, "@") {
		t.Errorf("Holder() = %q, want user@host:pid/run-1", h)
	}
}

func TestNew_DefaultTTL(t *testing.T) {
	l := New(nil, "http://netbox.lab/", "me", 0)
	if l.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", l.ttl, DefaultTTL)
	}
	if l.Key() != "nbseed:lock:http://netbox.lab" {
		t.Errorf("Key() = %q", l.Key())
	}
	if New(nil, "x", "me", time.Second).ttl != time.Second {
		t.Error("explicit ttl should be kept")
	}
}
