package util

import (
	"strings"
	"testing"
)

func TestIsValidIPv4CIDR(t *testing.T) {
	tests := []struct {
		cidr string
		want bool
	}{
		{"192.168.254.0/24", true},
		{"192.168.255.0/26", true},
		{"192.168.254.1/31", true},
		{"192.168.254.0", false},
		{"192.168.254.0/33", false},
		{"2001:db8::/64", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidIPv4CIDR(tt.cidr); got != tt.want {
			t.Errorf("IsValidIPv4CIDR(%q) = %v, want %v", tt.cidr, got, tt.want)
		}
	}
}

func TestSplitIPMask(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantLen  int
	}{
		{"192.168.254.1/31", "192.168.254.1", 31},
		{"192.168.255.6/32", "192.168.255.6", 32},
		{"192.168.254.1", "192.168.254.1", 0},
		{"192.168.254.1/abc", "192.168.254.1", 0},
	}
	for _, tt := range tests {
		host, n := SplitIPMask(tt.in)
		if host != tt.wantHost || n != tt.wantLen {
			t.Errorf("SplitIPMask(%q) = (%q, %d), want (%q, %d)", tt.in, host, n, tt.wantHost, tt.wantLen)
		}
	}
}

func TestDeriveNeighborIP(t *testing.T) {
	tests := []struct {
		name    string
		local   string
		want    string
		wantErr string
	}{
		{name: "/31 lower", local: "192.168.254.0/31", want: "192.168.254.1"},
		{name: "/31 upper", local: "192.168.254.15/31", want: "192.168.254.14"},
		{name: "/30 first host", local: "10.1.1.1/30", want: "10.1.1.2"},
		{name: "/30 second host", local: "10.1.1.6/30", want: "10.1.1.5"},
		{name: "/30 network", local: "10.1.1.0/30", wantErr: "network or broadcast"},
		{name: "/30 broadcast", local: "10.1.1.3/30", wantErr: "network or broadcast"},
		{name: "not point-to-point", local: "10.1.1.1/24", wantErr: "not a point-to-point"},
		{name: "no mask", local: "10.1.1.1", wantErr: "with a mask"},
		{name: "IPv6", local: "2001:db8::1/127", wantErr: "only IPv4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveNeighborIP(tt.local)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("DeriveNeighborIP(%q) error = %v, want containing %q", tt.local, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveNeighborIP(%q) unexpected error: %v", tt.local, err)
			}
			if got != tt.want {
				t.Errorf("DeriveNeighborIP(%q) = %q, want %q", tt.local, got, tt.want)
			}
		})
	}
}

func TestValidateNumbers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"asn private", ValidateASN(65100), false},
		{"asn 4-byte max", ValidateASN(MaxASN), false},
		{"asn zero", ValidateASN(0), true},
		{"asn too large", ValidateASN(MaxASN + 1), true},
		{"vlan 1", ValidateVLANID(1), false},
		{"vlan 4094", ValidateVLANID(4094), false},
		{"vlan 4095", ValidateVLANID(4095), true},
		{"vni 10100", ValidateVNI(10100), false},
		{"vni 24-bit max", ValidateVNI(MaxVNI), false},
		{"vni overflow", ValidateVNI(MaxVNI + 1), true},
		{"vni zero", ValidateVNI(0), true},
	}
	for _, tt := range tests {
		if (tt.err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, tt.err, tt.wantErr)
		}
	}
}
