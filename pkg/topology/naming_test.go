package topology

import "testing"

func TestDeviceName(t *testing.T) {
	tests := []struct {
		prefix string
		index  int
		width  int
		want   string
	}{
		{"ceos-leaf-", 1, 2, "ceos-leaf-01"},
		{"ceos-leaf-", 12, 2, "ceos-leaf-12"},
		{"ceos-spine-", 100, 2, "ceos-spine-100"},
		{"sw", 7, 3, "sw007"},
		{"sw", 7, 0, "sw7"},
	}

	for _, tt := range tests {
		if got := DeviceName(tt.prefix, tt.index, tt.width); got != tt.want {
			t.Errorf("DeviceName(%q, %d, %d) = %q, want %q", tt.prefix, tt.index, tt.width, got, tt.want)
		}
	}
}

func TestInterfaceName(t *testing.T) {
	if got := InterfaceName("Ethernet", 4); got != "Ethernet4" {
		t.Errorf("InterfaceName = %q, want Ethernet4", got)
	}
	if got := InterfaceName("Ethernet1/", 12); got != "Ethernet1/12" {
		t.Errorf("InterfaceName = %q, want Ethernet1/12", got)
	}
}

func TestInterfacePrefix(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"Ethernet1", "Ethernet", true},
		{"Ethernet24", "Ethernet", true},
		{"Ethernet1/1", "Ethernet1/", true},
		{"Ethernet1/12", "Ethernet1/", true},
		{"swp3", "swp", true},
		{"mgmt", "", false},
		{"42", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InterfacePrefix(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("InterfacePrefix(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestInterfacePrefixRoundTrip(t *testing.T) {
	for _, prefix := range []string{"Ethernet", "Ethernet1/", "swp"} {
		for _, pos := range []int{1, 9, 10, 48} {
			got, ok := InterfacePrefix(InterfaceName(prefix, pos))
			if !ok || got != prefix {
				t.Errorf("InterfacePrefix(InterfaceName(%q, %d)) = (%q, %v)", prefix, pos, got, ok)
			}
		}
	}
}
