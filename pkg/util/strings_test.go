package util

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"vagrantlab", "vagrantlab"},
		{"Arista", "arista"},
		{"VagrantLab RIR", "vagrantlab-rir"},
		{"ceos switch / 24p", "ceos-switch-24p"},
		{"fabric_link", "fabric_link"},
		{"--edge--", "edge"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
