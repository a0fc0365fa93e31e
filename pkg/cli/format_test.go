package cli

import (
	"os"
	"strings"
	"testing"
)

func TestDotPad(t *testing.T) {
	tests := []struct {
		input string
		width int
		want  string
	}{
		{"devices", 16, "devices ........"},
		{"ok", 4, "ok ."},
		{"cabling", 8, "cabling"},
		{"interface-templates", 10, "interface-templates"},
		{"", 3, " .."},
		{"", 1, ""},
		{"sites", 0, "sites"},
	}
	for _, tt := range tests {
		if got := DotPad(tt.input, tt.width); got != tt.want {
			t.Errorf("DotPad(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
		}
	}

	for _, name := range []string{"sites", "l2vpn", "link-addressing"} {
		if got := DotPad(name, 24); len(got) != 24 {
			t.Errorf("len(DotPad(%q, 24)) = %d, want 24", name, len(got))
		}
	}
}

func TestColorFunctions(t *testing.T) {
	defer SetColor(ColorEnabled())
	SetColor(true)

	tests := []struct {
		name   string
		fn     func(string) string
		prefix string
	}{
		{"Green", Green, "\033[32m"},
		{"Yellow", Yellow, "\033[33m"},
		{"Red", Red, "\033[31m"},
		{"Bold", Bold, "\033[1m"},
		{"Dim", Dim, "\033[2m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn("hello")
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("%s should start with %q", tt.name, tt.prefix)
			}
			if !strings.Contains(got, "hello") {
				t.Errorf("%s should contain the input string", tt.name)
			}
			if !strings.HasSuffix(got, "\033[0m") {
				t.Errorf("%s should end with reset code", tt.name)
			}
		})

		t.Run(tt.name+"_empty", func(t *testing.T) {
			got := tt.fn("")
			if !strings.HasSuffix(got, "\033[0m") {
				t.Errorf("%s(\"\") should end with reset code", tt.name)
			}
		})
	}
}

func TestColorDisabled(t *testing.T) {
	defer SetColor(ColorEnabled())
	SetColor(false)

	for _, fn := range []func(string) string{Green, Yellow, Red, Bold, Dim} {
		if got := fn("hello"); got != "hello" {
			t.Errorf("color off: got %q, want %q", got, "hello")
		}
	}
}

func TestDetectColor(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if detectColor("1", f.Fd()) {
		t.Error("NO_COLOR should disable colors")
	}
	if detectColor("", f.Fd()) {
		t.Error("a regular file is not a terminal")
	}
}
