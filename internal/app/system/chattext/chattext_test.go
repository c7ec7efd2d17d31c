package chattext_test

import (
	"testing"

	"github.com/dalemusser/mentorlink/internal/app/system/chattext"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "Hello, World!", "Hello, World!"},
		{"trims", "  hi there \n", "hi there"},
		{"less than", "if a<b then swap", "if a<b then swap"},
		{"angle brackets", "x <y> z", "x <y> z"},
		{"markup kept as text", "<b>bold</b>", "<b>bold</b>"},
		{"ampersand", "Tom & Jerry", "Tom & Jerry"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"drops control", "a\x00b\x1bc", "abc"},
		{"invalid utf8", "a\xffb", "a�b"},
		{"only whitespace", " \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chattext.Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
