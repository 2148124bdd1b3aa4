package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/projects", filepath.Join(home, "projects")},
		{"/abs/path", "/abs/path"},
		{"~user/other", "~user/other"},
	}
	for _, tc := range cases {
		if got := ExpandUser(tc.in); got != tc.want {
			t.Errorf("ExpandUser(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestShortenUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := ShortenUser(filepath.Join(home, "work")); got != "~/work" {
		t.Errorf("ShortenUser() = %q, want ~/work", got)
	}
	if got := ShortenUser("/etc/hosts"); got != "/etc/hosts" {
		t.Errorf("ShortenUser() = %q, want unchanged", got)
	}
}

func TestIsDescendant(t *testing.T) {
	cases := []struct {
		root, path string
		want       bool
	}{
		{"/ws/foo", "/ws/foo/main.go", true},
		{"/ws/foo", "/ws/foo", true},
		{"/ws/foo", "/ws/foobar/main.go", false},
		{"/ws/foo", "/ws", false},
		{"/ws/foo", "/ws/foo/../bar/x.go", false},
		{"", "/ws/foo", false},
	}
	for _, tc := range cases {
		if got := IsDescendant(tc.root, tc.path); got != tc.want {
			t.Errorf("IsDescendant(%q, %q) = %v, want %v", tc.root, tc.path, got, tc.want)
		}
	}
}
