package vfs

import (
	"strings"
	"testing"
)

func TestCanonicalizePath(t *testing.T) {
	tests := []struct {
		path string
		wd   string
		want string
	}{
		{"/", "/", "/"},
		{"", "/home", "/home"},
		{"/a/./b/../c", "/", "/a/c"},
		{"a/b", "/x", "/x/a/b"},
		{"../..", "/x", "/"},
		{"//a//b/", "/", "/a/b"},
		{"..", "/", "/"},
		{"a", "", "/a"},
		{"a", "relative", "/a"},
		{"/a/b/../../..", "/", "/"},
		{"./.", "/usr/bin", "/usr/bin"},
	}

	for _, tt := range tests {
		got := CanonicalizePath(tt.path, tt.wd)
		if got != tt.want {
			t.Errorf("CanonicalizePath(%q, %q) = %q, want %q", tt.path, tt.wd, got, tt.want)
		}
		if again := CanonicalizePath(got, "/"); again != got {
			t.Errorf("CanonicalizePath(%q) is not idempotent: %q", got, again)
		}
		if !strings.HasPrefix(got, "/") || strings.Contains(got, "//") {
			t.Errorf("CanonicalizePath(%q, %q) = %q is not canonical", tt.path, tt.wd, got)
		}
	}
}

func TestBaseNameAndDirName(t *testing.T) {
	tests := []struct {
		path, base, dir string
	}{
		{"/", "/", "/"},
		{"/a", "a", "/"},
		{"/a/b", "b", "/a"},
		{"/a/b/", "b", "/a"},
		{"a", "a", "."},
		{"a/b", "b", "a"},
		{"/a//b", "b", "/a"},
	}

	for _, tt := range tests {
		if got := BaseName(tt.path); got != tt.base {
			t.Errorf("BaseName(%q) = %q, want %q", tt.path, got, tt.base)
		}
		if got := DirName(tt.path); got != tt.dir {
			t.Errorf("DirName(%q) = %q, want %q", tt.path, got, tt.dir)
		}
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path string
		want error
	}{
		{"/ok/path", nil},
		{"", ErrNotFound},
		{"/a\x00b", ErrInvalid},
		{"/" + strings.Repeat("x", NameMax+1), ErrNameTooLong},
		{"/" + strings.Repeat("x/", PathMax/2), ErrNameTooLong},
	}

	for _, tt := range tests {
		if got := ValidatePath(tt.path); got != tt.want {
			t.Errorf("ValidatePath(%.20q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{"file", nil},
		{strings.Repeat("n", NameMax), nil},
		{strings.Repeat("n", NameMax+1), ErrNameTooLong},
		{"", ErrInvalid},
		{"a/b", ErrInvalid},
	}

	for _, tt := range tests {
		if got := ValidateName(tt.name); got != tt.want {
			t.Errorf("ValidateName(%.20q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
