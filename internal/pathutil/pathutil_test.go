package pathutil

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string is root", "", "/"},
		{"bare root", "/", "/"},
		{"missing leading slash", "foo/bar", "/foo/bar"},
		{"trailing slash stripped", "/foo/bar/", "/foo/bar"},
		{"double slashes collapsed", "/foo//bar", "/foo/bar"},
		{"dot segment removed", "/foo/./bar", "/foo/bar"},
		{"dotdot segment resolved", "/foo/baz/../bar", "/foo/bar"},
		{"already canonical", "/Users/test/file.txt", "/Users/test/file.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		parent, name, expected string
	}{
		{"/", "foo", "/foo"},
		{"/foo", "bar", "/foo/bar"},
		{"/foo/", "bar", "/foo/bar"},
	}

	for _, tt := range tests {
		if got := Join(tt.parent, tt.name); got != tt.expected {
			t.Errorf("Join(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.expected)
		}
	}
}

func TestDirAndBase(t *testing.T) {
	if got := Dir("/foo/bar"); got != "/foo" {
		t.Errorf("Dir(/foo/bar) = %q, want /foo", got)
	}
	if got := Dir("/foo"); got != "/" {
		t.Errorf("Dir(/foo) = %q, want /", got)
	}
	if got := Base("/foo/bar"); got != "bar" {
		t.Errorf("Base(/foo/bar) = %q, want bar", got)
	}
}

func TestIsRoot(t *testing.T) {
	if !IsRoot("") || !IsRoot("/") {
		t.Error("expected empty string and / to be root")
	}
	if IsRoot("/foo") {
		t.Error("expected /foo to not be root")
	}
}

func TestHasPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		expected     bool
	}{
		{"/foo/bar", "/foo", true},
		{"/foo", "/foo", true},
		{"/foobar", "/foo", false},
		{"/foo/bar", "/", true},
		{"/anything", "/", true},
	}

	for _, tt := range tests {
		if got := HasPrefix(tt.path, tt.prefix); got != tt.expected {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.expected)
		}
	}
}

func TestReplacePrefix(t *testing.T) {
	tests := []struct {
		path, oldPrefix, newPrefix, expected string
	}{
		{"/a/b", "/a", "/c", "/c/b"},
		{"/a", "/a", "/c", "/c"},
		{"/a/b/c", "/a/b", "/x/y", "/x/y/c"},
	}

	for _, tt := range tests {
		if got := ReplacePrefix(tt.path, tt.oldPrefix, tt.newPrefix); got != tt.expected {
			t.Errorf("ReplacePrefix(%q, %q, %q) = %q, want %q", tt.path, tt.oldPrefix, tt.newPrefix, got, tt.expected)
		}
	}
}
