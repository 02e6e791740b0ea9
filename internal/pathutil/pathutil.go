// Package pathutil normalizes POSIX paths used throughout drivefs: the
// FUSE layer, the metadata/data caches, and the remote client all agree on
// one canonical form so cache keys and remote paths never drift apart.
package pathutil

import (
	"path"
	"strings"
)

// Normalize returns the canonical form of p: a leading "/", no trailing
// "/" (except for the root itself), and no "." or ".." segments.
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	clean := path.Clean(p)
	if clean == "." {
		return "/"
	}
	return clean
}

// Join joins a parent path and a child name, normalizing the result.
func Join(parent, name string) string {
	return Normalize(path.Join(parent, name))
}

// Dir returns the normalized parent directory of p.
func Dir(p string) string {
	return Normalize(path.Dir(Normalize(p)))
}

// Base returns the final path element of p.
func Base(p string) string {
	return path.Base(Normalize(p))
}

// IsRoot reports whether p (once normalized) is the filesystem root.
func IsRoot(p string) bool {
	return Normalize(p) == "/"
}

// HasPrefix reports whether path p lies at or under prefix, treating
// prefix as a directory boundary rather than a raw string prefix.
func HasPrefix(p, prefix string) bool {
	p = Normalize(p)
	prefix = Normalize(prefix)
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// ReplacePrefix rewrites p from under oldPrefix to under newPrefix. p must
// satisfy HasPrefix(p, oldPrefix); callers that can't guarantee this
// should check first.
func ReplacePrefix(p, oldPrefix, newPrefix string) string {
	p = Normalize(p)
	oldPrefix = Normalize(oldPrefix)
	newPrefix = Normalize(newPrefix)
	if p == oldPrefix {
		return newPrefix
	}
	rel := strings.TrimPrefix(p, oldPrefix+"/")
	return Normalize(newPrefix + "/" + rel)
}
