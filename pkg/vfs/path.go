package vfs

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Clean normalizes an absolute path: it collapses repeated slashes, drops
// "." components and applies ".." lexically, never climbing above the root.
// A relative path is treated as relative to the root.
func Clean(p string) string {
	if p == "" {
		return "/"
	}

	var result []string
	for _, comp := range strings.Split(p, "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, comp)
		}
	}

	if len(result) == 0 {
		return "/"
	}
	return "/" + strings.Join(result, "/")
}

// IsAbs returns true if the path is absolute.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

// CanonicalizePath turns p into an absolute path without "." or ".."
// components and without repeated or trailing slashes. A relative p is
// taken relative to wd; an empty or relative wd means the root. The result
// is a fixed point: canonicalizing it again changes nothing.
func CanonicalizePath(p, wd string) string {
	if IsAbs(p) {
		return Clean(p)
	}
	if !IsAbs(wd) {
		wd = "/"
	}
	return Clean(wd + "/" + p)
}

// BaseName returns the last component of p, or "/" for the root.
func BaseName(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// DirName returns all but the last component of p. It is "." for a bare
// relative name and "/" for names directly under the root.
func DirName(p string) string {
	p = strings.TrimRight(p, "/")
	i := strings.LastIndex(p, "/")
	switch {
	case p == "" || i == 0:
		return "/"
	case i < 0:
		return "."
	}
	return strings.TrimRight(p[:i], "/")
}

// Join joins path elements with slashes and cleans the result.
func Join(elem ...string) string {
	return Clean(strings.Join(elem, "/"))
}

// splitPath breaks p into its non-empty components.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, c := range parts {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// ValidatePath checks that p can be resolved at all.
func ValidatePath(p string) error {
	if p == "" {
		return ErrNotFound
	}
	if len(p) >= PathMax {
		return ErrNameTooLong
	}
	if strings.Contains(p, "\x00") {
		return ErrInvalid
	}
	for _, c := range splitPath(p) {
		if len(c) > NameMax {
			return ErrNameTooLong
		}
	}
	return nil
}

// WalkFunc is called by Walk for every node visited. Returning an error
// stops the walk; SkipDir skips the children of a directory.
type WalkFunc func(path string, node Node, err error) error

// SkipDir tells Walk not to descend into the directory just visited.
var SkipDir = errors.New("vfs: skip this directory")

// Walk visits node and, if it is a directory, everything below it in
// directory order. Mount points are not crossed; use Namespace.Walk for
// that. "." and ".." entries are skipped.
func Walk(node Node, p string, fn WalkFunc) error {
	return walk(nil, node, Clean(p), fn)
}

func walk(ns *Namespace, node Node, p string, fn WalkFunc) error {
	if ns != nil {
		node = ns.crossMount(node)
	}

	err := fn(p, node, nil)
	if err == SkipDir {
		return nil
	}
	if err != nil || !node.Base().IsDirectory() {
		return err
	}

	for i := 0; ; i++ {
		ent, err := ReadDir(node, i)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fn(p, node, err)
		}
		if ent.Name == "." || ent.Name == ".." {
			continue
		}

		child := ent.Node
		if child == nil {
			if child, err = FindDir(node, ent.Name); err != nil {
				if err := fn(Join(p, ent.Name), nil, err); err != nil && err != SkipDir {
					return err
				}
				continue
			}
		}
		if err := walk(ns, child, Join(p, ent.Name), fn); err != nil {
			return err
		}
	}
}
