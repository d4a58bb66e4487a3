package vfs

import "strings"

// ResolvePath finds the node named by path. Absolute paths start at the
// namespace root, relative ones at wd (the root when wd is nil). Mount
// points are crossed transparently and symbolic links in the middle of the
// path are always expanded, relative to the directory holding the link. A
// final symbolic link is expanded only when follow is set. One resolution
// expands at most MaxSymlinkExpansions links.
//
// When a component is missing the directory searched records the error
// as its LastError and ErrNotFound is returned with a nil Node.
func (ns *Namespace) ResolvePath(path string, wd Node, follow bool) (Node, error) {
	budget := MaxSymlinkExpansions
	stack, err := ns.startStack(path, wd)
	if err != nil {
		return nil, err
	}
	stack, err = ns.walkPath(stack, path, follow, &budget)
	if err != nil {
		return nil, err
	}
	return stack[len(stack)-1], nil
}

// ResolvePathAt is ResolvePath with the working directory given as a path.
func (ns *Namespace) ResolvePathAt(path, wdPath string, follow bool) (Node, error) {
	var wd Node
	if !IsAbs(path) && wdPath != "" && wdPath != "/" {
		var err error
		if wd, err = ns.ResolvePath(wdPath, nil, true); err != nil {
			return nil, err
		}
		if !isDirLike(wd.Base()) {
			return nil, ErrNotDirectory
		}
	}
	return ns.ResolvePath(path, wd, follow)
}

// ResolveParent resolves all but the last component of path and returns
// the directory found together with the last component. Paths without a
// usable last component, such as "/" or ones ending in "..", are invalid.
func (ns *Namespace) ResolveParent(path string, wd Node) (Node, string, error) {
	if err := ValidatePath(path); err != nil {
		return nil, "", err
	}

	name := BaseName(path)
	if name == "/" || name == "." || name == ".." {
		return nil, "", ErrInvalid
	}

	dir := DirName(path)
	parent, err := ns.ResolvePath(dir, wd, true)
	if err != nil {
		return nil, "", err
	}
	if !isDirLike(parent.Base()) {
		return nil, "", ErrNotDirectory
	}
	return parent, name, nil
}

// FollowLink expands link, which lives in directory wd. A node that is not
// a symbolic link is returned unchanged.
func (ns *Namespace) FollowLink(link Node, wd Node) (Node, error) {
	if !link.Base().IsSymlink() {
		return link, nil
	}

	target, err := link.ReadLink()
	if err != nil {
		return nil, err
	}

	budget := MaxSymlinkExpansions - 1
	stack, err := ns.startStack(target, wd)
	if err != nil {
		return nil, err
	}
	stack, err = ns.walkPath(stack, target, true, &budget)
	if err != nil {
		return nil, err
	}
	return stack[len(stack)-1], nil
}

func (ns *Namespace) startStack(path string, wd Node) ([]Node, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	var start Node
	if IsAbs(path) || wd == nil {
		start = ns.Root()
	} else {
		start = ns.crossMount(wd)
	}
	if start == nil {
		return nil, ErrNotFound
	}
	return []Node{start}, nil
}

// walkPath resolves path component by component on top of stack, which
// holds the directories traversed so far so that ".." can step back
// through mount points and symbolic links.
func (ns *Namespace) walkPath(stack []Node, path string, follow bool, budget *int) ([]Node, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if IsAbs(path) {
		root := ns.Root()
		if root == nil {
			return nil, ErrNotFound
		}
		stack = append(stack[:0], root)
	}

	comps := splitPath(path)
	trailingSlash := strings.HasSuffix(path, "/")

	for i, name := range comps {
		cur := stack[len(stack)-1]
		last := i == len(comps)-1

		switch name {
		case ".":
			if !isDirLike(cur.Base()) {
				return nil, ErrNotDirectory
			}
			continue
		case "..":
			if !isDirLike(cur.Base()) {
				return nil, ErrNotDirectory
			}
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			} else if parent := ns.ParentOf(cur); parent != nil {
				stack[0] = parent
			}
			continue
		}

		if !isDirLike(cur.Base()) {
			return nil, ErrNotDirectory
		}

		child, err := FindDir(cur, name)
		if err != nil {
			cur.Base().SetError(err)
			return nil, err
		}
		child = ns.crossMount(child)

		if child.Base().IsSymlink() && (!last || follow || trailingSlash) {
			if *budget <= 0 {
				return nil, ErrTooManyLinks
			}
			*budget--

			target, err := child.ReadLink()
			if err != nil {
				return nil, err
			}
			if target == "" {
				return nil, ErrNotFound
			}
			if stack, err = ns.walkPath(stack, target, true, budget); err != nil {
				return nil, err
			}
			continue
		}

		stack = append(stack, child)
	}

	if trailingSlash && !isDirLike(stack[len(stack)-1].Base()) {
		return nil, ErrNotDirectory
	}
	return stack, nil
}
