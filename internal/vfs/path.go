package vfs

import (
	"golang.org/x/xerrors"

	"kernel/internal/defs"
	"kernel/internal/ustr"
)

// Resolve walks path to a Descriptor, the core VFS algorithm: reject a
// null/empty path, optionally reduce to the containing folder, choose
// root or current as the base, walk each remaining component other
// than "." through the owning superblock's Lookup, and substitute a mounted filesystem's
// root whenever resolution crosses a mount point.
func Resolve(mt *MountTable, path ustr.Ustr, current *Descriptor, containingFolder bool) (*Descriptor, defs.Err_t) {
	if len(path) == 0 {
		return nil, defs.EBadArgument
	}

	rootMount, ok := mt.Root()
	if !ok {
		return nil, defs.ENoFsMounted
	}
	root := rootMount.Root

	work := path
	if containingFolder {
		work = path.Dir()
		if work.Isdot() {
			if current == nil {
				return nil, defs.EBadArgument
			}
			return current, 0
		}
		if len(work) == 1 && work[0] == '/' {
			return root, 0
		}
	}

	var base *Descriptor
	if work.IsAbsolute() {
		base = root
	} else {
		if current == nil {
			return nil, defs.EBadArgument
		}
		base = current
	}

	for _, comp := range work.Components() {
		if comp.Isdot() {
			continue
		}
		if base.Kind != KindDir {
			return nil, defs.ENotADirectory
		}
		child, err := base.SB.Lookup(base, comp.String())
		if err != 0 {
			return nil, err
		}
		base = child

		if base.Kind == KindDir {
			if m, crossed := mt.lookupAt(base); crossed {
				base = m.Root
			}
		}
	}

	return base, 0
}

// ResolveErr wraps Resolve with a path-bearing frame for callers outside
// the VFS package itself, where a bare Err_t would otherwise lose which
// path resolution failed. Within this repository only the vfs tests
// call it. Internal callers within this layer keep using
// Resolve directly, since they already have the path in scope and the
// error travels through a tight Err_t-checking chain, not out to a
// process boundary.
func ResolveErr(mt *MountTable, path string, current *Descriptor, containingFolder bool) (*Descriptor, error) {
	desc, err := Resolve(mt, ustr.Ustr(path), current, containingFolder)
	if err != 0 {
		return nil, xerrors.Errorf("resolve %q: %w", path, err)
	}
	return desc, nil
}
