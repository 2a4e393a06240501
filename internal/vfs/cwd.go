package vfs

import (
	"sync"

	"kernel/internal/ustr"
)

// Cwd tracks a process's current working directory, grounded on the
// teacher's Cwd_t (vfs/fd_teacher.go): a descriptor plus the canonical
// path string it corresponds to, serialized against concurrent chdirs.
type Cwd struct {
	mu   sync.Mutex
	Desc *Descriptor
	Path ustr.Ustr
}

// MkRootCwd returns a Cwd anchored at "/".
func MkRootCwd(root *Descriptor) *Cwd {
	return &Cwd{Desc: root, Path: ustr.MkUstrRoot()}
}

// Fullpath joins the cwd with p if p is not already absolute.
func (cwd *Cwd) Fullpath(p ustr.Ustr) ustr.Ustr {
	cwd.mu.Lock()
	defer cwd.mu.Unlock()
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

// Canonicalize collapses "." and ".." components and repeated slashes
// out of p, the way path resolution expects a clean, fully tokenized
// path (no bpath package survived from the teacher's tree to lean on,
// so this is a from-scratch implementation of the same idea built
// directly on ustr.Components, see DESIGN.md).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	abs := p.IsAbsolute()
	comps := p.Components()
	out := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}

	if abs {
		if len(out) == 0 {
			return ustr.MkUstrRoot()
		}
		result := ustr.Ustr{'/'}
		result = append(result, out[0]...)
		for _, c := range out[1:] {
			result = result.Extend(c)
		}
		return result
	}

	var result ustr.Ustr
	if len(out) == 0 {
		return ustr.MkUstrDot()
	}
	result = out[0]
	for _, c := range out[1:] {
		result = result.Extend(c)
	}
	return result
}

// Chdir updates cwd to point at desc with canonical path p.
func (cwd *Cwd) Chdir(desc *Descriptor, p ustr.Ustr) {
	cwd.mu.Lock()
	defer cwd.mu.Unlock()
	cwd.Desc = desc
	cwd.Path = Canonicalize(p)
}
