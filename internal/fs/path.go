package fs

import (
	"fmt"
	"strings"
)

// splitPath breaks a slash-separated path into its non-empty components,
// per spec.md §6 "Paths are slash-separated; the root is /".
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve walks path from the root directory, per spec.md §4.9 Directory
// semantics "Lookup scans linearly". It returns (nil, false, nil) if any
// component is absent.
func (f *FileSystem) Resolve(path string) (*Inode, bool, error) {
	cur := f.RootInode()
	for _, name := range splitPath(path) {
		next, ok, err := cur.Find(name)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

// ResolveParent walks every component of path but the last, returning the
// parent directory inode and the final component's name. It is the first
// step of create-on-open.
func (f *FileSystem) ResolveParent(path string) (dir *Inode, name string, err error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("fs: empty path")
	}
	cur := f.RootInode()
	for _, p := range parts[:len(parts)-1] {
		next, ok, err := cur.Find(p)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", fmt.Errorf("fs: %q: no such directory", p)
		}
		cur = next
	}
	return cur, parts[len(parts)-1], nil
}
