// Package mounts provides file mounts usable as fs.FS filesystems. A mount is backed
// either by an embedded filesystem or, when a directory is given, by that directory on
// disk, so that files shipped in the binary can be overridden during development.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// FileMount is a mount backed by either an embedded fs.FS or a directory.
type FileMount struct {
	MountName string
	fs.FS
}

// String lists the files in the mount.
func (fm FileMount) String() string {
	var names []string
	_ = fs.WalkDir(fm.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, path)
		}
		return nil
	})
	return fmt.Sprintf("mount %q: [%s]", fm.MountName, strings.Join(names, ", "))
}

// ErrInvalidPath reports an invalid mount name.
type ErrInvalidPath struct {
	mountName string
}

// Error fulfills the Error interface requirement for ErrInvalidPath.
func (e ErrInvalidPath) Error() string {
	return fmt.Sprintf("mount name %q is not a valid fs.ValidPath path", e.mountName)
}

// NewFileMount takes an embedded fs.FS or a path to a directory. If dirPath is "" the
// embedded fs is used, sub-mounted at mountName, so that
//
//	//go:embed sql
//	var sqlFS embed.FS
//
//	NewFileMount("sql", sqlFS, "")
//
// gives a filesystem whose root holds the files of the embedded "sql" directory,
// exactly as NewFileMount("sql", sqlFS, "./sql") would for the on-disk copy.
func NewFileMount(mountName string, embeddedFS fs.FS, dirPath string) (*FileMount, error) {
	if mountName == "" {
		return nil, errors.New("no mount name provided for new file mount")
	}
	if !fs.ValidPath(mountName) {
		return nil, ErrInvalidPath{mountName}
	}

	if dirPath == "" {
		if embeddedFS == nil {
			return nil, fmt.Errorf("no embedded fs provided for mount %q", mountName)
		}
		subFS, err := fs.Sub(embeddedFS, mountName)
		if err != nil {
			return nil, fmt.Errorf("could not sub-mount embedded fs at %q: %w", mountName, err)
		}
		return &FileMount{mountName, subFS}, nil
	}

	s, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("new mount at %q error: %w", dirPath, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("new mount at %q is not a directory", dirPath)
	}
	return &FileMount{mountName, os.DirFS(dirPath)}, nil
}
