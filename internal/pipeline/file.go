package pipeline

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const defaultFileMode fs.FileMode = 0o644

// File is one entry flowing through a stage. Path is slash separated and
// relative to the stage base; it is also the path written under the
// destination.
type File struct {
	Path     string
	Source   string
	Contents []byte
	Mode     fs.FileMode
	ModTime  time.Time
}

// NewFile returns an in-memory file, for steps that emit new assets.
func NewFile(rel string, contents []byte) *File {
	return &File{
		Path:     cleanRel(rel),
		Contents: contents,
		Mode:     defaultFileMode,
		ModTime:  time.Now(),
	}
}

// Clone copies the file including its contents.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Contents = append([]byte(nil), f.Contents...)
	return &clone
}

// Ext returns the extension of Path including the dot.
func (f *File) Ext() string {
	if f == nil {
		return ""
	}
	return path.Ext(f.Path)
}

// Basename returns the last element of Path.
func (f *File) Basename() string {
	if f == nil {
		return ""
	}
	return path.Base(f.Path)
}

// WithExt returns a copy whose Path carries ext instead of the current extension.
func (f *File) WithExt(ext string) *File {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Path = strings.TrimSuffix(f.Path, path.Ext(f.Path)) + ext
	return &clone
}

func cleanRel(rel string) string {
	cleaned := path.Clean(filepath.ToSlash(rel))
	return strings.TrimPrefix(cleaned, "/")
}
