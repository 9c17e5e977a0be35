package metainfo

import "path/filepath"

// Layout is how the content maps onto files: SingleFile or MultiFile.
type Layout interface {
	TotalLength() int64
	isLayout()
}

type SingleFile struct {
	Length int64
}

// MultiFile files are concatenated in order for piece boundary purposes.
type MultiFile struct {
	Files []File
}

type File struct {
	Path   []string
	Length int64
	// Offset of the file's first byte within the concatenated content.
	Offset int64
}

func (s SingleFile) TotalLength() int64 { return s.Length }

func (m MultiFile) TotalLength() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Length
	}
	return total
}

func (SingleFile) isLayout() {}
func (MultiFile) isLayout()  {}

// RelPath joins the path segments with the OS separator.
func (f File) RelPath() string {
	return filepath.Join(f.Path...)
}
