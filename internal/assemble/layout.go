package assemble

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"

	"github.com/frantjc/cargo-apk/internal/apkerr"
	xslice "github.com/frantjc/x/slice"
)

const (
	ResourcesName = "resources.arsc"
	AssetsDir     = "assets"
	LibDir        = "lib"
)

// Entry is a single file in a package.
type Entry struct {
	// Name is the slash-separated archive path.
	Name string
	Data []byte
	// Method is zip.Store or zip.Deflate. Stored entries are aligned.
	Method uint16
}

// Layout is the ordered set of entries that make up a package.
// Archive paths are unique.
type Layout struct {
	Entries   []Entry
	Alignment int
	// PageAlignment is the boundary stored native libraries start on, if
	// greater than Alignment.
	PageAlignment int
}

func NewLayout(alignment int) *Layout {
	return &Layout{Alignment: alignment}
}

// Add appends entry, failing with an AssemblyError if its archive path is already taken.
func (l *Layout) Add(entry Entry) error {
	if entry.Name == "" {
		return apkerr.New(apkerr.Assembly, fmt.Errorf("entry with empty archive path"))
	}

	if _, ok := l.Entry(entry.Name); ok {
		return apkerr.New(apkerr.Assembly, fmt.Errorf("duplicate archive path %s", entry.Name))
	}

	if entry.Method != zip.Store {
		entry.Method = zip.Deflate
	}

	l.Entries = append(l.Entries, entry)

	return nil
}

func (l *Layout) Entry(name string) (*Entry, bool) {
	for i := range l.Entries {
		if l.Entries[i].Name == name {
			return &l.Entries[i], true
		}
	}

	return nil, false
}

// Names returns the archive paths in order.
func (l *Layout) Names() []string {
	return xslice.Map(l.Entries, func(entry Entry, _ int) string {
		return entry.Name
	})
}

// Clone returns a copy of l that can be appended to without affecting l.
// Entry data is shared.
func (l *Layout) Clone() *Layout {
	return &Layout{
		Entries:       append([]Entry{}, l.Entries...),
		Alignment:     l.Alignment,
		PageAlignment: l.PageAlignment,
	}
}

// IsNativeLibrary reports whether name is the archive path of a native library.
func IsNativeLibrary(name string) bool {
	return strings.HasPrefix(name, LibDir+"/") && path.Ext(name) == ".so"
}

// entryAlignment is the boundary the data of the stored entry name starts on.
func entryAlignment(name string, alignment, pageAlignment int) int {
	if IsNativeLibrary(name) && pageAlignment > alignment {
		return pageAlignment
	}

	return max(alignment, 1)
}
