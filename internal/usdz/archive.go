package usdz

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/S0me0neR0man/usdcrate/internal/crate"
	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// EntryInfo describes an archive entry.
type EntryInfo struct {
	Name   string
	Size   int64
	Offset int64 // of the entry data
}

// Archive is an opened usdz archive.
type Archive struct {
	ra     io.ReaderAt
	zr     *zip.Reader
	closer io.Closer
	layer  *zip.File
	files  map[string]*zip.File
	infos  []EntryInfo
}

// Open opens the named archive. Entry data offsets must be multiples of
// align; an align of 1 accepts any offset.
func Open(name string, align int) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := NewReader(f, st.Size(), align)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	a.closer = f
	return a, nil
}

// NewReader reads the archive of size bytes from ra.
func NewReader(ra io.ReaderAt, size int64, align int) (*Archive, error) {
	if align < 1 || align > MaxAlignment {
		return nil, fmt.Errorf("%w: %d", ErrBadAlignment, align)
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, err
	}
	a := &Archive{ra: ra, zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if _, dup := a.files[f.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, f.Name)
		}
		if f.Method != zip.Store {
			return nil, fmt.Errorf("%w: %s", ErrNotStored, f.Name)
		}
		off, err := f.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		if off%int64(align) != 0 {
			return nil, fmt.Errorf("%w: %s at %d", ErrMisaligned, f.Name, off)
		}
		if a.layer == nil && isLayer(f.Name) {
			a.layer = f
		}
		a.files[f.Name] = f
		a.infos = append(a.infos, EntryInfo{Name: f.Name, Size: int64(f.UncompressedSize64), Offset: off})
	}
	if a.layer == nil {
		return nil, ErrNoCrateEntry
	}
	return a, nil
}

// Entries lists the entries in archive order.
func (a *Archive) Entries() []EntryInfo { return a.infos }

// Layer returns the name of the first crate entry.
func (a *Archive) Layer() string { return a.layer.Name }

// ReadEntry returns the contents of the named entry.
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("usdz: no entry %s: %w", name, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Document decodes the crate layer in place.
func (a *Archive) Document(logger *zap.Logger) (*scene.Document, error) {
	off, err := a.layer.DataOffset()
	if err != nil {
		return nil, err
	}
	size := int64(a.layer.UncompressedSize64)
	return crate.Read(io.NewSectionReader(a.ra, off, size), size, logger)
}

func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
