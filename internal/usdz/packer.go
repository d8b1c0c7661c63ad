// Package usdz writes and reads usdz archives: uncompressed ZIP files whose
// first entry is a crate layer and whose entry data are aligned for direct
// mapping.
package usdz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

const (
	DefaultAlignment = 64
	MaxAlignment     = 4096

	// paddingExtraID tags the extra field used to align entry data.
	paddingExtraID = 0x1986
	localHeaderLen = 30
	extraHeaderLen = 4
)

var (
	ErrNoCrateEntry   = errors.New("usdz: no crate layer entry")
	ErrDuplicateEntry = errors.New("usdz: duplicate entry")
	ErrMisaligned     = errors.New("usdz: entry data not aligned")
	ErrNotStored      = errors.New("usdz: entry is compressed")
	ErrBadAlignment   = errors.New("usdz: alignment out of range")
)

// Entry is one file of an archive.
type Entry struct {
	Name string
	Data []byte
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Packer writes entries to a usdz archive. The first entry must be the
// crate layer.
type Packer struct {
	cw    *countWriter
	zw    *zip.Writer
	align int
	names map[string]bool
	sugar *zap.SugaredLogger
}

// NewPacker returns a Packer writing to w with entry data aligned to align
// bytes.
func NewPacker(w io.Writer, align int, logger *zap.Logger) (*Packer, error) {
	if align < 1 || align > MaxAlignment {
		return nil, fmt.Errorf("%w: %d", ErrBadAlignment, align)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cw := &countWriter{w: w}
	return &Packer{
		cw:    cw,
		zw:    zip.NewWriter(cw),
		align: align,
		names: make(map[string]bool),
		sugar: logger.Sugar(),
	}, nil
}

func isLayer(name string) bool {
	return strings.EqualFold(path.Ext(name), ".usdc")
}

// Add stores data under name.
func (p *Packer) Add(name string, data []byte) error {
	const msg = "Packer.Add:"
	if p.names[name] {
		return fmt.Errorf("%s %w: %s", msg, ErrDuplicateEntry, name)
	}
	if len(p.names) == 0 && !isLayer(name) {
		return fmt.Errorf("%s %w: first entry is %s", msg, ErrNoCrateEntry, name)
	}
	if err := p.zw.Flush(); err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}

	extra := padding(p.cw.n+localHeaderLen+int64(len(name)), p.align)
	fh := &zip.FileHeader{
		Name:               name,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
		Extra:              extra,
	}
	w, err := p.zw.CreateRaw(fh)
	if err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}
	p.names[name] = true
	p.sugar.Debugw("entry added", "name", name, "size", len(data), "padding", len(extra))
	return nil
}

// Close writes the central directory. It does not close the underlying
// writer.
func (p *Packer) Close() error {
	if err := p.zw.Close(); err != nil {
		return err
	}
	if len(p.names) == 0 {
		return ErrNoCrateEntry
	}
	return nil
}

// padding returns the extra field moving data that would start at off to
// the next multiple of align, or nil when off is already aligned.
func padding(off int64, align int) []byte {
	a := int64(align)
	if off%a == 0 {
		return nil
	}
	n := (a - (off+extraHeaderLen)%a) % a
	extra := make([]byte, extraHeaderLen+n)
	binary.LittleEndian.PutUint16(extra, paddingExtraID)
	binary.LittleEndian.PutUint16(extra[2:], uint16(n))
	return extra
}

// Pack writes entries to w as an archive.
func Pack(w io.Writer, align int, logger *zap.Logger, entries ...Entry) error {
	p, err := NewPacker(w, align, logger)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := p.Add(e.Name, e.Data); err != nil {
			return err
		}
	}
	return p.Close()
}

// WriteFile packs entries into the named file, replacing it atomically.
func WriteFile(name string, align int, logger *zap.Logger, entries ...Entry) (err error) {
	const msg = "usdz.WriteFile:"
	tmp := filepath.Join(filepath.Dir(name), "."+filepath.Base(name)+"."+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
			err = fmt.Errorf("%s %w", msg, cerr)
		}
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err = Pack(f, align, logger, entries...); err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}
	if err = os.Rename(tmp, name); err != nil {
		return fmt.Errorf("%s %w", msg, err)
	}
	return nil
}
