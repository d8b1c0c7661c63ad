package crate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/S0me0neR0man/usdcrate/internal/lz4"
	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// DefaultMinCompressedArraySize is the smallest integer array stored packed.
const DefaultMinCompressedArraySize = 16

type options struct {
	version       Version
	minCompressed int
}

type Option func(*options)

// WithVersion sets the version written to the boot header.
func WithVersion(v Version) Option {
	return func(o *options) { o.version = v }
}

// WithMinCompressedArraySize sets the element count from which integer
// arrays are stored integer packed.
func WithMinCompressedArraySize(n int) Option {
	return func(o *options) { o.minCompressed = n }
}

// Writer serializes documents to crate files. Each call encodes with fresh
// token, string and value tables, so a Writer may be reused.
type Writer struct {
	opts  options
	sugar *zap.SugaredLogger
}

func NewWriter(logger *zap.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		opts:  options{version: DefaultVersion, minCompressed: DefaultMinCompressedArraySize},
		sugar: logger.Sugar(),
	}
	for _, opt := range opts {
		opt(&w.opts)
	}
	return w
}

// Encode returns the crate file image of doc.
func (w *Writer) Encode(doc *scene.Document) ([]byte, error) {
	if w.opts.version.Less(minVersion) {
		return nil, fmt.Errorf("crate: cannot write version %s", w.opts.version)
	}
	e := newEncoder(w.opts, w.sugar, doc)
	if err := e.encode(); err != nil {
		return nil, err
	}
	return e.out.buf, nil
}

// WriteTo encodes doc and writes it to out.
func (w *Writer) WriteTo(out io.Writer, doc *scene.Document) (int64, error) {
	data, err := w.Encode(doc)
	if err != nil {
		return 0, err
	}
	n, err := out.Write(data)
	return int64(n), err
}

// WriteFile encodes doc to the named file. The file is written under a
// temporary name in the same directory and renamed into place.
func (w *Writer) WriteFile(name string, doc *scene.Document) error {
	data, err := w.Encode(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(name, data)
}

func writeFileAtomic(name string, data []byte) (err error) {
	const msg = "writeFileAtomic:"
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

	if _, err = f.Write(data); err != nil {
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

type field struct {
	token uint32
	rep   Rep
}

type pathEntry struct {
	index int32
	token int32
	jump  int32
}

type specEntry struct {
	path int32
	fset int32
	typ  SpecType
}

type tocEntry struct {
	name        string
	start, size int64
}

// encoder holds the tables of one Encode call.
type encoder struct {
	opts  options
	sugar *zap.SugaredLogger
	doc   *scene.Document
	out   sink

	tokens     []string
	tokenIndex map[string]uint32
	strs       []uint32
	strIndex   map[string]uint32

	fields     []field
	fieldIndex map[field]uint32
	fieldSets  []int32
	fsetIndex  map[string]int32

	// content addressed cache of out of line values
	values map[string]Rep

	nodes    []node
	primPath []int32
	attrPath []int32
	paths    []pathEntry
	specs    []specEntry
	toc      []tocEntry
}

func newEncoder(opts options, sugar *zap.SugaredLogger, doc *scene.Document) *encoder {
	return &encoder{
		opts:       opts,
		sugar:      sugar,
		doc:        doc,
		tokenIndex: make(map[string]uint32),
		strIndex:   make(map[string]uint32),
		fieldIndex: make(map[field]uint32),
		fsetIndex:  make(map[string]int32),
		values:     make(map[string]Rep),
	}
}

func (e *encoder) encode() error {
	e.writeBootstrap(0)
	// the pseudo root element is token 0, so no property element index is 0
	e.token("")

	e.linearize()
	if err := e.emitSpecs(); err != nil {
		return err
	}

	for _, name := range sectionOrder {
		start := e.out.tell()
		if err := e.writeSection(name); err != nil {
			return fmt.Errorf("crate: section %s: %w", name, err)
		}
		size := e.out.tell() - start
		e.toc = append(e.toc, tocEntry{name: name, start: start, size: size})
		e.sugar.Debugw("section written", "name", name, "start", start, "size", size)
	}

	tocOffset := e.out.tell()
	e.out.u64(uint64(len(e.toc)))
	for _, s := range e.toc {
		var name [sectionName]byte
		copy(name[:], s.name)
		e.out.write(name[:])
		e.out.i64(s.start)
		e.out.i64(s.size)
	}
	e.out.patchU64(16, uint64(tocOffset))
	e.sugar.Debugw("crate encoded",
		"version", e.opts.version.String(),
		"tokens", len(e.tokens),
		"fields", len(e.fields),
		"paths", len(e.paths),
		"bytes", e.out.tell(),
	)
	return nil
}

func (e *encoder) writeBootstrap(tocOffset int64) {
	e.out.write([]byte(magic))
	e.out.write([]byte{e.opts.version.Major, e.opts.version.Minor, e.opts.version.Patch, 0, 0, 0, 0, 0})
	e.out.i64(tocOffset)
	e.out.write(make([]byte, bootstrapSize-24))
}

func (e *encoder) token(s string) uint32 {
	if i, ok := e.tokenIndex[s]; ok {
		return i
	}
	i := uint32(len(e.tokens))
	e.tokens = append(e.tokens, s)
	e.tokenIndex[s] = i
	return i
}

// stringIndex returns the STRINGS table index of s.
func (e *encoder) stringIndex(s string) uint32 {
	if i, ok := e.strIndex[s]; ok {
		return i
	}
	i := uint32(len(e.strs))
	e.strs = append(e.strs, e.token(s))
	e.strIndex[s] = i
	return i
}

func (e *encoder) addField(name string, rep Rep) uint32 {
	f := field{token: e.token(name), rep: rep}
	if i, ok := e.fieldIndex[f]; ok {
		return i
	}
	i := uint32(len(e.fields))
	e.fields = append(e.fields, f)
	e.fieldIndex[f] = i
	return i
}

// addFieldSet stores a run of field indices and returns the index of its
// first element.
func (e *encoder) addFieldSet(fields []uint32) int32 {
	key := make([]byte, 0, 4*len(fields))
	for _, f := range fields {
		key = append(key, byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
	}
	if i, ok := e.fsetIndex[string(key)]; ok {
		return i
	}
	i := int32(len(e.fieldSets))
	for _, f := range fields {
		e.fieldSets = append(e.fieldSets, int32(f))
	}
	e.fieldSets = append(e.fieldSets, -1)
	e.fsetIndex[string(key)] = i
	return i
}

func (e *encoder) writeSection(name string) error {
	switch name {
	case SectionTokens:
		var raw []byte
		for _, t := range e.tokens {
			raw = append(raw, t...)
			raw = append(raw, 0)
		}
		data, err := lz4.Compress(raw)
		if err != nil {
			return err
		}
		e.out.u64(uint64(len(e.tokens)))
		e.out.u64(uint64(len(raw)))
		e.out.u64(uint64(len(data)))
		e.out.write(data)
	case SectionStrings:
		e.out.u64(uint64(len(e.strs)))
		for _, s := range e.strs {
			e.out.u32(s)
		}
	case SectionFields:
		e.out.u64(uint64(len(e.fields)))
		tokens := make([]int32, len(e.fields))
		reps := make([]byte, 0, 8*len(e.fields))
		for i, f := range e.fields {
			tokens[i] = int32(f.token)
			var s sink
			s.u64(uint64(f.rep))
			reps = append(reps, s.buf...)
		}
		if err := e.out.compressedInts(tokens); err != nil {
			return err
		}
		data, err := lz4.Compress(reps)
		if err != nil {
			return err
		}
		e.out.u64(uint64(len(data)))
		e.out.write(data)
	case SectionFieldSets:
		e.out.u64(uint64(len(e.fieldSets)))
		return e.out.compressedInts(e.fieldSets)
	case SectionPaths:
		n := len(e.paths)
		index, tokens, jumps := make([]int32, n), make([]int32, n), make([]int32, n)
		for i, p := range e.paths {
			index[i], tokens[i], jumps[i] = p.index, p.token, p.jump
		}
		e.out.u64(uint64(n))
		e.out.u64(uint64(n))
		for _, a := range [][]int32{index, tokens, jumps} {
			if err := e.out.compressedInts(a); err != nil {
				return err
			}
		}
	case SectionSpecs:
		n := len(e.specs)
		paths, fsets, types := make([]int32, n), make([]int32, n), make([]int32, n)
		for i, s := range e.specs {
			paths[i], fsets[i], types[i] = s.path, s.fset, int32(s.typ)
		}
		e.out.u64(uint64(n))
		for _, a := range [][]int32{paths, fsets, types} {
			if err := e.out.compressedInts(a); err != nil {
				return err
			}
		}
	}
	return nil
}
