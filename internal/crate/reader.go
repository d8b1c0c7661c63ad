package crate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/S0me0neR0man/usdcrate/internal/lz4"
	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// pathInfo is one rebuilt path: its parent path index (-1 for the pseudo
// root) and last element.
type pathInfo struct {
	parent   int32
	name     string
	property bool
	set      bool
}

// Reader decodes a crate file. All sections are decoded when the Reader is
// created; values are read from the file only when requested.
type Reader struct {
	ra    io.ReaderAt
	size  int64
	sugar *zap.SugaredLogger

	version   Version
	toc       map[string]tocEntry
	tokens    []string
	strs      []uint32
	fields    []field
	fieldSets []int32
	rawPaths  []pathEntry
	paths     []pathInfo
	specs     []specEntry
}

// NewReader parses the boot header, table of contents and sections of the
// size byte crate file read through ra.
func NewReader(ra io.ReaderAt, size int64, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reader{ra: ra, size: size, sugar: logger.Sugar()}
	if err := r.readBootstrap(); err != nil {
		return nil, err
	}
	steps := []struct {
		name string
		read func(*cursor)
	}{
		{SectionTokens, r.readTokens},
		{SectionStrings, r.readStrings},
		{SectionFields, r.readFields},
		{SectionFieldSets, r.readFieldSets},
		{SectionPaths, r.readPaths},
		{SectionSpecs, r.readSpecs},
	}
	for _, step := range steps {
		s, ok := r.toc[step.name]
		if !ok {
			if step.name == SectionStrings {
				continue
			}
			return nil, malformed(step.name, 0, "missing section")
		}
		data, err := r.bytesAt(s.start, s.size)
		if err != nil {
			return nil, wrapFormat(step.name, s.start, "reading section", err)
		}
		c := &cursor{b: data, base: s.start}
		step.read(c)
		if c.err != nil {
			return nil, wrapFormat(step.name, c.offset(), "decoding section", c.err)
		}
		r.sugar.Debugw("section read", "name", step.name, "start", s.start, "size", s.size)
	}
	if err := r.buildPaths(); err != nil {
		return nil, err
	}
	return r, nil
}

// Read decodes a whole document from the size byte crate file read through ra.
func Read(ra io.ReaderAt, size int64, logger *zap.Logger) (*scene.Document, error) {
	r, err := NewReader(ra, size, logger)
	if err != nil {
		return nil, err
	}
	return r.Document()
}

// Decode decodes a document from an in-memory crate file.
func Decode(data []byte, logger *zap.Logger) (*scene.Document, error) {
	return Read(bytes.NewReader(data), int64(len(data)), logger)
}

// ReadFile decodes the named crate file.
func ReadFile(name string, logger *zap.Logger) (*scene.Document, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(f, st.Size(), logger)
}

func (r *Reader) Version() Version { return r.version }

// Tokens returns the token table.
func (r *Reader) Tokens() []string { return r.tokens }

// Path returns the absolute path with the given path index.
func (r *Reader) Path(index int) string {
	if index < 0 || index >= len(r.paths) {
		return ""
	}
	var parts []pathInfo
	for i := int32(index); i >= 0 && r.paths[i].parent >= 0; i = r.paths[i].parent {
		parts = append(parts, r.paths[i])
	}
	if len(parts) == 0 {
		return "/"
	}
	var b bytes.Buffer
	for i := len(parts) - 1; i >= 0; i-- {
		switch {
		case parts[i].property:
			b.WriteByte('.')
		default:
			b.WriteByte('/')
		}
		b.WriteString(parts[i].name)
	}
	return b.String()
}

// bytesAt reads n bytes at file offset off.
func (r *Reader) bytesAt(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off > r.size || n > r.size-off {
		return nil, malformed("", off, "range of %d bytes outside file of %d bytes", n, r.size)
	}
	b := make([]byte, n)
	if _, err := r.ra.ReadAt(b, off); err != nil && !(err == io.EOF && int64(len(b)) == n) {
		return nil, wrapFormat("", off, "read", err)
	}
	return b, nil
}

func (r *Reader) cursorAt(off, n int64) (*cursor, error) {
	b, err := r.bytesAt(off, n)
	if err != nil {
		return nil, err
	}
	return &cursor{b: b, base: off}, nil
}

func (r *Reader) readBootstrap() error {
	c, err := r.cursorAt(0, bootstrapSize)
	if err != nil {
		return malformed("", 0, "file of %d bytes is shorter than the boot header", r.size)
	}
	if string(c.take(len(magic))) != magic {
		return malformed("", 0, "bad magic")
	}
	ver := c.take(8)
	r.version = Version{ver[0], ver[1], ver[2]}
	if r.version.Less(minVersion) {
		return &FormatError{Offset: 8, Reason: "version " + r.version.String() + " is too old", Err: ErrUnsupportedType}
	}
	tocOffset := c.i64()
	if tocOffset < bootstrapSize || tocOffset > r.size-8 {
		return malformed("", 16, "table of contents offset %d out of range", tocOffset)
	}

	head, err := r.cursorAt(tocOffset, 8)
	if err != nil {
		return err
	}
	n := head.u64()
	if n > uint64((r.size-tocOffset-8)/tocEntrySize) {
		return malformed("", tocOffset, "table of contents with %d sections overruns file", n)
	}
	c, err = r.cursorAt(tocOffset+8, int64(n)*tocEntrySize)
	if err != nil {
		return err
	}

	r.toc = make(map[string]tocEntry, n)
	entries := make([]tocEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		name := string(bytes.TrimRight(c.take(sectionName), "\x00"))
		s := tocEntry{name: name, start: c.i64(), size: c.i64()}
		if s.start < bootstrapSize || s.size < 0 || s.start > tocOffset || s.size > tocOffset-s.start {
			return malformed(name, s.start, "section of %d bytes out of range", s.size)
		}
		if _, dup := r.toc[name]; dup {
			return malformed(name, s.start, "duplicate section")
		}
		r.toc[name] = s
		entries = append(entries, s)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].start < entries[j].start })
	for i := 1; i < len(entries); i++ {
		prev := entries[i-1]
		if prev.start+prev.size > entries[i].start {
			return malformed(entries[i].name, entries[i].start, "section overlaps %s", prev.name)
		}
	}
	r.sugar.Debugw("table of contents", "version", r.version.String(), "offset", tocOffset, "sections", n)
	return nil
}

func (r *Reader) readTokens(c *cursor) {
	n := c.u64()
	rawLen := c.u64()
	data := c.take(c.count(1))
	if c.err != nil {
		return
	}
	raw, err := lz4.Decompress(data)
	if err != nil {
		c.err = err
		return
	}
	if uint64(len(raw)) != rawLen {
		c.err = fmt.Errorf("%w: tokens decompress to %d bytes, header says %d", ErrIntegrity, len(raw), rawLen)
		return
	}
	if n > rawLen {
		c.err = fmt.Errorf("%w: %d tokens in %d bytes", ErrMalformed, n, rawLen)
		return
	}
	r.tokens = make([]string, 0, n)
	for len(raw) > 0 && uint64(len(r.tokens)) < n {
		i := bytes.IndexByte(raw, 0)
		if i < 0 {
			c.err = fmt.Errorf("%w: unterminated token %d", ErrMalformed, len(r.tokens))
			return
		}
		r.tokens = append(r.tokens, string(raw[:i]))
		raw = raw[i+1:]
	}
	if uint64(len(r.tokens)) != n {
		c.err = fmt.Errorf("%w: found %d of %d tokens", ErrIntegrity, len(r.tokens), n)
	}
}

func (r *Reader) readStrings(c *cursor) {
	n := c.count(4)
	r.strs = make([]uint32, n)
	for i := range r.strs {
		r.strs[i] = c.u32()
		if c.err == nil && int(r.strs[i]) >= len(r.tokens) {
			c.err = fmt.Errorf("%w: string %d references token %d", ErrMalformed, i, r.strs[i])
		}
	}
}

func (r *Reader) readFields(c *cursor) {
	n := c.count(0)
	tokens := c.compressedInts(n)
	reps := c.compressedBlock()
	if c.err != nil {
		return
	}
	if len(reps) != 8*n {
		c.err = fmt.Errorf("%w: %d field reps decompress to %d bytes", ErrIntegrity, n, len(reps))
		return
	}
	rc := &cursor{b: reps}
	r.fields = make([]field, n)
	for i := range r.fields {
		if t := tokens[i]; t < 0 || int(t) >= len(r.tokens) {
			c.err = fmt.Errorf("%w: field %d references token %d", ErrMalformed, i, t)
			return
		}
		r.fields[i] = field{token: uint32(tokens[i]), rep: Rep(rc.u64())}
	}
}

func (r *Reader) readFieldSets(c *cursor) {
	n := c.count(0)
	r.fieldSets = c.compressedInts(n)
	for i, f := range r.fieldSets {
		if f < -1 || int(f) >= len(r.fields) {
			c.err = fmt.Errorf("%w: field set entry %d references field %d", ErrMalformed, i, f)
			return
		}
	}
}

func (r *Reader) readPaths(c *cursor) {
	n := c.count(0)
	if again := c.count(0); c.err == nil && again != n {
		c.err = fmt.Errorf("%w: path counts %d and %d differ", ErrMalformed, n, again)
		return
	}
	index := c.compressedInts(n)
	tokens := c.compressedInts(n)
	jumps := c.compressedInts(n)
	if c.err != nil {
		return
	}
	r.rawPaths = make([]pathEntry, n)
	for i := range r.rawPaths {
		r.rawPaths[i] = pathEntry{index: index[i], token: tokens[i], jump: jumps[i]}
	}
}

func (r *Reader) readSpecs(c *cursor) {
	n := c.count(0)
	paths := c.compressedInts(n)
	fsets := c.compressedInts(n)
	types := c.compressedInts(n)
	if c.err != nil {
		return
	}
	r.specs = make([]specEntry, n)
	for i := range r.specs {
		r.specs[i] = specEntry{path: paths[i], fset: fsets[i], typ: SpecType(types[i])}
	}
}

// buildPaths rebuilds the path tree from the jump encoding. Entries are
// visited in file order; an entry with both a child and a sibling defers
// the sibling run, which continues under the same parent.
func (r *Reader) buildPaths() error {
	n := len(r.rawPaths)
	r.paths = make([]pathInfo, n)
	if n == 0 {
		return nil
	}
	visited := make([]bool, n)

	type run struct {
		entry  int
		parent int32
	}
	pending := []run{{entry: 0, parent: -1}}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		entry, parent := cur.entry, cur.parent
		for {
			if entry >= n {
				return malformed(SectionPaths, r.sectionStart(SectionPaths), "path entry %d past end of %d entries", entry, n)
			}
			if visited[entry] {
				return malformed(SectionPaths, r.sectionStart(SectionPaths), "path entry %d reached twice", entry)
			}
			visited[entry] = true
			e := r.rawPaths[entry]
			if e.index < 0 || int(e.index) >= n || r.paths[e.index].set {
				return malformed(SectionPaths, r.sectionStart(SectionPaths), "entry %d has bad path index %d", entry, e.index)
			}
			info := pathInfo{parent: parent, set: true}
			if parent >= 0 {
				tok := e.token
				if tok < 0 {
					info.property = true
					tok = -tok
				}
				if int(tok) >= len(r.tokens) {
					return malformed(SectionPaths, r.sectionStart(SectionPaths), "entry %d references token %d", entry, tok)
				}
				info.name = r.tokens[tok]
			} else if entry != 0 {
				return malformed(SectionPaths, r.sectionStart(SectionPaths), "entry %d has no parent", entry)
			}
			r.paths[e.index] = info

			hasChild := e.jump > 0 || e.jump == -1
			hasSibling := e.jump >= 0
			if hasChild && hasSibling {
				pending = append(pending, run{entry: entry + int(e.jump), parent: parent})
			}
			if hasChild {
				parent = e.index
			}
			if !hasChild && !hasSibling {
				break
			}
			entry++
		}
	}
	for i, v := range visited {
		if !v {
			return malformed(SectionPaths, r.sectionStart(SectionPaths), "path entry %d is unreachable", i)
		}
	}
	return nil
}

// sectionStart returns the file offset of the named section, 0 when the
// table of contents has no such section.
func (r *Reader) sectionStart(name string) int64 { return r.toc[name].start }

// fieldSet returns the field indices of the run starting at index.
func (r *Reader) fieldSet(index int32) ([]int32, error) {
	if index < 0 || int(index) >= len(r.fieldSets) {
		return nil, malformed(SectionFieldSets, r.sectionStart(SectionFieldSets), "field set %d out of range", index)
	}
	for end := int(index); end < len(r.fieldSets); end++ {
		if r.fieldSets[end] == -1 {
			return r.fieldSets[index:end], nil
		}
	}
	return nil, malformed(SectionFieldSets, r.sectionStart(SectionFieldSets), "field set %d is not terminated", index)
}
