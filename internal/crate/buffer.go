package crate

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/S0me0neR0man/usdcrate/internal/intpack"
	"github.com/S0me0neR0man/usdcrate/internal/lz4"
)

// sink accumulates the file image. Offsets are absolute file positions.
type sink struct {
	buf []byte
}

func (s *sink) tell() int64       { return int64(len(s.buf)) }
func (s *sink) write(p []byte)    { s.buf = append(s.buf, p...) }
func (s *sink) u8(v uint8)        { s.buf = append(s.buf, v) }
func (s *sink) u32(v uint32)      { s.buf = binary.LittleEndian.AppendUint32(s.buf, v) }
func (s *sink) u64(v uint64)      { s.buf = binary.LittleEndian.AppendUint64(s.buf, v) }
func (s *sink) i32(v int32)       { s.u32(uint32(v)) }
func (s *sink) i64(v int64)       { s.u64(uint64(v)) }
func (s *sink) f32(v float32)     { s.u32(math.Float32bits(v)) }
func (s *sink) f64(v float64)     { s.u64(math.Float64bits(v)) }
func (s *sink) patchU64(at int64, v uint64) {
	binary.LittleEndian.PutUint64(s.buf[at:], v)
}

// compressedInts writes a packed length followed by the LZ4 compressed
// integer encoding of values.
func (s *sink) compressedInts(values []int32) error {
	data, err := lz4.Compress(intpack.Pack32(values))
	if err != nil {
		return err
	}
	s.u64(uint64(len(data)))
	s.write(data)
	return nil
}

func (s *sink) compressedInts64(values []int64) error {
	data, err := lz4.Compress(intpack.Pack64(values))
	if err != nil {
		return err
	}
	s.u64(uint64(len(data)))
	s.write(data)
	return nil
}

// cursor decodes little endian values from b. The first failure sticks:
// later reads return zero values and err reports the failure.
type cursor struct {
	b    []byte
	pos  int
	base int64 // file offset of b[0]
	err  error
}

func (c *cursor) offset() int64 { return c.base + int64(c.pos) }

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > len(c.b)-c.pos {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, c.offset(), len(c.b)-c.pos)
		return nil
	}
	p := c.b[c.pos : c.pos+n]
	c.pos += n
	return p
}

func (c *cursor) u8() uint8 {
	if p := c.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if p := c.take(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if p := c.take(8); p != nil {
		return binary.LittleEndian.Uint64(p)
	}
	return 0
}

func (c *cursor) i64() int64   { return int64(c.u64()) }
func (c *cursor) f32() float32 { return math.Float32frombits(c.u32()) }
func (c *cursor) f64() float64 { return math.Float64frombits(c.u64()) }

// count reads a uint64 element count and checks that count elements of
// elemSize bytes can still follow in b.
func (c *cursor) count(elemSize int) int {
	n := c.u64()
	if c.err != nil {
		return 0
	}
	if n > math.MaxInt32 || elemSize > 0 && n > uint64(len(c.b)-c.pos)/uint64(elemSize) {
		c.err = fmt.Errorf("%w: count %d at offset %d overruns input", ErrMalformed, n, c.offset()-8)
		return 0
	}
	return int(n)
}

// compressedInts reads n integers written by sink.compressedInts.
func (c *cursor) compressedInts(n int) []int32 {
	data := c.compressedBlock()
	if c.err != nil {
		return nil
	}
	values, err := intpack.Unpack32(data, n)
	if err != nil {
		c.err = fmt.Errorf("%w: %v", ErrIntegrity, err)
		return nil
	}
	return values
}

func (c *cursor) compressedInts64(n int) []int64 {
	data := c.compressedBlock()
	if c.err != nil {
		return nil
	}
	values, err := intpack.Unpack64(data, n)
	if err != nil {
		c.err = fmt.Errorf("%w: %v", ErrIntegrity, err)
		return nil
	}
	return values
}

func (c *cursor) compressedBlock() []byte {
	size := c.count(1)
	p := c.take(size)
	if c.err != nil {
		return nil
	}
	data, err := lz4.Decompress(p)
	if err != nil {
		c.err = err
		return nil
	}
	return data
}
