// Package intpack implements the delta plus common value integer encoding
// USD crate files use for index and offset arrays.
//
// Layout of an encoded array of n integers:
//
//	common value   4 bytes (32-bit) or 8 bytes (64-bit), signed, little endian
//	codes          (2n+7)/8 bytes, four 2-bit codes per byte, lowest bits first
//	overrides      one signed literal per non-zero code, in element order
//
// Code 0 means the delta equals the common value; codes 1, 2 and 3 select a
// 1, 2 or 4 byte literal (32-bit) or a 2, 4 or 8 byte literal (64-bit).
package intpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrTruncated = errors.New("intpack: truncated input")

type integer interface {
	~int32 | ~int64
}

type layout struct {
	commonSize int
	widths     [4]int // literal width per code, code 0 has none
}

var (
	layout32 = layout{commonSize: 4, widths: [4]int{0, 1, 2, 4}}
	layout64 = layout{commonSize: 8, widths: [4]int{0, 2, 4, 8}}
)

// code returns the narrowest code whose literal width holds d.
func (l layout) code(d int64) byte {
	for c := 1; c < 3; c++ {
		if fits(d, l.widths[c]) {
			return byte(c)
		}
	}
	return 3
}

func fits(d int64, width int) bool {
	switch width {
	case 1:
		return d >= math.MinInt8 && d <= math.MaxInt8
	case 2:
		return d >= math.MinInt16 && d <= math.MaxInt16
	case 4:
		return d >= math.MinInt32 && d <= math.MaxInt32
	}
	return true
}

// EncodedSize returns the largest possible encoding of n integers of the
// given bit size.
func EncodedSize(n int, bits int) int {
	if n == 0 {
		return 0
	}
	l := layout32
	if bits == 64 {
		l = layout64
	}
	return l.commonSize + codesSize(n) + n*l.widths[3]
}

func codesSize(n int) int {
	return (n*2 + 7) / 8
}

// Pack32 encodes values. An empty input yields an empty output.
func Pack32(values []int32) []byte {
	return pack(values, layout32)
}

// Pack64 encodes values. An empty input yields an empty output.
func Pack64(values []int64) []byte {
	return pack(values, layout64)
}

// Unpack32 decodes count integers produced by Pack32.
func Unpack32(data []byte, count int) ([]int32, error) {
	return unpack[int32](data, count, layout32)
}

// Unpack64 decodes count integers produced by Pack64.
func Unpack64(data []byte, count int) ([]int64, error) {
	return unpack[int64](data, count, layout64)
}

func pack[T integer](values []T, l layout) []byte {
	if len(values) == 0 {
		return []byte{}
	}

	// deltas wrap in T, unpack wraps the same way
	deltas := make([]T, len(values))
	var prev T
	for i, v := range values {
		deltas[i] = v - prev
		prev = v
	}
	common := mostCommon(deltas)

	head := l.commonSize + codesSize(len(deltas))
	buf := make([]byte, head, head+len(deltas)*l.widths[3])
	putInt(buf, int64(common), l.commonSize)
	for i, d := range deltas {
		if d == common {
			continue
		}
		c := l.code(int64(d))
		buf[l.commonSize+i/4] |= c << ((i % 4) * 2)
		buf = appendInt(buf, int64(d), l.widths[c])
	}
	return buf
}

// mostCommon returns the most frequent value, the smallest one on ties.
func mostCommon[T integer](values []T) T {
	counts := make(map[T]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	keys := make([]T, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

func unpack[T integer](data []byte, count int, l layout) ([]T, error) {
	if count < 0 {
		return nil, fmt.Errorf("intpack: negative count %d", count)
	}
	if count == 0 {
		return []T{}, nil
	}

	head := l.commonSize + codesSize(count)
	if len(data) < head {
		return nil, fmt.Errorf("%w: %d bytes, need %d for header of %d values", ErrTruncated, len(data), head, count)
	}
	out := make([]T, count)
	common := T(getInt(data, l.commonSize))
	codes := data[l.commonSize:head]
	literals := data[head:]

	var prev T
	pos := 0
	for i := 0; i < count; i++ {
		c := (codes[i/4] >> ((i % 4) * 2)) & 3
		if c == 0 {
			prev += common
		} else {
			w := l.widths[c]
			if pos+w > len(literals) {
				return nil, fmt.Errorf("%w: literal %d of element %d", ErrTruncated, pos, i)
			}
			prev += T(getInt(literals[pos:], w))
			pos += w
		}
		out[i] = prev
	}
	return out, nil
}

func putInt(b []byte, v int64, width int) {
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func appendInt(b []byte, v int64, width int) []byte {
	switch width {
	case 1:
		return append(b, byte(v))
	case 2:
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case 4:
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return binary.LittleEndian.AppendUint64(b, uint64(v))
}

// getInt reads a sign extended little endian integer of width bytes.
func getInt(b []byte, width int) int64 {
	switch width {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
	return int64(binary.LittleEndian.Uint64(b))
}
