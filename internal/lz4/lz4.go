// Package lz4 implements a compressor and decompressor for the LZ4 block
// format, framed the way USD crate files expect: a leading chunk count byte
// followed by either a single block or a list of length-prefixed blocks.
package lz4

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxBlockInputSize is the largest input compressed as one block.
	MaxBlockInputSize = 0x7E000000

	// maxChunks is the largest chunk count the one byte header can describe.
	maxChunks = 127

	maxOffset = 65535
	minMatch  = 4
	mfLimit   = 12

	hashLog   = 12
	tableSize = 1 << hashLog
)

var (
	ErrInputTooLarge = errors.New("lz4: input too large")
	ErrCorrupt       = errors.New("lz4: corrupt input")
)

// CompressBound returns the worst case size of a compressed block for n
// input bytes.
func CompressBound(n int) int {
	return n + n/255 + 16
}

// Compress compresses src. An empty input yields an empty output.
func Compress(src []byte) ([]byte, error) {
	return compress(src, MaxBlockInputSize)
}

func compress(src []byte, blockSize int) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	if int64(len(src)) > maxChunks*int64(blockSize) {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInputTooLarge, len(src), maxChunks*int64(blockSize))
	}

	if len(src) <= blockSize {
		dst := make([]byte, 1, 1+CompressBound(len(src)))
		return CompressBlock(src, dst), nil
	}

	chunks := (len(src) + blockSize - 1) / blockSize
	dst := make([]byte, 1, 1+chunks*4+CompressBound(len(src)))
	dst[0] = byte(chunks)
	for off := 0; off < len(src); off += blockSize {
		end := off + blockSize
		if end > len(src) {
			end = len(src)
		}
		head := len(dst)
		dst = append(dst, 0, 0, 0, 0)
		dst = CompressBlock(src[off:end], dst)
		binary.LittleEndian.PutUint32(dst[head:], uint32(len(dst)-head-4))
	}
	return dst, nil
}

func hash(v uint32) uint32 {
	return (v * 2654435761) >> (32 - hashLog)
}

// CompressBlock appends the LZ4 block encoding of src to dst and returns the
// extended slice. src must not be larger than MaxBlockInputSize.
func CompressBlock(src, dst []byte) []byte {
	// positions are stored +1 so that zero marks an empty slot
	var table [tableSize]int32

	limit := len(src) - mfLimit
	anchor, pos := 0, 0
	for pos < limit {
		cur := binary.LittleEndian.Uint32(src[pos:])
		h := hash(cur)
		ref := int(table[h]) - 1
		if ref < 0 || pos-ref > maxOffset || binary.LittleEndian.Uint32(src[ref:]) != cur {
			table[h] = int32(pos + 1)
			pos++
			continue
		}

		n := matchLength(src, ref, pos, limit)
		if n < minMatch {
			break
		}
		dst = appendSequence(dst, src[anchor:pos], pos-ref, n)
		pos += n
		anchor = pos
	}

	return appendSequence(dst, src[anchor:], 0, 0)
}

func matchLength(src []byte, ref, pos, limit int) int {
	n := 0
	for pos <= limit && src[ref] == src[pos] {
		n++
		ref++
		pos++
	}
	return n
}

// appendSequence writes one token, its literals and, when match is non
// zero, the back reference.
func appendSequence(dst, literal []byte, offset, match int) []byte {
	token := len(dst)
	dst = append(dst, 0)

	if litLen := len(literal); litLen >= 15 {
		dst[token] = 15 << 4
		dst = appendLength(dst, litLen-15)
	} else {
		dst[token] = byte(litLen << 4)
	}
	dst = append(dst, literal...)

	if match == 0 {
		return dst
	}

	dst = append(dst, byte(offset), byte(offset>>8))
	if m := match - minMatch; m >= 15 {
		dst[token] |= 15
		dst = appendLength(dst, m-15)
	} else {
		dst[token] |= byte(m)
	}
	return dst
}

func appendLength(dst []byte, n int) []byte {
	for n >= 255 {
		dst = append(dst, 255)
		n -= 255
	}
	return append(dst, byte(n))
}

// Decompress reverses Compress.
func Decompress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}

	chunks := int(src[0])
	if chunks == 0 {
		return DecompressBlock(src[1:], nil)
	}
	if chunks > maxChunks {
		return nil, fmt.Errorf("%w: chunk count %d", ErrCorrupt, chunks)
	}

	var (
		dst []byte
		err error
	)
	pos := 1
	for i := 0; i < chunks; i++ {
		if pos+4 > len(src) {
			return nil, fmt.Errorf("%w: chunk %d header truncated at %d", ErrCorrupt, i, pos)
		}
		n := int(binary.LittleEndian.Uint32(src[pos:]))
		pos += 4
		if n > len(src)-pos {
			return nil, fmt.Errorf("%w: chunk %d of %d bytes overruns input at %d", ErrCorrupt, i, n, pos)
		}
		dst, err = DecompressBlock(src[pos:pos+n], dst)
		if err != nil {
			return nil, err
		}
		pos += n
	}
	if pos != len(src) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(src)-pos)
	}
	return dst, nil
}

// DecompressBlock appends the decoded form of the LZ4 block src to dst.
// Back references never reach into bytes that were in dst before the call.
func DecompressBlock(src, dst []byte) ([]byte, error) {
	base := len(dst)
	pos := 0
	for pos < len(src) {
		token := src[pos]
		pos++

		litLen := int(token >> 4)
		if litLen == 15 {
			n, next, err := readLength(src, pos)
			if err != nil {
				return nil, err
			}
			litLen += n
			pos = next
		}
		if litLen > len(src)-pos {
			return nil, fmt.Errorf("%w: literal run of %d overruns input at %d", ErrCorrupt, litLen, pos)
		}
		dst = append(dst, src[pos:pos+litLen]...)
		pos += litLen

		// the last sequence carries literals only
		if pos >= len(src) {
			break
		}

		if pos+2 > len(src) {
			return nil, fmt.Errorf("%w: match offset truncated at %d", ErrCorrupt, pos)
		}
		offset := int(binary.LittleEndian.Uint16(src[pos:]))
		pos += 2

		matchLen := int(token & 0x0F)
		if matchLen == 15 {
			n, next, err := readLength(src, pos)
			if err != nil {
				return nil, err
			}
			matchLen += n
			pos = next
		}
		matchLen += minMatch

		if offset == 0 || offset > len(dst)-base {
			return nil, fmt.Errorf("%w: invalid match offset %d at %d", ErrCorrupt, offset, pos)
		}

		start := len(dst) - offset
		if offset >= matchLen {
			dst = append(dst, dst[start:start+matchLen]...)
			continue
		}
		// overlapping copy repeats the last offset bytes
		for i := 0; i < matchLen; i++ {
			dst = append(dst, dst[start+i])
		}
	}
	return dst, nil
}

func readLength(src []byte, pos int) (int, int, error) {
	n := 0
	for {
		if pos >= len(src) {
			return 0, pos, fmt.Errorf("%w: length run truncated at %d", ErrCorrupt, pos)
		}
		b := src[pos]
		pos++
		n += int(b)
		if b != 255 {
			return n, pos, nil
		}
	}
}
