package crate

import (
	"fmt"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// Rep is a 64-bit value descriptor.
//
//	bit 63      array
//	bit 62      inline
//	bit 61      compressed
//	bits 48-55  value type
//	bits 0-47   inline payload or file offset
type Rep uint64

const (
	repArray      Rep = 1 << 63
	repInline     Rep = 1 << 62
	repCompressed Rep = 1 << 61

	payloadMask = 1<<48 - 1
)

func newRep(t scene.ValueType, payload uint64) Rep {
	return Rep(uint64(t)<<48 | payload&payloadMask)
}

func inlineRep(t scene.ValueType, payload uint64) Rep {
	return newRep(t, payload) | repInline
}

func (r Rep) Type() scene.ValueType { return scene.ValueType(r >> 48) }
func (r Rep) IsArray() bool         { return r&repArray != 0 }
func (r Rep) IsInline() bool        { return r&repInline != 0 }
func (r Rep) IsCompressed() bool    { return r&repCompressed != 0 }
func (r Rep) Payload() uint64       { return uint64(r) & payloadMask }

func (r Rep) String() string {
	return fmt.Sprintf("rep{%s array=%t inline=%t compressed=%t payload=%d}",
		r.Type(), r.IsArray(), r.IsInline(), r.IsCompressed(), r.Payload())
}
