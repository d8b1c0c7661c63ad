package crate

import (
	"fmt"
	"math"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

const (
	sectionValues   = "values"
	maxValueNesting = 64
)

// Value decodes the value described by rep.
func (r *Reader) Value(rep Rep) (scene.Value, error) {
	return r.value(rep, 0)
}

func (r *Reader) value(rep Rep, depth int) (scene.Value, error) {
	if depth > maxValueNesting {
		return scene.Value{}, malformed(sectionValues, int64(rep.Payload()), "values nested deeper than %d", maxValueNesting)
	}
	t := rep.Type()
	if rep.IsInline() {
		return r.inlineValue(rep)
	}
	if rep.IsArray() {
		return r.arrayValue(rep)
	}

	off := int64(rep.Payload())
	switch t {
	case scene.TypeDictionary:
		return r.dictionary(off, depth)
	case scene.TypeTokenVector, scene.TypeStringVector:
		c, n, err := r.vectorAt(off, 4)
		if err != nil {
			return scene.Value{}, err
		}
		strs := make([]string, n)
		for i := range strs {
			if t == scene.TypeTokenVector {
				strs[i], err = r.token(c.u32())
			} else {
				strs[i], err = r.str(c.u32())
			}
			if err != nil {
				return scene.Value{}, err
			}
		}
		return scene.FromStrings(t, false, strs)
	case scene.TypeDoubleVector:
		c, n, err := r.vectorAt(off, 8)
		if err != nil {
			return scene.Value{}, err
		}
		floats := make([]float64, n)
		for i := range floats {
			floats[i] = c.f64()
		}
		return scene.FromFloats(t, false, floats)
	}

	size, err := elementSize(t)
	if err != nil {
		return scene.Value{}, wrapFormat(sectionValues, off, "scalar", err)
	}
	c, err := r.cursorAt(off, int64(size))
	if err != nil {
		return scene.Value{}, err
	}
	return r.elements(c, t, false, 1)
}

func (r *Reader) token(i uint32) (string, error) {
	if int(i) >= len(r.tokens) {
		return "", malformed(SectionTokens, r.sectionStart(SectionTokens), "token index %d out of range", i)
	}
	return r.tokens[i], nil
}

func (r *Reader) str(i uint32) (string, error) {
	if int(i) >= len(r.strs) {
		return "", malformed(SectionStrings, r.sectionStart(SectionStrings), "string index %d out of range", i)
	}
	return r.token(r.strs[i])
}

func (r *Reader) inlineValue(rep Rep) (scene.Value, error) {
	t := rep.Type()
	p := rep.Payload()
	switch t {
	case scene.TypeBool:
		return scene.Bool(p != 0), nil
	case scene.TypeUChar:
		return scene.UChar(uint8(p)), nil
	case scene.TypeInt:
		return scene.Int(int32(uint32(p))), nil
	case scene.TypeUInt:
		return scene.UInt(uint32(p)), nil
	case scene.TypeFloat:
		return scene.Float(math.Float32frombits(uint32(p))), nil
	case scene.TypeDouble:
		return scene.Double(float64(math.Float32frombits(uint32(p)))), nil
	case scene.TypeToken, scene.TypeAsset:
		s, err := r.token(uint32(p))
		if err != nil {
			return scene.Value{}, err
		}
		return scene.FromStrings(t, false, []string{s})
	case scene.TypeString:
		s, err := r.str(uint32(p))
		if err != nil {
			return scene.Value{}, err
		}
		return scene.String(s), nil
	case scene.TypeSpecifier, scene.TypeVariability, scene.TypePermission:
		return scene.FromInts(t, false, []int64{int64(p)})
	case scene.TypeVec2i, scene.TypeVec3i, scene.TypeVec4i:
		comps := int8Components(p, t.Arity())
		ints := make([]int64, len(comps))
		for i, c := range comps {
			ints[i] = int64(c)
		}
		return scene.FromInts(t, false, ints)
	case scene.TypeVec2f, scene.TypeVec3f, scene.TypeVec4f,
		scene.TypeVec2d, scene.TypeVec3d, scene.TypeVec4d:
		return scene.FromFloats(t, false, int8Components(p, t.Arity()))
	case scene.TypeMatrix2d, scene.TypeMatrix3d, scene.TypeMatrix4d:
		n := int(math.Sqrt(float64(t.Arity())))
		diag := int8Components(p, n)
		m := make([]float64, n*n)
		for i := 0; i < n; i++ {
			m[i*n+i] = diag[i]
		}
		return scene.FromFloats(t, false, m)
	}
	return scene.Value{}, &FormatError{Section: sectionValues, Reason: "inline " + t.String(), Err: ErrUnsupportedType}
}

func int8Components(p uint64, n int) []float64 {
	comps := make([]float64, n)
	for i := range comps {
		comps[i] = float64(int8(p >> (8 * i)))
	}
	return comps
}

// vectorAt reads the uint64 count of a vector at off and returns a cursor
// over its elements.
func (r *Reader) vectorAt(off int64, elemSize int) (*cursor, int, error) {
	head, err := r.cursorAt(off, 8)
	if err != nil {
		return nil, 0, err
	}
	n := head.u64()
	if n > uint64(r.size-off-8)/uint64(elemSize) {
		return nil, 0, malformed(sectionValues, off, "vector of %d elements overruns file", n)
	}
	c, err := r.cursorAt(off+8, int64(n)*int64(elemSize))
	return c, int(n), err
}

func (r *Reader) arrayValue(rep Rep) (scene.Value, error) {
	t := rep.Type()
	off := int64(rep.Payload())
	size, err := elementSize(t)
	if err != nil {
		return scene.Value{}, wrapFormat(sectionValues, off, "array", err)
	}
	if off == 0 {
		return r.elements(&cursor{}, t, true, 0)
	}

	countSize := int64(8)
	if r.version.Less(version64BitCount) {
		countSize = 4
	}
	head, err := r.cursorAt(off, countSize)
	if err != nil {
		return scene.Value{}, err
	}
	var n uint64
	if countSize == 4 {
		n = uint64(head.u32())
	} else {
		n = head.u64()
	}
	off += countSize

	if rep.IsCompressed() {
		if !isPackedInt(t) {
			return scene.Value{}, &FormatError{Section: sectionValues, Offset: off, Reason: "compressed " + t.String() + " array", Err: ErrUnsupportedType}
		}
		return r.compressedArray(t, off, n)
	}
	if n > uint64(r.size-off)/uint64(size) {
		return scene.Value{}, malformed(sectionValues, off, "array of %d elements overruns file", n)
	}
	c, err := r.cursorAt(off, int64(n)*int64(size))
	if err != nil {
		return scene.Value{}, err
	}
	return r.elements(c, t, true, int(n))
}

func (r *Reader) compressedArray(t scene.ValueType, off int64, n uint64) (scene.Value, error) {
	head, err := r.cursorAt(off, 8)
	if err != nil {
		return scene.Value{}, err
	}
	size := head.u64()
	if size > uint64(r.size-off-8) || n > math.MaxInt32 {
		return scene.Value{}, malformed(sectionValues, off, "compressed array of %d bytes overruns file", size)
	}
	c, err := r.cursorAt(off, int64(size)+8)
	if err != nil {
		return scene.Value{}, err
	}
	var ints []int64
	if t == scene.TypeInt || t == scene.TypeUInt {
		values := c.compressedInts(int(n))
		ints = make([]int64, len(values))
		for i, v := range values {
			if t == scene.TypeUInt {
				ints[i] = int64(uint32(v))
			} else {
				ints[i] = int64(v)
			}
		}
	} else {
		ints = c.compressedInts64(int(n))
	}
	if c.err != nil {
		return scene.Value{}, wrapFormat(sectionValues, off, "compressed array", c.err)
	}
	return scene.FromInts(t, true, ints)
}

// elements decodes n raw elements of type t from c.
func (r *Reader) elements(c *cursor, t scene.ValueType, array bool, n int) (scene.Value, error) {
	var (
		v   scene.Value
		err error
	)
	comps := n * t.Arity()
	switch t {
	case scene.TypeBool, scene.TypeUChar:
		ints := make([]int64, comps)
		for i := range ints {
			ints[i] = int64(c.u8())
			if t == scene.TypeBool && ints[i] != 0 {
				ints[i] = 1
			}
		}
		v, err = scene.FromInts(t, array, ints)
	case scene.TypeInt, scene.TypeVec2i, scene.TypeVec3i, scene.TypeVec4i:
		ints := make([]int64, comps)
		for i := range ints {
			ints[i] = int64(int32(c.u32()))
		}
		v, err = scene.FromInts(t, array, ints)
	case scene.TypeUInt:
		ints := make([]int64, comps)
		for i := range ints {
			ints[i] = int64(c.u32())
		}
		v, err = scene.FromInts(t, array, ints)
	case scene.TypeInt64, scene.TypeUInt64:
		ints := make([]int64, comps)
		for i := range ints {
			ints[i] = c.i64()
		}
		v, err = scene.FromInts(t, array, ints)
	case scene.TypeFloat, scene.TypeVec2f, scene.TypeVec3f, scene.TypeVec4f:
		floats := make([]float64, comps)
		for i := range floats {
			floats[i] = float64(c.f32())
		}
		v, err = scene.FromFloats(t, array, floats)
	case scene.TypeDouble, scene.TypeVec2d, scene.TypeVec3d, scene.TypeVec4d,
		scene.TypeMatrix2d, scene.TypeMatrix3d, scene.TypeMatrix4d:
		floats := make([]float64, comps)
		for i := range floats {
			floats[i] = c.f64()
		}
		v, err = scene.FromFloats(t, array, floats)
	case scene.TypeQuatf, scene.TypeQuatd:
		floats := make([]float64, comps)
		for i := 0; i < comps; i += 4 {
			var q [4]float64
			for j := range q {
				if t == scene.TypeQuatf {
					q[j] = float64(c.f32())
				} else {
					q[j] = c.f64()
				}
			}
			floats[i], floats[i+1], floats[i+2], floats[i+3] = q[3], q[0], q[1], q[2]
		}
		v, err = scene.FromFloats(t, array, floats)
	case scene.TypeToken, scene.TypeAsset, scene.TypeString:
		strs := make([]string, n)
		for i := range strs {
			idx := c.u32()
			if t == scene.TypeString {
				strs[i], err = r.str(idx)
			} else {
				strs[i], err = r.token(idx)
			}
			if err != nil {
				return scene.Value{}, err
			}
		}
		v, err = scene.FromStrings(t, array, strs)
	default:
		return scene.Value{}, &FormatError{Section: sectionValues, Offset: c.offset(), Reason: t.String(), Err: ErrUnsupportedType}
	}
	if c.err != nil {
		return scene.Value{}, wrapFormat(sectionValues, c.offset(), t.String(), c.err)
	}
	if err != nil {
		return scene.Value{}, wrapFormat(sectionValues, c.offset(), t.String(), err)
	}
	return v, nil
}

// repAt reads the jump at off and the rep it points to, returning
// the rep and the offset just past it.
func (r *Reader) repAt(off int64) (Rep, int64, error) {
	c, err := r.cursorAt(off, 8)
	if err != nil {
		return 0, 0, err
	}
	jump := c.i64()
	if jump < 8 || jump > r.size-off-8 {
		return 0, 0, malformed(sectionValues, off, "value jump %d out of range", jump)
	}
	c, err = r.cursorAt(off+jump, 8)
	if err != nil {
		return 0, 0, err
	}
	return Rep(c.u64()), off + jump + 8, nil
}

func (r *Reader) dictionary(off int64, depth int) (scene.Value, error) {
	head, err := r.cursorAt(off, 8)
	if err != nil {
		return scene.Value{}, err
	}
	n := head.u64()
	// every entry takes at least a key and a jump
	if n > uint64(r.size-off-8)/12 {
		return scene.Value{}, malformed(sectionValues, off, "dictionary of %d entries overruns file", n)
	}
	off += 8
	entries := make([]scene.DictEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		kc, err := r.cursorAt(off, 4)
		if err != nil {
			return scene.Value{}, err
		}
		key, err := r.str(kc.u32())
		if err != nil {
			return scene.Value{}, err
		}
		rep, next, err := r.repAt(off + 4)
		if err != nil {
			return scene.Value{}, err
		}
		v, err := r.value(rep, depth+1)
		if err != nil {
			return scene.Value{}, err
		}
		entries = append(entries, scene.DictEntry{Key: key, Value: v})
		off = next
	}
	return scene.FromDict(entries), nil
}

// TimeSamples decodes a time sample table rep.
func (r *Reader) TimeSamples(rep Rep) ([]scene.TimeSample, error) {
	off := int64(rep.Payload())
	if rep.Type() != scene.TypeTimeSamples || rep.IsInline() || rep.IsArray() {
		return nil, malformed(sectionValues, off, "%s is not a time sample table", rep)
	}
	timesRep, next, err := r.repAt(off)
	if err != nil {
		return nil, err
	}
	times, err := r.Value(timesRep)
	if err != nil {
		return nil, err
	}
	if times.Type() != scene.TypeDoubleVector && !(times.Type() == scene.TypeDouble && times.IsArray()) {
		return nil, malformed(sectionValues, off, "sample times of type %s", times.TypeName())
	}

	c, err := r.cursorAt(next, 8)
	if err != nil {
		return nil, err
	}
	jump := c.i64()
	if jump < 0 || jump > r.size-next-8 {
		return nil, malformed(sectionValues, next, "sample values jump %d out of range", jump)
	}
	c, n, err := r.vectorAt(next+jump, 8)
	if err != nil {
		return nil, err
	}
	if n != len(times.Floats()) {
		return nil, &FormatError{Section: sectionValues, Offset: next, Reason: fmt.Sprintf("%d sample values for %d times", n, len(times.Floats())), Err: ErrIntegrity}
	}
	samples := make([]scene.TimeSample, n)
	for i := range samples {
		v, err := r.Value(Rep(c.u64()))
		if err != nil {
			return nil, err
		}
		samples[i] = scene.TimeSample{Time: times.Floats()[i], Value: v}
	}
	return samples, nil
}

// PathList decodes a path list op rep into the path indices of its
// explicit, prepended, added and appended lists, in that order.
func (r *Reader) PathList(rep Rep) ([]uint32, error) {
	off := int64(rep.Payload())
	if rep.Type() != scene.TypePathListOp || rep.IsInline() || rep.IsArray() {
		return nil, malformed(sectionValues, off, "%s is not a path list op", rep)
	}
	c, err := r.cursorAt(off, 1)
	if err != nil {
		return nil, err
	}
	header := c.u8()
	off++

	lists := make(map[uint8][]uint32)
	for _, bit := range []uint8{listOpHasExplicit, listOpHasAdded, listOpHasDeleted, listOpHasOrdered, listOpHasPrepended, listOpHasAppended} {
		if header&bit == 0 {
			continue
		}
		c, n, err := r.vectorAt(off, 4)
		if err != nil {
			return nil, err
		}
		items := make([]uint32, n)
		for i := range items {
			items[i] = c.u32()
		}
		lists[bit] = items
		off += 8 + 4*int64(n)
	}
	var out []uint32
	for _, bit := range []uint8{listOpHasExplicit, listOpHasPrepended, listOpHasAdded, listOpHasAppended} {
		out = append(out, lists[bit]...)
	}
	return out, nil
}
