package crate

import (
	"fmt"
	"math"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// packValue writes the out of line data of v, unless v can be inlined or
// identical data was written before, and returns its rep.
func (e *encoder) packValue(v scene.Value) (Rep, error) {
	if !v.IsValid() {
		return 0, fmt.Errorf("%w: empty value", ErrUnsupportedType)
	}
	if err := checkInts(v.Type(), v.Ints()); err != nil {
		return 0, err
	}
	if v.IsArray() {
		return e.packArray(v)
	}
	if rep, ok := e.inline(v); ok {
		return rep, nil
	}

	t := v.Type()
	var s sink
	switch t {
	case scene.TypeDictionary:
		return e.packDictionary(v)
	case scene.TypeTokenVector:
		s.u64(uint64(v.Len()))
		for _, str := range v.Strings() {
			s.u32(e.token(str))
		}
	case scene.TypeStringVector:
		s.u64(uint64(v.Len()))
		for _, str := range v.Strings() {
			s.u32(e.stringIndex(str))
		}
	case scene.TypeDoubleVector:
		s.u64(uint64(v.Len()))
		for _, f := range v.Floats() {
			s.f64(f)
		}
	default:
		if err := e.putElements(&s, v); err != nil {
			return 0, err
		}
	}
	return e.store(t, 0, s.buf), nil
}

// checkInts rejects integer components wider than the encoded element.
func checkInts(t scene.ValueType, comps []int64) error {
	if err := scene.CheckInts(t, comps); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedType, err)
	}
	return nil
}

// store writes data once per distinct (type, flags, data) and returns the
// rep addressing it.
func (e *encoder) store(t scene.ValueType, flags Rep, data []byte) Rep {
	key := make([]byte, 0, 2+len(data))
	key = append(key, byte(t), byte(flags>>56))
	key = append(key, data...)
	if rep, ok := e.values[string(key)]; ok {
		return rep
	}
	rep := newRep(t, uint64(e.out.tell())) | flags
	e.out.write(data)
	e.values[string(key)] = rep
	return rep
}

func (e *encoder) inline(v scene.Value) (Rep, bool) {
	t := v.Type()
	switch t {
	case scene.TypeBool, scene.TypeUChar:
		return inlineRep(t, uint64(uint8(v.Int()))), true
	case scene.TypeInt:
		return inlineRep(t, uint64(uint32(int32(v.Int())))), true
	case scene.TypeUInt:
		return inlineRep(t, uint64(uint32(v.Int()))), true
	case scene.TypeFloat:
		return inlineRep(t, uint64(math.Float32bits(float32(v.Float())))), true
	case scene.TypeDouble:
		if f := v.Float(); float64(float32(f)) == f {
			return inlineRep(t, uint64(math.Float32bits(float32(f)))), true
		}
	case scene.TypeToken, scene.TypeAsset:
		return inlineRep(t, uint64(e.token(v.Str()))), true
	case scene.TypeString:
		return inlineRep(t, uint64(e.stringIndex(v.Str()))), true
	case scene.TypeSpecifier, scene.TypeVariability, scene.TypePermission:
		return inlineRep(t, uint64(v.Int())), true
	case scene.TypeVec2f, scene.TypeVec3f, scene.TypeVec4f,
		scene.TypeVec2d, scene.TypeVec3d, scene.TypeVec4d:
		if payload, ok := int8Payload(v.Floats()); ok {
			return inlineRep(t, payload), true
		}
	case scene.TypeVec2i, scene.TypeVec3i, scene.TypeVec4i:
		comps := make([]float64, len(v.Ints()))
		for i, c := range v.Ints() {
			comps[i] = float64(c)
		}
		if payload, ok := int8Payload(comps); ok {
			return inlineRep(t, payload), true
		}
	case scene.TypeMatrix2d, scene.TypeMatrix3d, scene.TypeMatrix4d:
		if diag, ok := diagonal(v.Floats()); ok {
			if payload, ok := int8Payload(diag); ok {
				return inlineRep(t, payload), true
			}
		}
	}
	return 0, false
}

// int8Payload packs up to six components, lowest byte first, when every
// component is an integer in int8 range.
func int8Payload(comps []float64) (uint64, bool) {
	if len(comps) > 6 {
		return 0, false
	}
	var payload uint64
	for i, c := range comps {
		if c != math.Trunc(c) || c < math.MinInt8 || c > math.MaxInt8 || (c == 0 && math.Signbit(c)) {
			return 0, false
		}
		payload |= uint64(uint8(int8(c))) << (8 * i)
	}
	return payload, true
}

func diagonal(m []float64) ([]float64, bool) {
	n := int(math.Sqrt(float64(len(m))))
	diag := make([]float64, n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			if r == c {
				diag[r] = m[r*n+c]
			} else if m[r*n+c] != 0 {
				return nil, false
			}
		}
	}
	return diag, true
}

func (e *encoder) putCount(s *sink, n int) {
	if e.opts.version.Less(version64BitCount) {
		s.u32(uint32(n))
		return
	}
	s.u64(uint64(n))
}

func (e *encoder) packArray(v scene.Value) (Rep, error) {
	t := v.Type()
	if _, err := elementSize(t); err != nil {
		return 0, err
	}
	n := v.Len()
	if n == 0 {
		return newRep(t, 0) | repArray, nil
	}

	var s sink
	e.putCount(&s, n)
	flags := repArray
	switch {
	case isPackedInt(t) && e.opts.minCompressed > 0 && n >= e.opts.minCompressed:
		flags |= repCompressed
		if t == scene.TypeInt || t == scene.TypeUInt {
			values := make([]int32, n)
			for i, x := range v.Ints() {
				values[i] = int32(x)
			}
			if err := s.compressedInts(values); err != nil {
				return 0, err
			}
		} else if err := s.compressedInts64(v.Ints()); err != nil {
			return 0, err
		}
	default:
		if err := e.putElements(&s, v); err != nil {
			return 0, err
		}
	}
	return e.store(t, flags, s.buf), nil
}

func isPackedInt(t scene.ValueType) bool {
	switch t {
	case scene.TypeInt, scene.TypeUInt, scene.TypeInt64, scene.TypeUInt64:
		return true
	}
	return false
}

// elementSize returns the encoded size of one array element of type t.
func elementSize(t scene.ValueType) (int, error) {
	switch t {
	case scene.TypeBool, scene.TypeUChar:
		return 1, nil
	case scene.TypeInt, scene.TypeUInt, scene.TypeFloat, scene.TypeToken, scene.TypeAsset, scene.TypeString:
		return 4, nil
	case scene.TypeInt64, scene.TypeUInt64, scene.TypeDouble:
		return 8, nil
	case scene.TypeVec2f, scene.TypeVec3f, scene.TypeVec4f, scene.TypeQuatf,
		scene.TypeVec2i, scene.TypeVec3i, scene.TypeVec4i:
		return 4 * t.Arity(), nil
	case scene.TypeVec2d, scene.TypeVec3d, scene.TypeVec4d, scene.TypeQuatd,
		scene.TypeMatrix2d, scene.TypeMatrix3d, scene.TypeMatrix4d:
		return 8 * t.Arity(), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// putElements writes the raw components of v. Quaternions are written
// imaginary part first.
func (e *encoder) putElements(s *sink, v scene.Value) error {
	t := v.Type()
	if _, err := elementSize(t); err != nil {
		return err
	}
	switch t {
	case scene.TypeBool, scene.TypeUChar:
		for _, x := range v.Ints() {
			s.u8(uint8(x))
		}
	case scene.TypeInt, scene.TypeUInt, scene.TypeVec2i, scene.TypeVec3i, scene.TypeVec4i:
		for _, x := range v.Ints() {
			s.u32(uint32(x))
		}
	case scene.TypeInt64, scene.TypeUInt64:
		for _, x := range v.Ints() {
			s.i64(x)
		}
	case scene.TypeFloat, scene.TypeVec2f, scene.TypeVec3f, scene.TypeVec4f:
		for _, f := range v.Floats() {
			s.f32(float32(f))
		}
	case scene.TypeDouble, scene.TypeVec2d, scene.TypeVec3d, scene.TypeVec4d,
		scene.TypeMatrix2d, scene.TypeMatrix3d, scene.TypeMatrix4d:
		for _, f := range v.Floats() {
			s.f64(f)
		}
	case scene.TypeQuatf, scene.TypeQuatd:
		f := v.Floats()
		for i := 0; i+3 < len(f); i += 4 {
			for _, c := range [4]float64{f[i+1], f[i+2], f[i+3], f[i]} {
				if t == scene.TypeQuatf {
					s.f32(float32(c))
				} else {
					s.f64(c)
				}
			}
		}
	case scene.TypeToken, scene.TypeAsset:
		for _, str := range v.Strings() {
			s.u32(e.token(str))
		}
	case scene.TypeString:
		for _, str := range v.Strings() {
			s.u32(e.stringIndex(str))
		}
	}
	return nil
}

// packDictionary writes a count and, per entry, a key string index
// followed by the value: a jump to its rep, the value's own data, then the
// rep itself.
func (e *encoder) packDictionary(v scene.Value) (Rep, error) {
	offset := e.out.tell()
	e.out.u64(uint64(len(v.Dict())))
	for _, entry := range v.Dict() {
		e.out.u32(e.stringIndex(entry.Key))
		at := e.out.tell()
		e.out.i64(0)
		rep, err := e.packValue(entry.Value)
		if err != nil {
			return 0, fmt.Errorf("dictionary key %q: %w", entry.Key, err)
		}
		e.out.patchU64(at, uint64(e.out.tell()-at))
		e.out.u64(uint64(rep))
	}
	return newRep(scene.TypeDictionary, uint64(offset)), nil
}

// packTimeSamples writes the sample times as a shared double vector and
// every sample value before the sample table itself.
func (e *encoder) packTimeSamples(samples []scene.TimeSample) (Rep, error) {
	times := make([]float64, len(samples))
	for i, s := range samples {
		times[i] = s.Time
	}
	tv, err := scene.FromFloats(scene.TypeDoubleVector, false, times)
	if err != nil {
		return 0, err
	}
	timesRep, err := e.packValue(tv)
	if err != nil {
		return 0, err
	}
	reps := make([]Rep, len(samples))
	for i, s := range samples {
		if reps[i], err = e.packValue(s.Value); err != nil {
			return 0, fmt.Errorf("time sample %v: %w", s.Time, err)
		}
	}

	offset := e.out.tell()
	e.out.i64(8)
	e.out.u64(uint64(timesRep))
	e.out.i64(8)
	e.out.u64(uint64(len(reps)))
	for _, r := range reps {
		e.out.u64(uint64(r))
	}
	return newRep(scene.TypeTimeSamples, uint64(offset)), nil
}

// packPathList writes targets as an explicit path list op.
func (e *encoder) packPathList(targets []scene.Ref) (Rep, error) {
	indices := make([]uint32, len(targets))
	for i, t := range targets {
		p, err := e.pathIndex(t)
		if err != nil {
			return 0, err
		}
		indices[i] = uint32(p)
	}
	var s sink
	header := uint8(listOpExplicit)
	if len(indices) > 0 {
		header |= listOpHasExplicit
	}
	s.u8(header)
	if len(indices) > 0 {
		s.u64(uint64(len(indices)))
		for _, p := range indices {
			s.u32(p)
		}
	}
	return e.store(scene.TypePathListOp, 0, s.buf), nil
}
