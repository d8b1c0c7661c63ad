package scene

import (
	"fmt"
	"math"
)

// Value is a typed scene value: a scalar or an array of a ValueType.
//
// The components of all elements are kept flat in exactly one of the
// component slices, chosen by the type's Storage. Floats of single
// precision types are stored widened; vector and matrix elements occupy
// Arity consecutive components.
type Value struct {
	typ    ValueType
	array  bool
	ints   []int64
	floats []float64
	strs   []string
	dict   []DictEntry
}

// DictEntry is one key/value pair of a dictionary or metadata map.
type DictEntry struct {
	Key   string
	Value Value
}

// Type returns the value type, TypeInvalid for the zero Value.
func (v Value) Type() ValueType { return v.typ }

// IsArray reports whether the value is an array of its type.
func (v Value) IsArray() bool { return v.array }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.typ != TypeInvalid }

// TypeName returns the attribute type name of the value, e.g. "int[]".
func (v Value) TypeName() string { return v.typ.TypeName(v.array) }

// Len returns the number of elements: 1 for scalars, the element count for
// arrays and the entry count for dictionaries.
func (v Value) Len() int {
	switch v.typ.Storage() {
	case StorageNone:
		return 0
	case StorageDict:
		return len(v.dict)
	case StorageString:
		if v.array || v.typ == TypeTokenVector || v.typ == TypeStringVector {
			return len(v.strs)
		}
		return 1
	}
	if !v.array && v.typ != TypeDoubleVector {
		return 1
	}
	n := len(v.ints)
	if v.typ.Storage() == StorageFloat {
		n = len(v.floats)
	}
	if v.typ == TypeDoubleVector {
		return n
	}
	return n / v.typ.Arity()
}

// Ints returns the flat integer components.
func (v Value) Ints() []int64 { return v.ints }

// Floats returns the flat floating point components.
func (v Value) Floats() []float64 { return v.floats }

// Strings returns the string components.
func (v Value) Strings() []string { return v.strs }

// Dict returns the dictionary entries.
func (v Value) Dict() []DictEntry { return v.dict }

// Bool returns the scalar as a bool.
func (v Value) Bool() bool { return len(v.ints) > 0 && v.ints[0] != 0 }

// Int returns the first integer component.
func (v Value) Int() int64 {
	if len(v.ints) == 0 {
		return 0
	}
	return v.ints[0]
}

// Float returns the first floating point component.
func (v Value) Float() float64 {
	if len(v.floats) == 0 {
		return 0
	}
	return v.floats[0]
}

// Str returns the first string component.
func (v Value) Str() string {
	if len(v.strs) == 0 {
		return ""
	}
	return v.strs[0]
}

// Lookup returns the dictionary value stored under key.
func (v Value) Lookup(key string) (Value, bool) {
	for _, e := range v.dict {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Equal reports whether v and o hold the same type and components.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.array != o.array {
		return false
	}
	if len(v.ints) != len(o.ints) || len(v.floats) != len(o.floats) ||
		len(v.strs) != len(o.strs) || len(v.dict) != len(o.dict) {
		return false
	}
	for i := range v.ints {
		if v.ints[i] != o.ints[i] {
			return false
		}
	}
	for i := range v.floats {
		if v.floats[i] != o.floats[i] && !(math.IsNaN(v.floats[i]) && math.IsNaN(o.floats[i])) {
			return false
		}
	}
	for i := range v.strs {
		if v.strs[i] != o.strs[i] {
			return false
		}
	}
	for i := range v.dict {
		if v.dict[i].Key != o.dict[i].Key || !v.dict[i].Value.Equal(o.dict[i].Value) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch v.typ.Storage() {
	case StorageInt:
		return fmt.Sprintf("%s %v", v.TypeName(), v.ints)
	case StorageFloat:
		return fmt.Sprintf("%s %v", v.TypeName(), v.floats)
	case StorageString:
		return fmt.Sprintf("%s %q", v.TypeName(), v.strs)
	case StorageDict:
		return fmt.Sprintf("dictionary(%d)", len(v.dict))
	}
	return "invalid"
}

// FromInts builds a value of an integer stored type from flat components.
func FromInts(t ValueType, array bool, comps []int64) (Value, error) {
	if t.Storage() != StorageInt {
		return Value{}, fmt.Errorf("%w: %s is not integer stored", ErrUnsupportedValue, t)
	}
	if err := checkArity(t, array, len(comps)); err != nil {
		return Value{}, err
	}
	if err := CheckInts(t, comps); err != nil {
		return Value{}, err
	}
	return Value{typ: t, array: array, ints: comps}, nil
}

// FromFloats builds a value of a floating point stored type from flat
// components. Single precision components are rounded to float32.
func FromFloats(t ValueType, array bool, comps []float64) (Value, error) {
	if t.Storage() != StorageFloat {
		return Value{}, fmt.Errorf("%w: %s is not float stored", ErrUnsupportedValue, t)
	}
	if t == TypeDoubleVector {
		array = false
	} else if err := checkArity(t, array, len(comps)); err != nil {
		return Value{}, err
	}
	if isSingle(t) {
		rounded := make([]float64, len(comps))
		for i, f := range comps {
			rounded[i] = float64(float32(f))
		}
		comps = rounded
	}
	return Value{typ: t, array: array, floats: comps}, nil
}

// FromStrings builds a string, token or asset value.
func FromStrings(t ValueType, array bool, strs []string) (Value, error) {
	if t.Storage() != StorageString {
		return Value{}, fmt.Errorf("%w: %s is not string stored", ErrUnsupportedValue, t)
	}
	vector := t == TypeTokenVector || t == TypeStringVector
	if vector {
		array = false
	}
	if !array && !vector && len(strs) != 1 {
		return Value{}, fmt.Errorf("%w: scalar %s needs one string, got %d", ErrUnsupportedValue, t, len(strs))
	}
	return Value{typ: t, array: array, strs: strs}, nil
}

// FromDict builds a dictionary value.
func FromDict(entries []DictEntry) Value {
	return Value{typ: TypeDictionary, dict: entries}
}

// CheckInts reports components that do not fit the storage width of t.
// 64-bit types accept any component.
func CheckInts(t ValueType, comps []int64) error {
	lo, hi, ok := intRange(t)
	if !ok {
		return nil
	}
	for i, c := range comps {
		if c < lo || c > hi {
			return fmt.Errorf("%w: component %d of %s out of range: %d", ErrUnsupportedValue, i, t, c)
		}
	}
	return nil
}

func intRange(t ValueType) (lo, hi int64, ok bool) {
	switch t {
	case TypeBool:
		return 0, 1, true
	case TypeUChar:
		return 0, math.MaxUint8, true
	case TypeInt, TypeVec2i, TypeVec3i, TypeVec4i:
		return math.MinInt32, math.MaxInt32, true
	case TypeUInt:
		return 0, math.MaxUint32, true
	}
	return 0, 0, false
}

func checkArity(t ValueType, array bool, n int) error {
	a := t.Arity()
	if array {
		if n%a != 0 {
			return fmt.Errorf("%w: %d components is not a multiple of %s", ErrUnsupportedValue, n, t)
		}
		return nil
	}
	if n != a {
		return fmt.Errorf("%w: %s needs %d components, got %d", ErrUnsupportedValue, t, a, n)
	}
	return nil
}

func isSingle(t ValueType) bool {
	switch t {
	case TypeFloat, TypeVec2f, TypeVec3f, TypeVec4f, TypeQuatf,
		TypeHalf, TypeVec2h, TypeVec3h, TypeVec4h, TypeQuath:
		return true
	}
	return false
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func Bool(b bool) Value { return Value{typ: TypeBool, ints: []int64{b2i(b)}} }
func UChar(c uint8) Value { return Value{typ: TypeUChar, ints: []int64{int64(c)}} }
func Int(i int32) Value { return Value{typ: TypeInt, ints: []int64{int64(i)}} }
func UInt(i uint32) Value { return Value{typ: TypeUInt, ints: []int64{int64(i)}} }
func Int64(i int64) Value { return Value{typ: TypeInt64, ints: []int64{i}} }
func UInt64(i uint64) Value { return Value{typ: TypeUInt64, ints: []int64{int64(i)}} }
func Float(f float32) Value { return Value{typ: TypeFloat, floats: []float64{float64(f)}} }
func Double(f float64) Value { return Value{typ: TypeDouble, floats: []float64{f}} }
func String(s string) Value { return Value{typ: TypeString, strs: []string{s}} }
func Token(s string) Value { return Value{typ: TypeToken, strs: []string{s}} }
func Asset(path string) Value { return Value{typ: TypeAsset, strs: []string{path}} }
func Dictionary(e ...DictEntry) Value { return FromDict(e) }

func Vec2f(x, y float32) Value { return vecf(TypeVec2f, x, y) }
func Vec3f(x, y, z float32) Value { return vecf(TypeVec3f, x, y, z) }
func Vec4f(x, y, z, w float32) Value { return vecf(TypeVec4f, x, y, z, w) }

func Vec2d(x, y float64) Value { return Value{typ: TypeVec2d, floats: []float64{x, y}} }
func Vec3d(x, y, z float64) Value { return Value{typ: TypeVec3d, floats: []float64{x, y, z}} }
func Vec4d(x, y, z, w float64) Value {
	return Value{typ: TypeVec4d, floats: []float64{x, y, z, w}}
}

func Vec2i(x, y int32) Value { return Value{typ: TypeVec2i, ints: []int64{int64(x), int64(y)}} }
func Vec3i(x, y, z int32) Value { return Value{typ: TypeVec3i, ints: []int64{int64(x), int64(y), int64(z)}} }
func Vec4i(x, y, z, w int32) Value {
	return Value{typ: TypeVec4i, ints: []int64{int64(x), int64(y), int64(z), int64(w)}}
}

// Quatf builds a quaternion from its real part and imaginary parts.
func Quatf(re, i, j, k float32) Value { return vecf(TypeQuatf, re, i, j, k) }

// Quatd builds a double precision quaternion.
func Quatd(re, i, j, k float64) Value {
	return Value{typ: TypeQuatd, floats: []float64{re, i, j, k}}
}

// Matrix4d builds a row-major 4x4 matrix.
func Matrix4d(m [16]float64) Value { return Value{typ: TypeMatrix4d, floats: append([]float64(nil), m[:]...)} }

// Matrix3d builds a row-major 3x3 matrix.
func Matrix3d(m [9]float64) Value { return Value{typ: TypeMatrix3d, floats: append([]float64(nil), m[:]...)} }

// Matrix2d builds a row-major 2x2 matrix.
func Matrix2d(m [4]float64) Value { return Value{typ: TypeMatrix2d, floats: append([]float64(nil), m[:]...)} }

// Identity4d is the 4x4 identity matrix.
func Identity4d() Value {
	return Matrix4d([16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
}

func vecf(t ValueType, c ...float32) Value {
	f := make([]float64, len(c))
	for i := range c {
		f[i] = float64(c[i])
	}
	return Value{typ: t, floats: f}
}

func BoolArray(a []bool) Value {
	ints := make([]int64, len(a))
	for i, b := range a {
		ints[i] = b2i(b)
	}
	return Value{typ: TypeBool, array: true, ints: ints}
}

func IntArray(a []int32) Value {
	ints := make([]int64, len(a))
	for i := range a {
		ints[i] = int64(a[i])
	}
	return Value{typ: TypeInt, array: true, ints: ints}
}

func Int64Array(a []int64) Value {
	return Value{typ: TypeInt64, array: true, ints: append([]int64{}, a...)}
}

func FloatArray(a []float32) Value { return vecfArray(TypeFloat, a) }

func DoubleArray(a []float64) Value {
	return Value{typ: TypeDouble, array: true, floats: append([]float64{}, a...)}
}

func TokenArray(a ...string) Value {
	return Value{typ: TypeToken, array: true, strs: append([]string{}, a...)}
}

func StringArray(a ...string) Value {
	return Value{typ: TypeString, array: true, strs: append([]string{}, a...)}
}

func AssetArray(a ...string) Value {
	return Value{typ: TypeAsset, array: true, strs: append([]string{}, a...)}
}

func Vec2fArray(a [][2]float32) Value {
	f := make([]float32, 0, 2*len(a))
	for _, e := range a {
		f = append(f, e[:]...)
	}
	return vecfArray(TypeVec2f, f)
}

func Vec3fArray(a [][3]float32) Value {
	f := make([]float32, 0, 3*len(a))
	for _, e := range a {
		f = append(f, e[:]...)
	}
	return vecfArray(TypeVec3f, f)
}

func Vec4fArray(a [][4]float32) Value {
	f := make([]float32, 0, 4*len(a))
	for _, e := range a {
		f = append(f, e[:]...)
	}
	return vecfArray(TypeVec4f, f)
}

func Matrix4dArray(a [][16]float64) Value {
	f := make([]float64, 0, 16*len(a))
	for _, e := range a {
		f = append(f, e[:]...)
	}
	return Value{typ: TypeMatrix4d, array: true, floats: f}
}

func vecfArray(t ValueType, a []float32) Value {
	f := make([]float64, len(a))
	for i := range a {
		f[i] = float64(a[i])
	}
	return Value{typ: t, array: true, floats: f}
}
