package scene

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Infer converts a plain Go value to a Value.
//
// Booleans take priority over integers, and integers over floats. Strings
// are tokens unless wrapped in '@' asset markers. Fixed size Go arrays and
// []any tuples of 2 to 4 numbers are vectors, a [N][N] float array is a
// matrix, and typed slices are arrays of their element type. Maps with
// string keys become dictionaries with sorted keys.
//
// Go int and uint values that do not fit 32 bits infer as int64 and uint64,
// scalars and slices alike; integer vectors must fit int32. Floating point
// values of either width infer as single precision float, so a float64 is
// rounded to float32. Pass a Double or DoubleArray value to keep it.
func Infer(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case nil:
		return Value{}, fmt.Errorf("%w: nil", ErrUnsupportedValue)
	case bool:
		return Bool(t), nil
	case uint8:
		return UChar(t), nil
	case int:
		if int64(t) < math.MinInt32 || int64(t) > math.MaxInt32 {
			return Int64(int64(t)), nil
		}
		return Int(int32(t)), nil
	case int8:
		return Int(int32(t)), nil
	case int16:
		return Int(int32(t)), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int64(t), nil
	case uint16:
		return UInt(uint32(t)), nil
	case uint32:
		return UInt(t), nil
	case uint:
		if uint64(t) > math.MaxUint32 {
			return UInt64(uint64(t)), nil
		}
		return UInt(uint32(t)), nil
	case uint64:
		return UInt64(t), nil
	case float32:
		return Float(t), nil
	case float64:
		return Float(float32(t)), nil
	case string:
		return inferString(t), nil
	case Specifier:
		return Value{typ: TypeSpecifier, ints: []int64{int64(t)}}, nil
	case []any:
		return inferList(t)
	case map[string]any:
		return inferDict(t)
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Array:
		return inferTuple(rv)
	case reflect.Slice:
		return inferSlice(rv)
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
}

func inferString(s string) Value {
	if len(s) >= 2 && strings.HasPrefix(s, "@") && strings.HasSuffix(s, "@") {
		return Asset(s[1 : len(s)-1])
	}
	return Token(s)
}

type numKind uint8

const (
	numNone numKind = iota
	numInt
	numFloat
)

func kindOf(k reflect.Kind) numKind {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return numInt
	case reflect.Float32, reflect.Float64:
		return numFloat
	}
	return numNone
}

func toFloat(rv reflect.Value) float64 {
	switch kindOf(rv.Kind()) {
	case numFloat:
		return rv.Float()
	case numInt:
		if rv.CanInt() {
			return float64(rv.Int())
		}
		return float64(rv.Uint())
	}
	return 0
}

func toInt(rv reflect.Value) int64 {
	if rv.CanInt() {
		return rv.Int()
	}
	return int64(rv.Uint())
}

var vecTypes = map[numKind][5]ValueType{
	numInt:   {2: TypeVec2i, 3: TypeVec3i, 4: TypeVec4i},
	numFloat: {2: TypeVec2f, 3: TypeVec3f, 4: TypeVec4f},
}

// tupleOf reports the vector type of n numeric components of kind k;
// TypeInvalid when no vector type exists.
func tupleOf(k numKind, n int) ValueType {
	if n < 2 || n > 4 || k == numNone {
		return TypeInvalid
	}
	return vecTypes[k][n]
}

func inferTuple(rv reflect.Value) (Value, error) {
	n := rv.Len()
	if elem := rv.Type().Elem(); elem.Kind() == reflect.Array && elem.Len() == n && kindOf(elem.Elem().Kind()) != numNone {
		if m := matrixOf(n); m != TypeInvalid {
			floats := make([]float64, 0, n*n)
			for i := 0; i < n; i++ {
				row := rv.Index(i)
				for j := 0; j < n; j++ {
					floats = append(floats, toFloat(row.Index(j)))
				}
			}
			return Value{typ: m, floats: floats}, nil
		}
	}
	vt := tupleOf(kindOf(rv.Type().Elem().Kind()), n)
	if vt == TypeInvalid {
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
	}
	v := tupleValue(vt, false, rv)
	return checked(v)
}

func matrixOf(n int) ValueType {
	switch n {
	case 2:
		return TypeMatrix2d
	case 3:
		return TypeMatrix3d
	case 4:
		return TypeMatrix4d
	}
	return TypeInvalid
}

func tupleValue(vt ValueType, array bool, rvs ...reflect.Value) Value {
	v := Value{typ: vt, array: array}
	for _, rv := range rvs {
		for i := 0; i < rv.Len(); i++ {
			c := rv.Index(i)
			if c.Kind() == reflect.Interface {
				c = c.Elem()
			}
			if vt.Storage() == StorageInt {
				v.ints = append(v.ints, toInt(c))
			} else {
				v.floats = append(v.floats, float64(float32(toFloat(c))))
			}
		}
	}
	return v
}

func inferSlice(rv reflect.Value) (Value, error) {
	elem := rv.Type().Elem()
	switch {
	case elem.Kind() == reflect.Array:
		n := elem.Len()
		if elem.Elem().Kind() == reflect.Array {
			m := matrixOf(n)
			if m == TypeInvalid || elem.Elem().Len() != n {
				return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
			}
			v := Value{typ: m, array: true, floats: []float64{}}
			for i := 0; i < rv.Len(); i++ {
				for r := 0; r < n; r++ {
					row := rv.Index(i).Index(r)
					for c := 0; c < n; c++ {
						v.floats = append(v.floats, toFloat(row.Index(c)))
					}
				}
			}
			return v, nil
		}
		vt := tupleOf(kindOf(elem.Elem().Kind()), n)
		if vt == TypeInvalid {
			return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
		}
		rows := make([]reflect.Value, rv.Len())
		for i := range rows {
			rows[i] = rv.Index(i)
		}
		v := tupleValue(vt, true, rows...)
		if v.ints == nil && v.floats == nil {
			v = emptyArray(vt)
		}
		return checked(v)
	case elem.Kind() == reflect.String:
		strs := make([]string, rv.Len())
		for i := range strs {
			strs[i] = rv.Index(i).String()
		}
		return TokenArray(strs...), nil
	case elem.Kind() == reflect.Bool:
		ints := make([]int64, rv.Len())
		for i := range ints {
			ints[i] = b2i(rv.Index(i).Bool())
		}
		return Value{typ: TypeBool, array: true, ints: ints}, nil
	}

	if kindOf(elem.Kind()) == numNone {
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
	}
	scalar, err := Infer(reflect.Zero(elem).Interface())
	if err != nil {
		return Value{}, err
	}
	v := emptyArray(scalar.typ)
	for i := 0; i < rv.Len(); i++ {
		c := rv.Index(i)
		if scalar.typ.Storage() == StorageInt {
			v.ints = append(v.ints, toInt(c))
		} else {
			v.floats = append(v.floats, float64(float32(toFloat(c))))
		}
	}
	if CheckInts(v.typ, v.ints) != nil {
		return widen(v, elem.Kind())
	}
	return v, nil
}

// widen moves an int or uint array whose components overflow 32 bits to
// the 64-bit type of the same signedness.
func widen(v Value, k reflect.Kind) (Value, error) {
	switch k {
	case reflect.Int:
		v.typ = TypeInt64
	case reflect.Uint:
		v.typ = TypeUInt64
	default:
		return checked(v)
	}
	return v, nil
}

func checked(v Value) (Value, error) {
	if err := CheckInts(v.typ, v.ints); err != nil {
		return Value{}, err
	}
	return v, nil
}

func emptyArray(t ValueType) Value {
	v := Value{typ: t, array: true}
	switch t.Storage() {
	case StorageInt:
		v.ints = []int64{}
	case StorageFloat:
		v.floats = []float64{}
	case StorageString:
		v.strs = []string{}
	}
	return v
}

// inferList handles untyped lists: a short all-numeric list is a vector,
// anything else an array of a single element type.
func inferList(list []any) (Value, error) {
	if len(list) == 0 {
		return Value{}, fmt.Errorf("%w: empty untyped list", ErrUnsupportedValue)
	}
	kind, numeric := numInt, true
	for _, x := range list {
		switch kindOf(reflect.ValueOf(x).Kind()) {
		case numFloat:
			kind = numFloat
		case numNone:
			numeric = false
		}
	}
	if numeric {
		if vt := tupleOf(kind, len(list)); vt != TypeInvalid {
			v := tupleValue(vt, false, reflect.ValueOf(list))
			return checked(v)
		}
		if kind == numFloat {
			floats := make([]float64, len(list))
			for i, x := range list {
				floats[i] = float64(float32(toFloat(reflect.ValueOf(x))))
			}
			return Value{typ: TypeFloat, array: true, floats: floats}, nil
		}
	}

	var out Value
	for i, x := range list {
		e, err := Infer(x)
		if err != nil {
			return Value{}, err
		}
		if e.array || e.typ == TypeDictionary {
			return Value{}, fmt.Errorf("%w: nested %s in list", ErrUnsupportedValue, e.TypeName())
		}
		if i == 0 {
			out = Value{typ: e.typ, array: true}
		} else if e.typ != out.typ {
			return Value{}, fmt.Errorf("%w: mixed %s and %s in list", ErrUnsupportedValue, out.typ, e.typ)
		}
		out.ints = append(out.ints, e.ints...)
		out.floats = append(out.floats, e.floats...)
		out.strs = append(out.strs, e.strs...)
	}
	return out, nil
}

func inferDict(m map[string]any) (Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]DictEntry, 0, len(keys))
	for _, k := range keys {
		v, err := Infer(m[k])
		if err != nil {
			return Value{}, fmt.Errorf("key %q: %w", k, err)
		}
		entries = append(entries, DictEntry{Key: k, Value: v})
	}
	return FromDict(entries), nil
}
