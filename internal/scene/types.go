package scene

import "fmt"

// ValueType is the type tag of a Value. The numbering matches the crate
// file type enumeration so that it can be stored directly in a value rep.
type ValueType uint8

const (
	TypeInvalid ValueType = iota
	TypeBool
	TypeUChar
	TypeInt
	TypeUInt
	TypeInt64
	TypeUInt64
	TypeHalf
	TypeFloat
	TypeDouble
	TypeString
	TypeToken
	TypeAsset
	TypeMatrix2d
	TypeMatrix3d
	TypeMatrix4d
	TypeQuatd
	TypeQuatf
	TypeQuath
	TypeVec2d
	TypeVec2f
	TypeVec2h
	TypeVec2i
	TypeVec3d
	TypeVec3f
	TypeVec3h
	TypeVec3i
	TypeVec4d
	TypeVec4f
	TypeVec4h
	TypeVec4i
	TypeDictionary
	TypeTokenListOp
	TypeStringListOp
	TypePathListOp
	TypeReferenceListOp
	TypeIntListOp
	TypeInt64ListOp
	TypeUIntListOp
	TypeUInt64ListOp
	TypePathVector
	TypeTokenVector
	TypeSpecifier
	TypePermission
	TypeVariability
	TypeVariantSelectionMap
	TypeTimeSamples
	TypePayload
	TypeDoubleVector
	TypeLayerOffsetVector
	TypeStringVector
	TypeValueBlock
	TypeValue
	TypeUnregisteredValue
	TypeUnregisteredValueListOp
	TypePayloadListOp
)

var typeNames = map[ValueType]string{
	TypeBool:       "bool",
	TypeUChar:      "uchar",
	TypeInt:        "int",
	TypeUInt:       "uint",
	TypeInt64:      "int64",
	TypeUInt64:     "uint64",
	TypeHalf:       "half",
	TypeFloat:      "float",
	TypeDouble:     "double",
	TypeString:     "string",
	TypeToken:      "token",
	TypeAsset:      "asset",
	TypeMatrix2d:   "matrix2d",
	TypeMatrix3d:   "matrix3d",
	TypeMatrix4d:   "matrix4d",
	TypeQuatd:      "quatd",
	TypeQuatf:      "quatf",
	TypeQuath:      "quath",
	TypeVec2d:      "double2",
	TypeVec2f:      "float2",
	TypeVec2h:      "half2",
	TypeVec2i:      "int2",
	TypeVec3d:      "double3",
	TypeVec3f:      "float3",
	TypeVec3h:      "half3",
	TypeVec3i:      "int3",
	TypeVec4d:      "double4",
	TypeVec4f:      "float4",
	TypeVec4h:      "half4",
	TypeVec4i:      "int4",
	TypeDictionary: "dictionary",
}

// role names are aliases that share the storage of a value type
var roleNames = map[string]ValueType{
	"point3f":    TypeVec3f,
	"point3d":    TypeVec3d,
	"normal3f":   TypeVec3f,
	"normal3d":   TypeVec3d,
	"vector3f":   TypeVec3f,
	"vector3d":   TypeVec3d,
	"color3f":    TypeVec3f,
	"color3d":    TypeVec3d,
	"color4f":    TypeVec4f,
	"color4d":    TypeVec4d,
	"texCoord2f": TypeVec2f,
	"texCoord2d": TypeVec2d,
	"texCoord3f": TypeVec3f,
	"frame4d":    TypeMatrix4d,
}

// String returns the USD type name, e.g. "float3".
func (t ValueType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// TypeName returns the attribute type name for a value of type t,
// e.g. "float3[]" for an array.
func (t ValueType) TypeName(array bool) string {
	if array {
		return t.String() + "[]"
	}
	return t.String()
}

// ParseTypeName resolves an attribute type name such as "point3f[]" to its
// value type and array flag.
func ParseTypeName(name string) (ValueType, bool, bool) {
	array := false
	if n := len(name); n > 2 && name[n-2:] == "[]" {
		array = true
		name = name[:n-2]
	}
	if t, ok := roleNames[name]; ok {
		return t, array, true
	}
	for t, s := range typeNames {
		if s == name {
			return t, array, true
		}
	}
	return TypeInvalid, false, false
}

// Arity returns the number of scalar components of one element.
func (t ValueType) Arity() int {
	switch t {
	case TypeVec2d, TypeVec2f, TypeVec2h, TypeVec2i:
		return 2
	case TypeVec3d, TypeVec3f, TypeVec3h, TypeVec3i:
		return 3
	case TypeVec4d, TypeVec4f, TypeVec4h, TypeVec4i, TypeQuatd, TypeQuatf, TypeQuath, TypeMatrix2d:
		return 4
	case TypeMatrix3d:
		return 9
	case TypeMatrix4d:
		return 16
	}
	return 1
}

// Storage describes which component slice holds the data of a value type.
type Storage uint8

const (
	StorageNone Storage = iota
	StorageInt
	StorageFloat
	StorageString
	StorageDict
)

// Storage returns how values of type t keep their components.
func (t ValueType) Storage() Storage {
	switch t {
	case TypeBool, TypeUChar, TypeInt, TypeUInt, TypeInt64, TypeUInt64,
		TypeVec2i, TypeVec3i, TypeVec4i,
		TypeSpecifier, TypePermission, TypeVariability:
		return StorageInt
	case TypeHalf, TypeFloat, TypeDouble,
		TypeMatrix2d, TypeMatrix3d, TypeMatrix4d,
		TypeQuatd, TypeQuatf, TypeQuath,
		TypeVec2d, TypeVec2f, TypeVec2h,
		TypeVec3d, TypeVec3f, TypeVec3h,
		TypeVec4d, TypeVec4f, TypeVec4h,
		TypeDoubleVector:
		return StorageFloat
	case TypeString, TypeToken, TypeAsset, TypeTokenVector, TypeStringVector:
		return StorageString
	case TypeDictionary:
		return StorageDict
	}
	return StorageNone
}

// Specifier is the prim specifier.
type Specifier uint8

const (
	SpecifierDef Specifier = iota
	SpecifierOver
	SpecifierClass
)

func (s Specifier) String() string {
	switch s {
	case SpecifierDef:
		return "def"
	case SpecifierOver:
		return "over"
	case SpecifierClass:
		return "class"
	}
	return fmt.Sprintf("specifier(%d)", uint8(s))
}

// Variability marks an attribute as able to vary over time or not.
type Variability uint8

const (
	VariabilityVarying Variability = iota
	VariabilityUniform
)
