// Package crate reads and writes USD crate (.usdc) binary files.
//
// A file is a boot header, the out of line value data, six sections and a
// table of contents:
//
//	"PXR-USDC" | version[8] | toc offset int64 | reserved[64]
//	value data
//	TOKENS STRINGS FIELDS FIELDSETS PATHS SPECS
//	toc: count uint64, per section name[16] start int64 size int64
//
// All integers are little endian.
package crate

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	magic         = "PXR-USDC"
	bootstrapSize = 88
	sectionName   = 16
	tocEntrySize  = sectionName + 16
)

const (
	SectionTokens    = "TOKENS"
	SectionStrings   = "STRINGS"
	SectionFields    = "FIELDS"
	SectionFieldSets = "FIELDSETS"
	SectionPaths     = "PATHS"
	SectionSpecs     = "SPECS"
)

var sectionOrder = []string{
	SectionTokens, SectionStrings, SectionFields,
	SectionFieldSets, SectionPaths, SectionSpecs,
}

// Version is the crate format version stored in the boot header.
type Version struct {
	Major, Minor, Patch uint8
}

var (
	DefaultVersion = Version{0, 6, 0}
	minVersion     = Version{0, 4, 0}
	// arrays carry a 64-bit element count from this version on
	version64BitCount = Version{0, 7, 0}
)

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version %q: want major.minor.patch", s)
	}
	var n [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: %w", s, err)
		}
		n[i] = uint8(v)
	}
	return Version{n[0], n[1], n[2]}, nil
}

func (v Version) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// SpecType is the kind of scene node a spec describes.
type SpecType uint32

const (
	SpecUnknown SpecType = iota
	SpecAttribute
	SpecConnection
	SpecExpression
	SpecMapper
	SpecMapperArg
	SpecPrim
	SpecPseudoRoot
	SpecRelationship
	SpecRelationshipTarget
	SpecVariant
	SpecVariantSet
)

func (s SpecType) String() string {
	switch s {
	case SpecAttribute:
		return "Attribute"
	case SpecPrim:
		return "Prim"
	case SpecPseudoRoot:
		return "PseudoRoot"
	case SpecRelationship:
		return "Relationship"
	}
	return "SpecType(" + strconv.Itoa(int(s)) + ")"
}

// field names with dedicated meaning; all others are metadata
const (
	fieldSpecifier       = "specifier"
	fieldTypeName        = "typeName"
	fieldPrimChildren    = "primChildren"
	fieldProperties      = "properties"
	fieldDefault         = "default"
	fieldVariability     = "variability"
	fieldCustom          = "custom"
	fieldTimeSamples     = "timeSamples"
	fieldTargetPaths     = "targetPaths"
	fieldConnectionPaths = "connectionPaths"
)

var reservedFields = map[string]bool{
	fieldSpecifier:       true,
	fieldTypeName:        true,
	fieldPrimChildren:    true,
	fieldProperties:      true,
	fieldDefault:         true,
	fieldVariability:     true,
	fieldCustom:          true,
	fieldTimeSamples:     true,
	fieldTargetPaths:     true,
	fieldConnectionPaths: true,
}

// list op header bits
const (
	listOpExplicit     = 1 << 0
	listOpHasExplicit  = 1 << 1
	listOpHasAdded     = 1 << 2
	listOpHasDeleted   = 1 << 3
	listOpHasOrdered   = 1 << 4
	listOpHasPrepended = 1 << 5
	listOpHasAppended  = 1 << 6
)
