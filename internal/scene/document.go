// Package scene is the in-memory scene description: a document of prims
// holding attributes and relationships.
//
// All nodes live in arenas owned by the Document and refer to each other by
// PrimID and AttrID handles. A handle is only meaningful for the document
// that issued it.
package scene

import (
	"fmt"
	"sort"
	"strings"
)

type (
	PrimID int32
	AttrID int32
)

const (
	NoPrim PrimID = -1
	NoAttr AttrID = -1
)

// AttrKind distinguishes value attributes from relationships.
type AttrKind uint8

const (
	KindAttribute AttrKind = iota
	KindRelationship
)

// Ref addresses a prim, or a property of a prim when Attr is not NoAttr.
type Ref struct {
	Prim PrimID
	Attr AttrID
}

// PrimRef returns a Ref to the prim itself.
func PrimRef(p PrimID) Ref { return Ref{Prim: p, Attr: NoAttr} }

// IsProperty reports whether r addresses a property.
func (r Ref) IsProperty() bool { return r.Attr != NoAttr }

// TimeSample is the value of an attribute at a time code.
type TimeSample struct {
	Time  float64
	Value Value
}

type Prim struct {
	Name      string
	TypeName  string
	Specifier Specifier
	Metadata  Metadata

	id       PrimID
	parent   PrimID
	children []PrimID
	props    []AttrID
}

func (p *Prim) ID() PrimID     { return p.id }
func (p *Prim) Parent() PrimID { return p.parent }

// Children returns the child prims in order. The slice must not be modified.
func (p *Prim) Children() []PrimID { return p.children }

// Properties returns the attributes and relationships in order.
func (p *Prim) Properties() []AttrID { return p.props }

// Attribute is a typed property of a prim, or a relationship when Kind is
// KindRelationship. Relationships have no type name and no value.
type Attribute struct {
	Name     string
	TypeName string
	Kind     AttrKind
	Value    Value
	Uniform  bool
	Custom   bool
	Metadata Metadata

	id      AttrID
	owner   PrimID
	samples []TimeSample
	targets []Ref
}

func (a *Attribute) ID() AttrID    { return a.id }
func (a *Attribute) Owner() PrimID { return a.owner }

// TimeSamples returns the samples ordered by time.
func (a *Attribute) TimeSamples() []TimeSample { return a.samples }

// Targets returns relationship targets or attribute connection sources.
func (a *Attribute) Targets() []Ref { return a.targets }

// HasDefault reports whether the attribute carries a default value.
func (a *Attribute) HasDefault() bool { return a.Value.IsValid() }

// Document owns every prim and attribute of a scene.
type Document struct {
	Metadata Metadata

	prims []*Prim
	attrs []*Attribute
	roots []PrimID
}

func New() *Document {
	return &Document{}
}

func (d *Document) Prim(id PrimID) *Prim {
	if id < 0 || int(id) >= len(d.prims) {
		return nil
	}
	return d.prims[id]
}

func (d *Document) Attr(id AttrID) *Attribute {
	if id < 0 || int(id) >= len(d.attrs) {
		return nil
	}
	return d.attrs[id]
}

// Roots returns the top level prims in order.
func (d *Document) Roots() []PrimID { return d.roots }

func (d *Document) PrimCount() int { return len(d.prims) }
func (d *Document) AttrCount() int { return len(d.attrs) }

// AddPrim creates a prim under parent, or a root prim when parent is NoPrim.
func (d *Document) AddPrim(parent PrimID, name, typeName string) (PrimID, error) {
	if !validIdentifier(name) {
		return NoPrim, fmt.Errorf("%w: prim %q", ErrInvalidName, name)
	}
	siblings := d.roots
	if parent != NoPrim {
		p := d.Prim(parent)
		if p == nil {
			return NoPrim, fmt.Errorf("%w: prim %d", ErrInvalidHandle, parent)
		}
		siblings = p.children
	}
	for _, s := range siblings {
		if d.prims[s].Name == name {
			return NoPrim, fmt.Errorf("%w: prim %q under %s", ErrDuplicateName, name, d.PrimPath(parent))
		}
	}

	id := PrimID(len(d.prims))
	d.prims = append(d.prims, &Prim{
		Name:     name,
		TypeName: typeName,
		id:       id,
		parent:   parent,
	})
	if parent == NoPrim {
		d.roots = append(d.roots, id)
	} else {
		d.prims[parent].children = append(d.prims[parent].children, id)
	}
	return id, nil
}

// Child returns the named child of parent, searching the roots when parent
// is NoPrim.
func (d *Document) Child(parent PrimID, name string) PrimID {
	siblings := d.roots
	if parent != NoPrim {
		p := d.Prim(parent)
		if p == nil {
			return NoPrim
		}
		siblings = p.children
	}
	for _, s := range siblings {
		if d.prims[s].Name == name {
			return s
		}
	}
	return NoPrim
}

// Property returns the named attribute or relationship of prim.
func (d *Document) Property(prim PrimID, name string) AttrID {
	p := d.Prim(prim)
	if p == nil {
		return NoAttr
	}
	for _, a := range p.props {
		if d.attrs[a].Name == name {
			return a
		}
	}
	return NoAttr
}

func (d *Document) addProperty(prim PrimID, a *Attribute) (AttrID, error) {
	if !validPropertyName(a.Name) {
		return NoAttr, fmt.Errorf("%w: property %q", ErrInvalidName, a.Name)
	}
	p := d.Prim(prim)
	if p == nil {
		return NoAttr, fmt.Errorf("%w: prim %d", ErrInvalidHandle, prim)
	}
	if d.Property(prim, a.Name) != NoAttr {
		return NoAttr, fmt.Errorf("%w: property %q on %s", ErrDuplicateName, a.Name, d.PrimPath(prim))
	}
	a.id = AttrID(len(d.attrs))
	a.owner = prim
	d.attrs = append(d.attrs, a)
	p.props = append(p.props, a.id)
	return a.id, nil
}

// AddAttribute adds a typed attribute to prim. An empty typeName is taken
// from v; an invalid v declares the attribute without a default value.
func (d *Document) AddAttribute(prim PrimID, name, typeName string, v Value) (AttrID, error) {
	if typeName == "" {
		if !v.IsValid() {
			return NoAttr, fmt.Errorf("%w: attribute %q has neither type nor value", ErrTypeMismatch, name)
		}
		typeName = v.TypeName()
	}
	if v.IsValid() {
		if err := checkType(typeName, v); err != nil {
			return NoAttr, fmt.Errorf("attribute %q: %w", name, err)
		}
	} else if _, _, ok := ParseTypeName(typeName); !ok {
		return NoAttr, fmt.Errorf("%w: attribute %q of type %q", ErrUnsupportedValue, name, typeName)
	}
	return d.addProperty(prim, &Attribute{Name: name, TypeName: typeName, Value: v})
}

// AddRelationship adds a relationship to prim targeting the given nodes.
func (d *Document) AddRelationship(prim PrimID, name string, targets ...Ref) (AttrID, error) {
	for _, t := range targets {
		if !d.validRef(t) {
			return NoAttr, fmt.Errorf("%w: target %v", ErrInvalidHandle, t)
		}
	}
	return d.addProperty(prim, &Attribute{
		Name:    name,
		Kind:    KindRelationship,
		targets: append([]Ref(nil), targets...),
	})
}

// AddTarget appends a target to a relationship.
func (d *Document) AddTarget(rel AttrID, target Ref) error {
	a := d.Attr(rel)
	if a == nil || a.Kind != KindRelationship {
		return fmt.Errorf("%w: relationship %d", ErrInvalidHandle, rel)
	}
	if !d.validRef(target) {
		return fmt.Errorf("%w: target %v", ErrInvalidHandle, target)
	}
	a.targets = append(a.targets, target)
	return nil
}

// Connect makes src a connection source of attr.
func (d *Document) Connect(attr AttrID, src Ref) error {
	a := d.Attr(attr)
	if a == nil || a.Kind != KindAttribute {
		return fmt.Errorf("%w: attribute %d", ErrInvalidHandle, attr)
	}
	if !d.validRef(src) {
		return fmt.Errorf("%w: connection source %v", ErrInvalidHandle, src)
	}
	a.targets = append(a.targets, src)
	return nil
}

// RefOf returns a Ref to attribute id.
func (d *Document) RefOf(id AttrID) Ref {
	a := d.Attr(id)
	if a == nil {
		return Ref{Prim: NoPrim, Attr: NoAttr}
	}
	return Ref{Prim: a.owner, Attr: id}
}

// SetTimeSample records v as the value of attr at time t, replacing a sample
// already present at t.
func (d *Document) SetTimeSample(attr AttrID, t float64, v Value) error {
	a := d.Attr(attr)
	if a == nil || a.Kind != KindAttribute {
		return fmt.Errorf("%w: attribute %d", ErrInvalidHandle, attr)
	}
	if err := checkType(a.TypeName, v); err != nil {
		return fmt.Errorf("time sample of %q: %w", a.Name, err)
	}
	i := sort.Search(len(a.samples), func(i int) bool { return a.samples[i].Time >= t })
	if i < len(a.samples) && a.samples[i].Time == t {
		a.samples[i].Value = v
		return nil
	}
	a.samples = append(a.samples, TimeSample{})
	copy(a.samples[i+1:], a.samples[i:])
	a.samples[i] = TimeSample{Time: t, Value: v}
	return nil
}

func checkType(typeName string, v Value) error {
	t, array, ok := ParseTypeName(typeName)
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrUnsupportedValue, typeName)
	}
	if t != v.typ || array != v.array {
		return fmt.Errorf("%w: %s value for %s", ErrTypeMismatch, v.TypeName(), typeName)
	}
	return nil
}

func (d *Document) validRef(r Ref) bool {
	if d.Prim(r.Prim) == nil {
		return false
	}
	if r.Attr == NoAttr {
		return true
	}
	a := d.Attr(r.Attr)
	return a != nil && a.owner == r.Prim
}

// PrimPath returns the absolute path of a prim, "/" for NoPrim.
func (d *Document) PrimPath(id PrimID) string {
	if d.Prim(id) == nil {
		return "/"
	}
	var names []string
	for p := id; p != NoPrim; p = d.prims[p].parent {
		names = append(names, d.prims[p].Name)
	}
	var sb strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(names[i])
	}
	return sb.String()
}

// RefPath returns the absolute path of r, e.g. "/obj/mesh1.points".
func (d *Document) RefPath(r Ref) string {
	if r.Attr == NoAttr {
		return d.PrimPath(r.Prim)
	}
	a := d.Attr(r.Attr)
	if a == nil {
		return ""
	}
	return d.PrimPath(a.owner) + "." + a.Name
}

// Resolve looks up an absolute path written by RefPath.
func (d *Document) Resolve(path string) (Ref, bool) {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return Ref{}, false
	}
	prop := ""
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		path, prop = path[:i], path[i+1:]
	}
	p := NoPrim
	for _, name := range strings.Split(path[1:], "/") {
		if p = d.Child(p, name); p == NoPrim {
			return Ref{}, false
		}
	}
	if prop == "" {
		return PrimRef(p), true
	}
	a := d.Property(p, prop)
	if a == NoAttr {
		return Ref{}, false
	}
	return Ref{Prim: p, Attr: a}, true
}

// Walk calls fn for every prim in pre-order, children in order, with the
// depth of the prim (0 for roots). A non-nil error from fn stops the walk.
func (d *Document) Walk(fn func(id PrimID, depth int) error) error {
	type item struct {
		id    PrimID
		depth int
	}
	stack := make([]item, 0, len(d.roots))
	for i := len(d.roots) - 1; i >= 0; i-- {
		stack = append(stack, item{d.roots[i], 0})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := fn(it.id, it.depth); err != nil {
			return err
		}
		children := d.prims[it.id].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{children[i], it.depth + 1})
		}
	}
	return nil
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// validPropertyName accepts namespaced identifiers such as "inputs:file".
func validPropertyName(s string) bool {
	for _, part := range strings.Split(s, ":") {
		if !validIdentifier(part) {
			return false
		}
	}
	return true
}
