package crate

import (
	"fmt"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

type nodeKind uint8

const (
	nodeRoot nodeKind = iota
	nodePrim
	nodeProperty
)

// node is one entry of the flattened path tree.
type node struct {
	kind       nodeKind
	prim       scene.PrimID
	attr       scene.AttrID
	parent     int32
	size       int32 // entries in the subtree rooted here, itself included
	hasSibling bool
}

// jump encodes the tree shape around n: the distance to the next sibling
// when n has both children and a sibling, -1 when only children follow, 0
// when only a sibling follows and -2 when neither does.
func (n node) jump() int32 {
	hasChild := n.size > 1
	switch {
	case hasChild && n.hasSibling:
		return n.size
	case hasChild:
		return -1
	case n.hasSibling:
		return 0
	}
	return -2
}

// linearize lays the document out in pre-order, the pseudo root first and
// every prim's children before its properties, and records the path index
// of every prim and attribute.
func (e *encoder) linearize() {
	doc := e.doc
	e.primPath = make([]int32, doc.PrimCount())
	e.attrPath = make([]int32, doc.AttrCount())
	for i := range e.primPath {
		e.primPath[i] = -1
	}
	for i := range e.attrPath {
		e.attrPath[i] = -1
	}

	stack := []node{{kind: nodeRoot, prim: scene.NoPrim, attr: scene.NoAttr, parent: -1}}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n.size = 1
		index := int32(len(e.nodes))
		e.nodes = append(e.nodes, n)

		var children []node
		switch n.kind {
		case nodeRoot:
			for _, id := range doc.Roots() {
				children = append(children, node{kind: nodePrim, prim: id, attr: scene.NoAttr})
			}
		case nodePrim:
			e.primPath[n.prim] = index
			p := doc.Prim(n.prim)
			for _, id := range p.Children() {
				children = append(children, node{kind: nodePrim, prim: id, attr: scene.NoAttr})
			}
			for _, id := range p.Properties() {
				children = append(children, node{kind: nodeProperty, prim: n.prim, attr: id})
			}
		case nodeProperty:
			e.attrPath[n.attr] = index
		}
		for i := len(children) - 1; i >= 0; i-- {
			c := children[i]
			c.parent = index
			c.hasSibling = i < len(children)-1
			stack = append(stack, c)
		}
	}

	for i := len(e.nodes) - 1; i > 0; i-- {
		e.nodes[e.nodes[i].parent].size += e.nodes[i].size
	}
}

// emitSpecs builds the field set, spec and path entry of every node.
func (e *encoder) emitSpecs() error {
	for i, n := range e.nodes {
		var (
			fields  []uint32
			err     error
			typ     SpecType
			element int32
		)
		switch n.kind {
		case nodeRoot:
			typ = SpecPseudoRoot
			element = int32(e.token(""))
			fields, err = e.rootFields()
		case nodePrim:
			typ = SpecPrim
			element = int32(e.token(e.doc.Prim(n.prim).Name))
			fields, err = e.primFields(n.prim)
		case nodeProperty:
			a := e.doc.Attr(n.attr)
			typ = SpecAttribute
			if a.Kind == scene.KindRelationship {
				typ = SpecRelationship
			}
			element = -int32(e.token(a.Name))
			fields, err = e.attrFields(a)
		}
		if err != nil {
			return err
		}
		e.specs = append(e.specs, specEntry{path: int32(i), fset: e.addFieldSet(fields), typ: typ})
		e.paths = append(e.paths, pathEntry{index: int32(i), token: element, jump: n.jump()})
	}
	return nil
}

func (e *encoder) rootFields() ([]uint32, error) {
	fields, err := e.metadataFields(&e.doc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("document metadata: %w", err)
	}
	if roots := e.doc.Roots(); len(roots) > 0 {
		rep, err := e.packValue(e.primNames(roots))
		if err != nil {
			return nil, err
		}
		fields = append(fields, e.addField(fieldPrimChildren, rep))
	}
	return fields, nil
}

func (e *encoder) primFields(id scene.PrimID) ([]uint32, error) {
	p := e.doc.Prim(id)
	path := e.doc.PrimPath(id)
	fields := []uint32{e.addField(fieldSpecifier, inlineRep(scene.TypeSpecifier, uint64(p.Specifier)))}
	if p.TypeName != "" {
		fields = append(fields, e.addField(fieldTypeName, inlineRep(scene.TypeToken, uint64(e.token(p.TypeName)))))
	}
	meta, err := e.metadataFields(&p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("prim %s: %w", path, err)
	}
	fields = append(fields, meta...)

	if len(p.Children()) > 0 {
		rep, err := e.packValue(e.primNames(p.Children()))
		if err != nil {
			return nil, fmt.Errorf("prim %s: %w", path, err)
		}
		fields = append(fields, e.addField(fieldPrimChildren, rep))
	}
	if len(p.Properties()) > 0 {
		names := make([]string, len(p.Properties()))
		for i, a := range p.Properties() {
			names[i] = e.doc.Attr(a).Name
		}
		v, _ := scene.FromStrings(scene.TypeTokenVector, false, names)
		rep, err := e.packValue(v)
		if err != nil {
			return nil, fmt.Errorf("prim %s: %w", path, err)
		}
		fields = append(fields, e.addField(fieldProperties, rep))
	}
	return fields, nil
}

func (e *encoder) primNames(ids []scene.PrimID) scene.Value {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = e.doc.Prim(id).Name
	}
	v, _ := scene.FromStrings(scene.TypeTokenVector, false, names)
	return v
}

func (e *encoder) attrFields(a *scene.Attribute) ([]uint32, error) {
	path := e.doc.RefPath(e.doc.RefOf(a.ID()))
	var fields []uint32
	if a.Kind == scene.KindAttribute {
		fields = append(fields, e.addField(fieldTypeName, inlineRep(scene.TypeToken, uint64(e.token(a.TypeName)))))
	}
	if a.Custom {
		fields = append(fields, e.addField(fieldCustom, inlineRep(scene.TypeBool, 1)))
	}
	if a.Uniform {
		fields = append(fields, e.addField(fieldVariability, inlineRep(scene.TypeVariability, uint64(scene.VariabilityUniform))))
	}
	if a.HasDefault() {
		rep, err := e.packValue(a.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", path, err)
		}
		fields = append(fields, e.addField(fieldDefault, rep))
	}
	if len(a.TimeSamples()) > 0 {
		rep, err := e.packTimeSamples(a.TimeSamples())
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", path, err)
		}
		fields = append(fields, e.addField(fieldTimeSamples, rep))
	}
	if len(a.Targets()) > 0 || a.Kind == scene.KindRelationship {
		name := fieldConnectionPaths
		if a.Kind == scene.KindRelationship {
			name = fieldTargetPaths
		}
		rep, err := e.packPathList(a.Targets())
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", path, err)
		}
		fields = append(fields, e.addField(name, rep))
	}
	meta, err := e.metadataFields(&a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", path, err)
	}
	return append(fields, meta...), nil
}

func (e *encoder) metadataFields(m *scene.Metadata) ([]uint32, error) {
	fields := make([]uint32, 0, m.Len())
	for _, entry := range m.Entries() {
		if reservedFields[entry.Key] {
			return nil, fmt.Errorf("metadata %q: %w: reserved field name", entry.Key, ErrUnsupportedType)
		}
		rep, err := e.packValue(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", entry.Key, err)
		}
		fields = append(fields, e.addField(entry.Key, rep))
	}
	return fields, nil
}

// pathIndex returns the path index of a relationship target or connection source.
func (e *encoder) pathIndex(r scene.Ref) (int32, error) {
	if r.IsProperty() {
		if int(r.Attr) < len(e.attrPath) && r.Attr >= 0 && e.attrPath[r.Attr] >= 0 {
			return e.attrPath[r.Attr], nil
		}
	} else if int(r.Prim) < len(e.primPath) && r.Prim >= 0 && e.primPath[r.Prim] >= 0 {
		return e.primPath[r.Prim], nil
	}
	return 0, fmt.Errorf("%w: dangling target %+v", scene.ErrInvalidHandle, r)
}
