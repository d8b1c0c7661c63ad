package crate

import (
	"errors"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

type namedRep struct {
	name string
	rep  Rep
}

type specFields []namedRep

func (f specFields) get(name string) (Rep, bool) {
	for _, nr := range f {
		if nr.name == name {
			return nr.rep, true
		}
	}
	return 0, false
}

type pendingTargets struct {
	attr scene.AttrID
	rep  Rep
}

// builder reconstructs a scene document from the decoded sections.
type builder struct {
	r        *Reader
	doc      *scene.Document
	specOf   []int
	children [][]int32
	refs     map[int32]scene.Ref
	pending  []pendingTargets
}

// Document rebuilds the scene document. Relationship targets and
// connections are resolved once every node exists.
func (r *Reader) Document() (*scene.Document, error) {
	n := len(r.paths)
	b := &builder{
		r:        r,
		doc:      scene.New(),
		specOf:   make([]int, n),
		children: make([][]int32, n),
		refs:     make(map[int32]scene.Ref),
	}
	for i := range b.specOf {
		b.specOf[i] = -1
	}
	for i, s := range r.specs {
		if s.path < 0 || int(s.path) >= n {
			return nil, malformed(SectionSpecs, r.sectionStart(SectionSpecs), "spec %d references path %d of %d", i, s.path, n)
		}
		if b.specOf[s.path] >= 0 {
			return nil, malformed(SectionSpecs, r.sectionStart(SectionSpecs), "path %s has two specs", r.Path(int(s.path)))
		}
		b.specOf[s.path] = i
	}
	if n == 0 {
		return b.doc, nil
	}

	root := int32(-1)
	for i, p := range r.paths {
		if p.parent < 0 {
			root = int32(i)
		} else {
			b.children[p.parent] = append(b.children[p.parent], int32(i))
		}
	}
	if err := b.build(root); err != nil {
		return nil, err
	}
	if err := b.resolveTargets(); err != nil {
		return nil, err
	}
	r.sugar.Debugw("document rebuilt", "prims", b.doc.PrimCount(), "properties", b.doc.AttrCount())
	return b.doc, nil
}

func (b *builder) fields(path int32) (specEntry, specFields, error) {
	s := b.r.specs[b.specOf[path]]
	set, err := b.r.fieldSet(s.fset)
	if err != nil {
		return s, nil, err
	}
	fields := make(specFields, len(set))
	for i, f := range set {
		fd := b.r.fields[f]
		fields[i] = namedRep{name: b.r.tokens[fd.token], rep: fd.rep}
	}
	return s, fields, nil
}

func (b *builder) isProperty(path int32) bool {
	if i := b.specOf[path]; i >= 0 {
		switch b.r.specs[i].typ {
		case SpecAttribute, SpecRelationship, SpecConnection, SpecRelationshipTarget:
			return true
		case SpecPrim, SpecPseudoRoot, SpecVariant, SpecVariantSet:
			return false
		}
	}
	return b.r.paths[path].property
}

// ordered splits the children of path into prims and properties, ordered
// by the primChildren and properties fields where present.
func (b *builder) ordered(path int32, fields specFields) (prims, props []int32, err error) {
	for _, c := range b.children[path] {
		if b.isProperty(c) {
			props = append(props, c)
		} else {
			prims = append(prims, c)
		}
	}
	if rep, ok := fields.get(fieldPrimChildren); ok {
		if prims, err = b.reorder(prims, rep); err != nil {
			return nil, nil, err
		}
	}
	if rep, ok := fields.get(fieldProperties); ok {
		if props, err = b.reorder(props, rep); err != nil {
			return nil, nil, err
		}
	}
	return prims, props, nil
}

func (b *builder) reorder(paths []int32, rep Rep) ([]int32, error) {
	v, err := b.r.Value(rep)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int32, len(paths))
	for _, p := range paths {
		byName[b.r.paths[p].name] = p
	}
	out := make([]int32, 0, len(paths))
	used := make(map[int32]bool, len(paths))
	for _, name := range v.Strings() {
		if p, ok := byName[name]; ok && !used[p] {
			out = append(out, p)
			used[p] = true
		}
	}
	for _, p := range paths {
		if !used[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *builder) build(root int32) error {
	var rootFields specFields
	if b.specOf[root] >= 0 {
		s, fields, err := b.fields(root)
		if err != nil {
			return err
		}
		if s.typ != SpecPseudoRoot {
			return malformed(SectionSpecs, b.r.sectionStart(SectionSpecs), "root path has %s spec", s.typ)
		}
		rootFields = fields
		if err := b.metadata(&b.doc.Metadata, fields, "/"); err != nil {
			return err
		}
	}
	prims, props, err := b.ordered(root, rootFields)
	if err != nil {
		return err
	}
	if len(props) > 0 {
		b.r.sugar.Warnw("skipping properties of the pseudo root", "count", len(props))
	}

	type item struct {
		path   int32
		parent scene.PrimID
	}
	stack := make([]item, 0, len(prims))
	for i := len(prims) - 1; i >= 0; i-- {
		stack = append(stack, item{prims[i], scene.NoPrim})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		children, err := b.prim(it.path, it.parent)
		if err != nil {
			return err
		}
		if children == nil {
			continue
		}
		id := b.refs[it.path].Prim
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{children[i], id})
		}
	}
	return nil
}

// prim creates the prim at path and its properties, returning its child
// prim paths.
func (b *builder) prim(path int32, parent scene.PrimID) ([]int32, error) {
	name := b.r.Path(int(path))
	if b.specOf[path] < 0 {
		b.r.sugar.Warnw("skipping path without spec", "path", name)
		return nil, nil
	}
	s, fields, err := b.fields(path)
	if err != nil {
		return nil, err
	}
	if s.typ != SpecPrim {
		b.r.sugar.Warnw("skipping unsupported spec", "path", name, "type", s.typ.String())
		return nil, nil
	}

	typeName := ""
	if rep, ok := fields.get(fieldTypeName); ok {
		v, err := b.r.Value(rep)
		if err != nil {
			return nil, err
		}
		typeName = v.Str()
	}
	id, err := b.doc.AddPrim(parent, b.r.paths[path].name, typeName)
	if err != nil {
		return nil, wrapFormat(SectionPaths, 0, "prim "+name, err)
	}
	b.refs[path] = scene.PrimRef(id)
	p := b.doc.Prim(id)
	if rep, ok := fields.get(fieldSpecifier); ok {
		v, err := b.r.Value(rep)
		if err != nil {
			return nil, err
		}
		p.Specifier = scene.Specifier(v.Int())
	}
	if err := b.metadata(&p.Metadata, fields, name); err != nil {
		return nil, err
	}

	prims, props, err := b.ordered(path, fields)
	if err != nil {
		return nil, err
	}
	for _, prop := range props {
		if err := b.property(prop, id); err != nil {
			return nil, err
		}
	}
	if prims == nil {
		prims = []int32{}
	}
	return prims, nil
}

func (b *builder) property(path int32, prim scene.PrimID) error {
	name := b.r.Path(int(path))
	if b.specOf[path] < 0 {
		b.r.sugar.Warnw("skipping path without spec", "path", name)
		return nil
	}
	s, fields, err := b.fields(path)
	if err != nil {
		return err
	}
	elem := b.r.paths[path].name

	var id scene.AttrID
	switch s.typ {
	case SpecAttribute:
		rep, ok := fields.get(fieldTypeName)
		if !ok {
			return malformed(SectionSpecs, b.r.sectionStart(SectionSpecs), "attribute %s has no type name", name)
		}
		tv, err := b.r.Value(rep)
		if err != nil {
			return err
		}
		var def scene.Value
		if rep, ok := fields.get(fieldDefault); ok {
			if def, err = b.r.Value(rep); err != nil {
				return err
			}
		}
		if id, err = b.doc.AddAttribute(prim, elem, tv.Str(), def); err != nil {
			return wrapFormat(SectionSpecs, 0, "attribute "+name, err)
		}
		a := b.doc.Attr(id)
		if rep, ok := fields.get(fieldVariability); ok {
			v, err := b.r.Value(rep)
			if err != nil {
				return err
			}
			a.Uniform = scene.Variability(v.Int()) == scene.VariabilityUniform
		}
		if rep, ok := fields.get(fieldTimeSamples); ok {
			samples, err := b.r.TimeSamples(rep)
			if err != nil {
				return err
			}
			for _, ts := range samples {
				if err := b.doc.SetTimeSample(id, ts.Time, ts.Value); err != nil {
					return wrapFormat(sectionValues, int64(rep.Payload()), "time samples of "+name, err)
				}
			}
		}
		if rep, ok := fields.get(fieldConnectionPaths); ok {
			b.pending = append(b.pending, pendingTargets{attr: id, rep: rep})
		}
	case SpecRelationship:
		if id, err = b.doc.AddRelationship(prim, elem); err != nil {
			return wrapFormat(SectionSpecs, 0, "relationship "+name, err)
		}
		if rep, ok := fields.get(fieldTargetPaths); ok {
			b.pending = append(b.pending, pendingTargets{attr: id, rep: rep})
		}
	default:
		b.r.sugar.Warnw("skipping unsupported spec", "path", name, "type", s.typ.String())
		return nil
	}

	a := b.doc.Attr(id)
	if rep, ok := fields.get(fieldCustom); ok {
		v, err := b.r.Value(rep)
		if err != nil {
			return err
		}
		a.Custom = v.Bool()
	}
	b.refs[path] = b.doc.RefOf(id)
	return b.metadata(&a.Metadata, fields, name)
}

// metadata copies every field without a dedicated meaning into m. Values
// without a scene representation are skipped.
func (b *builder) metadata(m *scene.Metadata, fields specFields, path string) error {
	for _, f := range fields {
		if reservedFields[f.name] {
			continue
		}
		v, err := b.r.Value(f.rep)
		if errors.Is(err, ErrUnsupportedType) {
			b.r.sugar.Warnw("skipping metadata", "path", path, "field", f.name, "err", err)
			continue
		}
		if err != nil {
			return err
		}
		m.Set(f.name, v)
	}
	return nil
}

func (b *builder) resolveTargets() error {
	for _, p := range b.pending {
		a := b.doc.Attr(p.attr)
		indices, err := b.r.PathList(p.rep)
		if err != nil {
			return err
		}
		for _, idx := range indices {
			if int(idx) >= len(b.r.paths) {
				return malformed(sectionValues, int64(p.rep.Payload()), "target path %d of %d", idx, len(b.r.paths))
			}
			ref, ok := b.refs[int32(idx)]
			if !ok {
				b.r.sugar.Warnw("skipping unresolved target", "property", a.Name, "target", b.r.Path(int(idx)))
				continue
			}
			if a.Kind == scene.KindRelationship {
				err = b.doc.AddTarget(p.attr, ref)
			} else {
				err = b.doc.Connect(p.attr, ref)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
