package scene

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildObj(t *testing.T) (*Document, PrimID, PrimID) {
	doc := New()
	obj, err := doc.AddPrim(NoPrim, "obj", "Xform")
	require.NoError(t, err)
	mesh, err := doc.AddPrim(obj, "mesh1", "Mesh")
	require.NoError(t, err)
	_, err = doc.AddAttribute(mesh, "points", "point3f[]", Vec3fArray([][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}))
	require.NoError(t, err)
	_, err = doc.AddAttribute(mesh, "faceVertexIndices", "", IntArray([]int32{0, 1, 2}))
	require.NoError(t, err)
	return doc, obj, mesh
}

func TestDocument_AddPrim(t *testing.T) {
	doc, obj, mesh := buildObj(t)

	require.Equal(t, []PrimID{obj}, doc.Roots())
	require.Equal(t, obj, doc.Prim(mesh).Parent())
	require.Equal(t, "obj", doc.Prim(doc.Prim(mesh).Parent()).Name)
	require.Equal(t, []PrimID{mesh}, doc.Prim(obj).Children())
	require.Equal(t, "/obj/mesh1", doc.PrimPath(mesh))
	require.Equal(t, 2, doc.PrimCount())
	require.Equal(t, 2, doc.AttrCount())

	_, err := doc.AddPrim(obj, "mesh1", "Mesh")
	require.ErrorIs(t, err, ErrDuplicateName)
	_, err = doc.AddPrim(obj, "1mesh", "Mesh")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = doc.AddPrim(obj, "a/b", "")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = doc.AddPrim(PrimID(42), "x", "")
	require.ErrorIs(t, err, ErrInvalidHandle)
}

func TestDocument_AddAttribute(t *testing.T) {
	doc, _, mesh := buildObj(t)

	a := doc.Attr(doc.Property(mesh, "faceVertexIndices"))
	require.NotNil(t, a)
	require.Equal(t, "int[]", a.TypeName)
	require.Equal(t, mesh, a.Owner())
	require.True(t, a.HasDefault())

	_, err := doc.AddAttribute(mesh, "points", "", FloatArray(nil))
	require.ErrorIs(t, err, ErrDuplicateName)
	_, err = doc.AddAttribute(mesh, "extent", "float3[]", FloatArray([]float32{1}))
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = doc.AddAttribute(mesh, "nothing", "", Value{})
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = doc.AddAttribute(mesh, "bad", "wibble", Value{})
	require.ErrorIs(t, err, ErrUnsupportedValue)

	id, err := doc.AddAttribute(mesh, "inputs:file", "asset", Value{})
	require.NoError(t, err)
	require.False(t, doc.Attr(id).HasDefault())
	require.Equal(t, "/obj/mesh1.inputs:file", doc.RefPath(doc.RefOf(id)))
}

func TestDocument_Relationships(t *testing.T) {
	doc, obj, mesh := buildObj(t)
	mat, err := doc.AddPrim(obj, "mat", "Material")
	require.NoError(t, err)
	out, err := doc.AddAttribute(mat, "outputs:surface", "token", Value{})
	require.NoError(t, err)
	shader, err := doc.AddPrim(mat, "pbr", "Shader")
	require.NoError(t, err)
	src, err := doc.AddAttribute(shader, "outputs:surface", "token", Value{})
	require.NoError(t, err)

	rel, err := doc.AddRelationship(mesh, "material:binding", PrimRef(mat))
	require.NoError(t, err)
	require.Equal(t, KindRelationship, doc.Attr(rel).Kind)
	require.Equal(t, []Ref{PrimRef(mat)}, doc.Attr(rel).Targets())

	require.NoError(t, doc.Connect(out, doc.RefOf(src)))
	require.Equal(t, []Ref{{Prim: shader, Attr: src}}, doc.Attr(out).Targets())

	require.ErrorIs(t, doc.Connect(rel, PrimRef(mat)), ErrInvalidHandle)
	require.ErrorIs(t, doc.AddTarget(out, PrimRef(mat)), ErrInvalidHandle)
	require.ErrorIs(t, doc.Connect(out, Ref{Prim: mat, Attr: src}), ErrInvalidHandle)
	_, err = doc.AddRelationship(mesh, "other", PrimRef(99))
	require.ErrorIs(t, err, ErrInvalidHandle)
}

func TestDocument_SetTimeSample(t *testing.T) {
	doc, obj, _ := buildObj(t)
	id, err := doc.AddAttribute(obj, "xformOp:transform", "matrix4d", Value{})
	require.NoError(t, err)

	require.NoError(t, doc.SetTimeSample(id, 2, Identity4d()))
	require.NoError(t, doc.SetTimeSample(id, 1, Identity4d()))
	require.NoError(t, doc.SetTimeSample(id, 3, Identity4d()))
	m := [16]float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1}
	require.NoError(t, doc.SetTimeSample(id, 2, Matrix4d(m)))

	samples := doc.Attr(id).TimeSamples()
	require.Len(t, samples, 3)
	for i, s := range samples {
		require.Equal(t, float64(i+1), s.Time)
	}
	require.True(t, samples[1].Value.Equal(Matrix4d(m)))

	require.ErrorIs(t, doc.SetTimeSample(id, 4, Double(1)), ErrTypeMismatch)
}

func TestDocument_Resolve(t *testing.T) {
	doc, obj, mesh := buildObj(t)

	r, ok := doc.Resolve("/obj")
	require.True(t, ok)
	require.Equal(t, PrimRef(obj), r)

	r, ok = doc.Resolve("/obj/mesh1.points")
	require.True(t, ok)
	require.Equal(t, mesh, r.Prim)
	require.Equal(t, "points", doc.Attr(r.Attr).Name)

	for _, p := range []string{"", "/", "obj", "/nope", "/obj/mesh1.nope"} {
		_, ok = doc.Resolve(p)
		require.False(t, ok, p)
	}
}

func TestDocument_Walk(t *testing.T) {
	doc := New()
	a, _ := doc.AddPrim(NoPrim, "a", "")
	b, _ := doc.AddPrim(a, "b", "")
	_, _ = doc.AddPrim(b, "c", "")
	_, _ = doc.AddPrim(a, "d", "")
	_, _ = doc.AddPrim(NoPrim, "e", "")

	var names []string
	var depths []int
	err := doc.Walk(func(id PrimID, depth int) error {
		names = append(names, doc.Prim(id).Name)
		depths = append(depths, depth)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
	require.Equal(t, []int{0, 1, 2, 1, 0}, depths)

	stop := errors.New("stop")
	count := 0
	err = doc.Walk(func(PrimID, int) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 2, count)
}

func TestDocument_deepWalk(t *testing.T) {
	doc := New()
	p := NoPrim
	for i := 0; i < 100000; i++ {
		var err error
		p, err = doc.AddPrim(p, "n", "")
		require.NoError(t, err)
	}
	deepest := 0
	require.NoError(t, doc.Walk(func(_ PrimID, depth int) error {
		if depth > deepest {
			deepest = depth
		}
		return nil
	}))
	require.Equal(t, 99999, deepest)
}

func TestMetadata(t *testing.T) {
	var m Metadata
	m.Set("upAxis", Token("Y"))
	m.Set("metersPerUnit", Double(1))
	m.Set("upAxis", Token("Z"))

	require.Equal(t, 2, m.Len())
	v, ok := m.Get("upAxis")
	require.True(t, ok)
	require.Equal(t, "Z", v.Str())
	require.Equal(t, "upAxis", m.Entries()[0].Key)

	require.True(t, m.Delete("upAxis"))
	require.False(t, m.Delete("upAxis"))
	_, ok = m.Get("upAxis")
	require.False(t, ok)
}
