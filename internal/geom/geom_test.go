package geom

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/S0me0neR0man/usdcrate/internal/crate"
	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

func propertyNames(doc *scene.Document, p scene.PrimID) []string {
	var names []string
	for _, a := range doc.Prim(p).Properties() {
		names = append(names, doc.Attr(a).Name)
	}
	return names
}

func attr(t *testing.T, doc *scene.Document, path string) *scene.Attribute {
	t.Helper()
	ref, ok := doc.Resolve(path)
	require.True(t, ok, path)
	require.True(t, ref.IsProperty(), path)
	return doc.Attr(ref.Attr)
}

func targetPaths(doc *scene.Document, a *scene.Attribute) []string {
	var out []string
	for _, r := range a.Targets() {
		out = append(out, doc.RefPath(r))
	}
	return out
}

func TestAddXform(t *testing.T) {
	doc := scene.New()
	id, err := AddXform(doc, scene.NoPrim, "obj", Translation(1, 2, 3))
	require.NoError(t, err)
	require.Equal(t, "Xform", doc.Prim(id).TypeName)
	require.Equal(t, []string{"xformOp:transform", "xformOpOrder"}, propertyNames(doc, id))

	op := attr(t, doc, "/obj.xformOp:transform")
	require.True(t, op.Custom)
	require.Equal(t, "matrix4d", op.TypeName)
	require.Equal(t, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 1, 2, 3, 1}, op.Value.Floats())

	order := attr(t, doc, "/obj.xformOpOrder")
	require.True(t, order.Uniform)
	require.Equal(t, []string{"xformOp:transform"}, order.Value.Strings())

	_, err = AddXform(doc, scene.NoPrim, "obj", Translation(0, 0, 0))
	require.ErrorIs(t, err, scene.ErrDuplicateName)
}

func TestAnimateTransform(t *testing.T) {
	doc := scene.New()
	id, err := AddXform(doc, scene.NoPrim, "obj", Translation(0, 0, 0))
	require.NoError(t, err)
	require.NoError(t, AnimateTransform(doc, id, []TransformSample{
		{Time: 2, Matrix: Translation(0, 2, 0)},
		{Time: 1, Matrix: Translation(0, 1, 0)},
	}))
	samples := attr(t, doc, "/obj.xformOp:transform").TimeSamples()
	require.Len(t, samples, 2)
	require.Equal(t, 1.0, samples[0].Time)
	require.Equal(t, 1.0, samples[0].Value.Floats()[13])

	plain, err := doc.AddPrim(scene.NoPrim, "plain", "Scope")
	require.NoError(t, err)
	require.ErrorIs(t, AnimateTransform(doc, plain, nil), scene.ErrInvalidHandle)
}

func TestAddMesh(t *testing.T) {
	doc := scene.New()
	id, err := AddMesh(doc, scene.NoPrim, "cube", Cube(2))
	require.NoError(t, err)
	require.Equal(t, []string{
		"extent", "faceVertexCounts", "faceVertexIndices", "points",
		"primvars:normals:indices", "primvars:normals",
		"primvars:st:indices", "primvars:st",
		"subdivisionScheme",
	}, propertyNames(doc, id))

	extent := attr(t, doc, "/cube.extent")
	require.Equal(t, []float64{-1, -1, -1, 1, 1, 1}, extent.Value.Floats())
	require.Equal(t, 8, attr(t, doc, "/cube.points").Value.Len())
	require.Equal(t, "point3f[]", attr(t, doc, "/cube.points").TypeName)
	require.Equal(t, 24, attr(t, doc, "/cube.faceVertexIndices").Value.Len())

	normals := attr(t, doc, "/cube.primvars:normals")
	require.Equal(t, "normal3f[]", normals.TypeName)
	interp, ok := normals.Metadata.Get("interpolation")
	require.True(t, ok)
	require.Equal(t, "faceVarying", interp.Str())
	require.Equal(t, "texCoord2f[]", attr(t, doc, "/cube.primvars:st").TypeName)

	scheme := attr(t, doc, "/cube.subdivisionScheme")
	require.True(t, scheme.Uniform)
	require.Equal(t, "none", scheme.Value.Str())
}

func TestAddMesh_invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Mesh)
	}{
		{"counts mismatch", func(m *Mesh) { m.FaceVertexCounts[0] = 5 }},
		{"degenerate face", func(m *Mesh) { m.FaceVertexCounts = append(m.FaceVertexCounts[:5], 2, 2) }},
		{"point index", func(m *Mesh) { m.FaceVertexIndices[3] = 8 }},
		{"negative index", func(m *Mesh) { m.FaceVertexIndices[0] = -1 }},
		{"normal indices", func(m *Mesh) { m.NormalIndices = m.NormalIndices[1:] }},
		{"normal index", func(m *Mesh) { m.NormalIndices[0] = 6 }},
		{"uv index", func(m *Mesh) { m.UVs[0].Indices[2] = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Cube(1)
			tt.mutate(&m)
			doc := scene.New()
			_, err := AddMesh(doc, scene.NoPrim, "cube", m)
			require.ErrorIs(t, err, ErrInvalidMesh)
			require.Zero(t, doc.PrimCount())
		})
	}
}

func TestExtent(t *testing.T) {
	require.Equal(t, [2][3]float32{}, Extent(nil))
	require.Equal(t, [2][3]float32{{-1, 0, 2}, {3, 5, 2}}, Extent([][3]float32{{3, 0, 2}, {-1, 5, 2}}))
}

func TestAddMaterial(t *testing.T) {
	doc := scene.New()
	m := DefaultMaterial()
	m.Metallic = 1
	m.Textures = []Texture{
		{Input: "diffuseColor", File: "albedo.png", UVSet: "st"},
		{Input: "roughness", File: "rough.png", UVSet: "st"},
	}
	id, err := AddMaterial(doc, scene.NoPrim, "M", m)
	require.NoError(t, err)
	require.Equal(t, "Material", doc.Prim(id).TypeName)

	var shaders []string
	for _, c := range doc.Prim(id).Children() {
		require.Equal(t, "Shader", doc.Prim(c).TypeName)
		shaders = append(shaders, doc.Prim(c).Name)
	}
	require.Equal(t, []string{"pbr", "primvar_st", "diffuseColor_map", "roughness_map"}, shaders)

	require.Equal(t, "UsdPreviewSurface", attr(t, doc, "/M/pbr.info:id").Value.Str())
	require.True(t, attr(t, doc, "/M/pbr.info:id").Uniform)
	require.Equal(t, []string{"/M/pbr.outputs:surface"}, targetPaths(doc, attr(t, doc, "/M.outputs:surface")))
	require.Equal(t, []string{"/M/pbr.outputs:displacement"}, targetPaths(doc, attr(t, doc, "/M.outputs:displacement")))

	diffuse := attr(t, doc, "/M/pbr.inputs:diffuseColor")
	require.False(t, diffuse.HasDefault())
	require.Equal(t, "color3f", diffuse.TypeName)
	require.Equal(t, []string{"/M/diffuseColor_map.outputs:rgb"}, targetPaths(doc, diffuse))
	require.Equal(t, []string{"/M/roughness_map.outputs:r"}, targetPaths(doc, attr(t, doc, "/M/pbr.inputs:roughness")))

	metallic := attr(t, doc, "/M/pbr.inputs:metallic")
	require.Empty(t, metallic.Targets())
	require.Equal(t, 1.0, metallic.Value.Float())
	require.Equal(t, int64(0), attr(t, doc, "/M/pbr.inputs:useSpecularWorkflow").Value.Int())

	require.Equal(t, "st", attr(t, doc, "/M.inputs:frame:stPrimvar_st").Value.Str())
	require.Equal(t, []string{"/M.inputs:frame:stPrimvar_st"}, targetPaths(doc, attr(t, doc, "/M/primvar_st.inputs:varname")))
	require.Equal(t, []string{"/M/primvar_st.outputs:result"}, targetPaths(doc, attr(t, doc, "/M/diffuseColor_map.inputs:st")))

	file := attr(t, doc, "/M/diffuseColor_map.inputs:file")
	require.Equal(t, scene.TypeAsset, file.Value.Type())
	require.Equal(t, "albedo.png", file.Value.Str())
	fill := attr(t, doc, "/M/roughness_map.inputs:default").Value.Floats()
	require.Equal(t, []float64{0.5, 0.5, 0.5, 1}, fill)

	m.Textures = []Texture{{Input: "useSpecularWorkflow", File: "x.png", UVSet: "st"}}
	_, err = AddMaterial(doc, scene.NoPrim, "Bad", m)
	require.ErrorIs(t, err, scene.ErrInvalidName)
	m.Textures = []Texture{{Input: "sheen", File: "x.png", UVSet: "st"}}
	_, err = AddMaterial(doc, scene.NoPrim, "Bad", m)
	require.ErrorIs(t, err, scene.ErrInvalidName)
}

func TestBindMaterial(t *testing.T) {
	doc := scene.New()
	mesh, err := AddMesh(doc, scene.NoPrim, "cube", Cube(1))
	require.NoError(t, err)
	mat, err := AddMaterial(doc, scene.NoPrim, "M", DefaultMaterial())
	require.NoError(t, err)

	require.ErrorIs(t, BindMaterial(doc, mesh, mesh), scene.ErrInvalidHandle)
	require.NoError(t, BindMaterial(doc, mesh, mat))
	rel := attr(t, doc, "/cube.material:binding")
	require.Equal(t, scene.KindRelationship, rel.Kind)
	require.Equal(t, []string{"/M"}, targetPaths(doc, rel))
	require.ErrorIs(t, BindMaterial(doc, mesh, mat), scene.ErrDuplicateName)
}

func TestAddSkinning(t *testing.T) {
	doc := scene.New()
	mesh, err := AddMesh(doc, scene.NoPrim, "cube", Cube(1))
	require.NoError(t, err)

	skin := Skin{Joints: []string{"root", "root/arm"}, ElementSize: 2}
	for i := 0; i < 8; i++ {
		skin.Indices = append(skin.Indices, 0, 1)
		skin.Weights = append(skin.Weights, 0.75, 0.25)
	}
	bad := skin
	bad.Indices = append([]int32{2}, skin.Indices[1:]...)
	require.ErrorIs(t, AddSkinning(doc, mesh, bad), ErrInvalidMesh)
	bad = skin
	bad.Weights = skin.Weights[1:]
	require.ErrorIs(t, AddSkinning(doc, mesh, bad), ErrInvalidMesh)
	bad = skin
	bad.ElementSize = 0
	require.ErrorIs(t, AddSkinning(doc, mesh, bad), ErrInvalidMesh)

	require.NoError(t, AddSkinning(doc, mesh, skin))
	joints := attr(t, doc, "/cube.skel:joints")
	require.True(t, joints.Uniform)
	require.Equal(t, skin.Joints, joints.Value.Strings())
	weights := attr(t, doc, "/cube.primvars:skel:jointWeights")
	require.Equal(t, 16, weights.Value.Len())
	size, ok := weights.Metadata.Get("elementSize")
	require.True(t, ok)
	require.Equal(t, int64(2), size.Int())

	scope, err := doc.AddPrim(scene.NoPrim, "scope", "Scope")
	require.NoError(t, err)
	require.ErrorIs(t, AddSkinning(doc, scope, skin), ErrInvalidMesh)
}

func TestSampleDocument_roundTrip(t *testing.T) {
	doc, err := SampleDocument("albedo.png")
	require.NoError(t, err)
	data, err := crate.NewWriter(nil).Encode(doc)
	require.NoError(t, err)
	got, err := crate.Decode(data, nil)
	require.NoError(t, err)

	require.Equal(t, doc.PrimCount(), got.PrimCount())
	require.Equal(t, doc.AttrCount(), got.AttrCount())
	up, ok := got.Metadata.Get("upAxis")
	require.True(t, ok)
	require.Equal(t, "Y", up.Str())

	var want, have []string
	_ = doc.Walk(func(id scene.PrimID, _ int) error {
		want = append(want, doc.PrimPath(id)+" "+doc.Prim(id).TypeName)
		return nil
	})
	_ = got.Walk(func(id scene.PrimID, _ int) error {
		have = append(have, got.PrimPath(id)+" "+got.Prim(id).TypeName)
		return nil
	})
	require.Equal(t, want, have)

	require.Equal(t, []string{"/Cube/Material"}, targetPaths(got, attr(t, got, "/Cube/Cube_Material.material:binding")))
	require.Equal(t, []string{"/Cube/Material/diffuseColor_map.outputs:rgb"},
		targetPaths(got, attr(t, got, "/Cube/Material/pbr.inputs:diffuseColor")))
	require.Equal(t, "albedo.png", attr(t, got, "/Cube/Material/diffuseColor_map.inputs:file").Value.Str())
}
