package crate

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

func encode(t *testing.T, doc *scene.Document, opts ...Option) []byte {
	t.Helper()
	data, err := NewWriter(zap.NewNop(), opts...).Encode(doc)
	require.NoError(t, err)
	return data
}

func reader(t *testing.T, data []byte) *Reader {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	return r
}

func objDocument(t *testing.T) *scene.Document {
	t.Helper()
	doc := scene.New()
	obj, err := doc.AddPrim(scene.NoPrim, "obj", "Xform")
	require.NoError(t, err)
	mesh, err := doc.AddPrim(obj, "mesh1", "Mesh")
	require.NoError(t, err)
	_, err = doc.AddAttribute(mesh, "points", "point3f[]", scene.Vec3fArray([][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}))
	require.NoError(t, err)
	_, err = doc.AddAttribute(mesh, "faceVertexIndices", "int[]", scene.IntArray([]int32{0, 1, 2}))
	require.NoError(t, err)
	return doc
}

func TestWriter_objMesh(t *testing.T) {
	data := encode(t, objDocument(t))

	require.Equal(t, "PXR-USDC", string(data[:8]))
	require.Equal(t, []byte{0, 6, 0, 0, 0, 0, 0, 0}, data[8:16])
	tocOffset := binary.LittleEndian.Uint64(data[16:])
	require.Equal(t, uint64(6), binary.LittleEndian.Uint64(data[tocOffset:]))
	require.Equal(t, uint64(len(data)), tocOffset+8+6*tocEntrySize)

	doc, err := Decode(data, nil)
	require.NoError(t, err)
	require.Len(t, doc.Roots(), 1)
	obj := doc.Prim(doc.Roots()[0])
	require.Equal(t, "obj", obj.Name)
	require.Equal(t, "Xform", obj.TypeName)
	require.Len(t, obj.Children(), 1)

	mesh := doc.Prim(obj.Children()[0])
	require.Equal(t, "mesh1", mesh.Name)
	require.Equal(t, "Mesh", mesh.TypeName)
	require.Equal(t, "obj", doc.Prim(mesh.Parent()).Name)

	points := doc.Attr(doc.Property(mesh.ID(), "points"))
	require.NotNil(t, points)
	require.Equal(t, "point3f[]", points.TypeName)
	require.True(t, points.Value.Equal(scene.Vec3fArray([][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}})))

	indices := doc.Attr(doc.Property(mesh.ID(), "faceVertexIndices"))
	require.NotNil(t, indices)
	require.True(t, indices.Value.Equal(scene.IntArray([]int32{0, 1, 2})))
	require.Equal(t, []scene.AttrID{points.ID(), indices.ID()}, mesh.Properties())
}

func TestWriter_paths(t *testing.T) {
	doc := objDocument(t)
	r := reader(t, encode(t, doc))

	var jumps []int32
	for _, p := range r.rawPaths {
		jumps = append(jumps, p.jump)
	}
	require.Equal(t, []int32{-1, -1, -1, 0, -2}, jumps)
	require.Equal(t, "/", r.Path(0))
	require.Equal(t, "/obj", r.Path(1))
	require.Equal(t, "/obj/mesh1", r.Path(2))
	require.Equal(t, "/obj/mesh1.points", r.Path(3))
	require.Equal(t, "/obj/mesh1.faceVertexIndices", r.Path(4))

	// properties carry negated element tokens
	require.EqualValues(t, 0, r.rawPaths[0].token)
	require.Positive(t, r.rawPaths[1].token)
	require.Negative(t, r.rawPaths[3].token)
	require.Equal(t, "points", r.tokens[-r.rawPaths[3].token])

	types := make([]SpecType, len(r.specs))
	for i, s := range r.specs {
		types[i] = s.typ
	}
	require.Equal(t, []SpecType{SpecPseudoRoot, SpecPrim, SpecPrim, SpecAttribute, SpecAttribute}, types)
}

func TestWriter_siblingJumps(t *testing.T) {
	doc := scene.New()
	a, _ := doc.AddPrim(scene.NoPrim, "a", "")
	_, _ = doc.AddPrim(a, "c", "")
	_, err := doc.AddAttribute(a, "x", "", scene.Int(1))
	require.NoError(t, err)
	b, _ := doc.AddPrim(scene.NoPrim, "b", "")
	_, err = doc.AddAttribute(b, "y", "", scene.Int(2))
	require.NoError(t, err)

	r := reader(t, encode(t, doc))
	var jumps []int32
	var paths []string
	for i, p := range r.rawPaths {
		jumps = append(jumps, p.jump)
		paths = append(paths, r.Path(i))
	}
	require.Equal(t, []int32{-1, 3, 0, -2, -1, -2}, jumps)
	require.Equal(t, []string{"/", "/a", "/a/c", "/a.x", "/b", "/b.y"}, paths)
}

// randomDocument builds a tree of n prims with random fan-out and properties.
func randomDocument(t *testing.T, rnd *rand.Rand, n int) *scene.Document {
	doc := scene.New()
	var prims []scene.PrimID
	for i := 0; i < n; i++ {
		parent := scene.NoPrim
		if len(prims) > 0 && rnd.Intn(5) > 0 {
			parent = prims[rnd.Intn(len(prims))]
		}
		id, err := doc.AddPrim(parent, "p"+string(rune('a'+i%26))+string(rune('a'+i/26%26))+string(rune('a'+i/676)), "Xform")
		require.NoError(t, err)
		prims = append(prims, id)
		for j := rnd.Intn(3); j > 0; j-- {
			_, err := doc.AddAttribute(id, "attr"+string(rune('a'+j)), "", scene.Int(int32(i)))
			require.NoError(t, err)
		}
	}
	return doc
}

func TestWriter_jumpsBalanced(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	for round := 0; round < 20; round++ {
		doc := randomDocument(t, rnd, 1+rnd.Intn(200))
		r := reader(t, encode(t, doc))

		descends, terminals := 0, 0
		for i, p := range r.rawPaths {
			if p.jump == -1 || p.jump > 0 {
				descends++
				// the entry after a descend is a child of this entry
				require.Equal(t, p.index, r.paths[r.rawPaths[i+1].index].parent)
			}
			if p.jump < 0 {
				terminals++
			}
			if p.jump >= 0 {
				next := i + 1
				if p.jump > 0 {
					next = i + int(p.jump)
				}
				sibling := r.rawPaths[next]
				require.Equal(t, r.paths[p.index].parent, r.paths[sibling.index].parent)
			}
		}
		// one run of siblings per descend plus the run holding the root
		require.Equal(t, descends+1, terminals)

		want := []string{"/"}
		_ = doc.Walk(func(id scene.PrimID, _ int) error {
			want = append(want, doc.PrimPath(id))
			for _, a := range doc.Prim(id).Properties() {
				want = append(want, doc.RefPath(doc.RefOf(a)))
			}
			return nil
		})
		var got []string
		for i := range r.paths {
			got = append(got, r.Path(i))
		}
		sort.Strings(want)
		sort.Strings(got)
		require.Equal(t, want, got)
	}
}

func TestWriter_emptyDocument(t *testing.T) {
	data := encode(t, scene.New())
	r := reader(t, data)
	require.Len(t, r.rawPaths, 1)
	require.EqualValues(t, -2, r.rawPaths[0].jump)

	doc, err := r.Document()
	require.NoError(t, err)
	require.Empty(t, doc.Roots())
}

func TestWriter_deepHierarchy(t *testing.T) {
	doc := scene.New()
	p := scene.NoPrim
	for i := 0; i < 20000; i++ {
		var err error
		p, err = doc.AddPrim(p, "n", "")
		require.NoError(t, err)
	}
	_, err := doc.AddAttribute(p, "leaf", "", scene.Bool(true))
	require.NoError(t, err)

	got, err := Decode(encode(t, doc), nil)
	require.NoError(t, err)
	require.Equal(t, 20000, got.PrimCount())
	leaf := got.Attr(0)
	require.Equal(t, "leaf", leaf.Name)
	require.Equal(t, doc.PrimPath(p), got.PrimPath(leaf.Owner()))
}

func allValues(t *testing.T) map[string]scene.Value {
	t.Helper()
	must := func(v scene.Value, err error) scene.Value {
		require.NoError(t, err)
		return v
	}
	big := make([]int32, 100)
	big64 := make([]int64, 100)
	bigU := make([]int64, 100)
	for i := range big {
		big[i] = int32(i*i - 5000)
		big64[i] = int64(i) << 40
		bigU[i] = int64(4000000000 - i)
	}
	return map[string]scene.Value{
		"bool":         scene.Bool(true),
		"uchar":        scene.UChar(200),
		"int":          scene.Int(-5),
		"uint":         scene.UInt(4000000000),
		"int64":        scene.Int64(-1 << 40),
		"uint64":       scene.UInt64(1 << 63),
		"float":        scene.Float(1.5),
		"double":       scene.Double(0.1),
		"doubleInline": scene.Double(2),
		"string":       scene.String("hello world"),
		"token":        scene.Token("Y"),
		"asset":        scene.Asset("textures/albedo.png"),
		"vec2f":        scene.Vec2f(1, 2),
		"vec3f":        scene.Vec3f(0.5, 0.25, 0.125),
		"vec4f":        scene.Vec4f(1, 2, 3, 4.5),
		"vec3d":        scene.Vec3d(0.1, 0.2, 0.3),
		"vec4d":        scene.Vec4d(1, 0, 0, 1),
		"vec2i":        scene.Vec2i(1000, -2),
		"vec3i":        scene.Vec3i(1, 2, 3),
		"vec4i":        scene.Vec4i(-70000, 0, 1, 2),
		"quatf":        scene.Quatf(1, 0.5, 0.25, 0.125),
		"quatd":        scene.Quatd(0.5, 0.1, 0.2, 0.3),
		"matrix2d":     scene.Matrix2d([4]float64{1, 2, 3, 4}),
		"matrix3d":     scene.Matrix3d([9]float64{2, 0, 0, 0, 2, 0, 0, 0, 2}),
		"identity":     scene.Identity4d(),
		"matrix4d":     scene.Matrix4d([16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0.5, 1.5, -2, 1}),
		"dictionary": scene.Dictionary(
			scene.DictEntry{Key: "a", Value: scene.Int(1)},
			scene.DictEntry{Key: "b", Value: scene.Vec3d(0.1, 0.2, 0.3)},
			scene.DictEntry{Key: "nested", Value: scene.Dictionary(
				scene.DictEntry{Key: "s", Value: scene.String("x")},
				scene.DictEntry{Key: "arr", Value: scene.FloatArray([]float32{1, 2})},
			)},
		),
		"boolArray":    scene.BoolArray([]bool{true, false, true}),
		"intArray":     scene.IntArray([]int32{3, 2, 1}),
		"bigIntArray":  scene.IntArray(big),
		"int64Array":   scene.Int64Array(big64),
		"uintArray":    must(scene.FromInts(scene.TypeUInt, true, bigU)),
		"floatArray":   scene.FloatArray([]float32{0.1, 0.2}),
		"doubleArray":  scene.DoubleArray([]float64{0.1, 0.2}),
		"vec2fArray":   scene.Vec2fArray([][2]float32{{0, 1}, {1, 0}}),
		"vec3fArray":   scene.Vec3fArray([][3]float32{{0, 1, 2}, {3, 4, 5}}),
		"vec4fArray":   scene.Vec4fArray([][4]float32{{0, 1, 2, 3}}),
		"quatfArray":   must(scene.FromFloats(scene.TypeQuatf, true, []float64{1, 0, 0, 0, 0, 1, 0, 0})),
		"matrixArray":  scene.Matrix4dArray([][16]float64{{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}}),
		"tokenArray":   scene.TokenArray("a", "b", "a"),
		"stringArray":  scene.StringArray("x", "y"),
		"assetArray":   scene.AssetArray("a.png"),
		"emptyArray":   scene.IntArray(nil),
		"emptyTokens":  scene.TokenArray(),
	}
}

func TestWriter_valuesRoundTrip(t *testing.T) {
	for _, version := range []Version{DefaultVersion, {0, 7, 0}} {
		t.Run(version.String(), func(t *testing.T) {
			values := allValues(t)
			doc := scene.New()
			prim, err := doc.AddPrim(scene.NoPrim, "values", "")
			require.NoError(t, err)
			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				_, err := doc.AddAttribute(prim, name, "", values[name])
				require.NoError(t, err, name)
			}

			data := encode(t, doc, WithVersion(version))
			require.Equal(t, []byte{version.Major, version.Minor, version.Patch}, data[8:11])
			got, err := Decode(data, nil)
			require.NoError(t, err)
			p := got.Roots()[0]
			for _, name := range names {
				a := got.Attr(got.Property(p, name))
				require.NotNil(t, a, name)
				require.True(t, values[name].Equal(a.Value), "%s: want %v got %v", name, values[name], a.Value)
				require.Equal(t, values[name].TypeName(), a.TypeName)
			}
		})
	}
}

func TestWriter_compressedArrays(t *testing.T) {
	big := make([]int32, 64)
	for i := range big {
		big[i] = int32(i)
	}
	doc := scene.New()
	p, _ := doc.AddPrim(scene.NoPrim, "p", "")
	_, err := doc.AddAttribute(p, "big", "", scene.IntArray(big))
	require.NoError(t, err)
	_, err = doc.AddAttribute(p, "small", "", scene.IntArray(big[:4]))
	require.NoError(t, err)

	reps := defaultReps(t, reader(t, encode(t, doc)))
	require.True(t, reps["big"].IsCompressed())
	require.False(t, reps["small"].IsCompressed())

	reps = defaultReps(t, reader(t, encode(t, doc, WithMinCompressedArraySize(0))))
	require.False(t, reps["big"].IsCompressed())
}

// defaultReps maps property names to the reps of their default fields.
func defaultReps(t *testing.T, r *Reader) map[string]Rep {
	t.Helper()
	out := make(map[string]Rep)
	for _, s := range r.specs {
		if s.typ != SpecAttribute {
			continue
		}
		set, err := r.fieldSet(s.fset)
		require.NoError(t, err)
		for _, f := range set {
			if r.tokens[r.fields[f].token] == fieldDefault {
				out[r.paths[s.path].name] = r.fields[f].rep
			}
		}
	}
	return out
}

func TestWriter_dedup(t *testing.T) {
	points := make([][3]float32, 500)
	for i := range points {
		points[i] = [3]float32{float32(i), 0.5, 0.25}
	}
	build := func(shared bool) *scene.Document {
		doc := scene.New()
		p, _ := doc.AddPrim(scene.NoPrim, "p", "")
		for _, name := range []string{"a", "b"} {
			pts := points
			if !shared && name == "b" {
				pts = append([][3]float32(nil), points...)
				pts[0][0] = -1
			}
			_, err := doc.AddAttribute(p, name, "", scene.Vec3fArray(pts))
			require.NoError(t, err)
		}
		return doc
	}

	shared := encode(t, build(true))
	distinct := encode(t, build(false))
	require.GreaterOrEqual(t, len(distinct)-len(shared), 500*12)

	reps := defaultReps(t, reader(t, shared))
	require.Equal(t, reps["a"], reps["b"])
}

func TestWriter_timeSamples(t *testing.T) {
	doc := scene.New()
	p, _ := doc.AddPrim(scene.NoPrim, "anim", "Xform")
	a, err := doc.AddAttribute(p, "xformOp:transform", "matrix4d", scene.Value{})
	require.NoError(t, err)
	b, err := doc.AddAttribute(p, "visibility", "token", scene.Token("inherited"))
	require.NoError(t, err)
	for f := 1; f <= 24; f++ {
		m := [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, float64(f) * 0.1, 0, 0, 1}
		require.NoError(t, doc.SetTimeSample(a, float64(f), scene.Matrix4d(m)))
		require.NoError(t, doc.SetTimeSample(b, float64(f), scene.Token("inherited")))
	}

	data := encode(t, doc)
	r := reader(t, data)

	// both tables reference one shared times vector
	var timesReps []Rep
	for _, f := range r.fields {
		if r.tokens[f.token] == fieldTimeSamples {
			timesRep, _, err := r.repAt(int64(f.rep.Payload()))
			require.NoError(t, err)
			timesReps = append(timesReps, timesRep)
		}
	}
	require.Len(t, timesReps, 2)
	require.Equal(t, timesReps[0], timesReps[1])

	got, err := r.Document()
	require.NoError(t, err)
	ga := got.Attr(got.Property(got.Roots()[0], "xformOp:transform"))
	require.False(t, ga.HasDefault())
	require.Len(t, ga.TimeSamples(), 24)
	for i, s := range ga.TimeSamples() {
		require.Equal(t, float64(i+1), s.Time)
		require.True(t, s.Value.Equal(doc.Attr(a).TimeSamples()[i].Value))
	}
	gb := got.Attr(got.Property(got.Roots()[0], "visibility"))
	require.True(t, gb.HasDefault())
	require.Len(t, gb.TimeSamples(), 24)
}

func TestWriter_targets(t *testing.T) {
	doc := scene.New()
	root, _ := doc.AddPrim(scene.NoPrim, "root", "Xform")
	mesh, _ := doc.AddPrim(root, "mesh", "Mesh")
	mat, _ := doc.AddPrim(root, "mat", "Material")
	shader, _ := doc.AddPrim(mat, "pbr", "Shader")
	src, err := doc.AddAttribute(shader, "outputs:surface", "token", scene.Value{})
	require.NoError(t, err)
	out, err := doc.AddAttribute(mat, "outputs:surface", "token", scene.Value{})
	require.NoError(t, err)
	require.NoError(t, doc.Connect(out, doc.RefOf(src)))
	rel, err := doc.AddRelationship(mesh, "material:binding", scene.PrimRef(mat))
	require.NoError(t, err)
	doc.Attr(rel).Custom = false
	_, err = doc.AddRelationship(mesh, "proxyPrim")
	require.NoError(t, err)

	got, err := Decode(encode(t, doc), nil)
	require.NoError(t, err)

	gr, ok := got.Resolve("/root/mesh.material:binding")
	require.True(t, ok)
	binding := got.Attr(gr.Attr)
	require.Equal(t, scene.KindRelationship, binding.Kind)
	require.Len(t, binding.Targets(), 1)
	require.Equal(t, "/root/mat", got.RefPath(binding.Targets()[0]))

	gr, ok = got.Resolve("/root/mat.outputs:surface")
	require.True(t, ok)
	surface := got.Attr(gr.Attr)
	require.Equal(t, scene.KindAttribute, surface.Kind)
	require.Len(t, surface.Targets(), 1)
	require.Equal(t, "/root/mat/pbr.outputs:surface", got.RefPath(surface.Targets()[0]))

	gr, ok = got.Resolve("/root/mesh.proxyPrim")
	require.True(t, ok)
	require.Empty(t, got.Attr(gr.Attr).Targets())
}

func TestWriter_qualifiersAndMetadata(t *testing.T) {
	doc := scene.New()
	doc.Metadata.Set("upAxis", scene.Token("Y"))
	doc.Metadata.Set("metersPerUnit", scene.Double(0.01))
	doc.Metadata.Set("customLayerData", scene.Dictionary(scene.DictEntry{Key: "creator", Value: scene.String("usdzc")}))

	p, _ := doc.AddPrim(scene.NoPrim, "cls", "Material")
	doc.Prim(p).Specifier = scene.SpecifierClass
	doc.Prim(p).Metadata.Set("kind", scene.Token("component"))
	id, err := doc.AddAttribute(p, "subdivisionScheme", "token", scene.Token("none"))
	require.NoError(t, err)
	a := doc.Attr(id)
	a.Uniform = true
	a.Custom = true
	a.Metadata.Set("interpolation", scene.Token("faceVarying"))

	got, err := Decode(encode(t, doc), nil)
	require.NoError(t, err)

	require.Equal(t, 3, got.Metadata.Len())
	up, ok := got.Metadata.Get("upAxis")
	require.True(t, ok)
	require.Equal(t, "Y", up.Str())
	mpu, _ := got.Metadata.Get("metersPerUnit")
	require.Equal(t, 0.01, mpu.Float())
	cld, _ := got.Metadata.Get("customLayerData")
	creator, ok := cld.Lookup("creator")
	require.True(t, ok)
	require.Equal(t, "usdzc", creator.Str())

	gp := got.Prim(got.Roots()[0])
	require.Equal(t, scene.SpecifierClass, gp.Specifier)
	kind, ok := gp.Metadata.Get("kind")
	require.True(t, ok)
	require.Equal(t, "component", kind.Str())

	ga := got.Attr(gp.Properties()[0])
	require.True(t, ga.Uniform)
	require.True(t, ga.Custom)
	interp, ok := ga.Metadata.Get("interpolation")
	require.True(t, ok)
	require.Equal(t, "faceVarying", interp.Str())
}

func TestWriter_errors(t *testing.T) {
	doc := scene.New()
	p, _ := doc.AddPrim(scene.NoPrim, "p", "")
	half, err := scene.FromFloats(scene.TypeHalf, false, []float64{1})
	require.NoError(t, err)
	_, err = doc.AddAttribute(p, "h", "", half)
	require.NoError(t, err)
	_, err = NewWriter(nil).Encode(doc)
	require.ErrorIs(t, err, ErrUnsupportedType)

	doc = scene.New()
	p, _ = doc.AddPrim(scene.NoPrim, "p", "")
	doc.Prim(p).Metadata.Set(fieldDefault, scene.Int(1))
	_, err = NewWriter(nil).Encode(doc)
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = NewWriter(nil, WithVersion(Version{0, 3, 0})).Encode(scene.New())
	require.Error(t, err)
}

func TestWriter_wideIntegers(t *testing.T) {
	doc := scene.New()
	p, _ := doc.AddPrim(scene.NoPrim, "p", "")
	scalar, err := scene.Infer(1 << 40)
	require.NoError(t, err)
	array, err := scene.Infer([]int{1, 1 << 40})
	require.NoError(t, err)
	_, err = doc.AddAttribute(p, "scalar", "int64", scalar)
	require.NoError(t, err)
	_, err = doc.AddAttribute(p, "array", "int64[]", array)
	require.NoError(t, err)

	got, err := Decode(encode(t, doc), nil)
	require.NoError(t, err)
	for name, want := range map[string]scene.Value{"scalar": scalar, "array": array} {
		ref, ok := got.Resolve("/p." + name)
		require.True(t, ok, name)
		require.True(t, want.Equal(got.Attr(ref.Attr).Value), name)
	}

	err = checkInts(scene.TypeInt, []int64{1, 1 << 40})
	require.ErrorIs(t, err, ErrUnsupportedType)
	require.ErrorIs(t, err, scene.ErrUnsupportedValue)
	require.ErrorIs(t, checkInts(scene.TypeUInt, []int64{-1}), ErrUnsupportedType)
	require.ErrorIs(t, checkInts(scene.TypeVec3i, []int64{0, 0, 1 << 31}), ErrUnsupportedType)
	require.NoError(t, checkInts(scene.TypeInt64, []int64{1 << 40}))
}

func TestWriter_writeFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "obj.usdc")
	require.NoError(t, NewWriter(nil).WriteFile(name, objDocument(t)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	doc, err := ReadFile(name, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, doc.PrimCount())

	var buf bytes.Buffer
	n, err := NewWriter(nil).WriteTo(&buf, objDocument(t))
	require.NoError(t, err)
	require.EqualValues(t, buf.Len(), n)
	disk, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, disk, buf.Bytes())
}
