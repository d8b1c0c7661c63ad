package geom

import (
	"fmt"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// Texture feeds a surface input from an image file through a UV set.
type Texture struct {
	Input string // surface input name, e.g. "diffuseColor"
	File  string // asset path inside the archive
	UVSet string
}

// Material is a UsdPreviewSurface material.
type Material struct {
	DiffuseColor       [3]float32
	SpecularColor      [3]float32
	EmissiveColor      [3]float32
	Clearcoat          float32
	ClearcoatRoughness float32
	IOR                float32
	Metallic           float32
	Occlusion          float32
	Roughness          float32
	Opacity            float32
	Textures           []Texture
}

// DefaultMaterial returns a plain grey dielectric.
func DefaultMaterial() Material {
	return Material{
		DiffuseColor:  [3]float32{0.8, 0.8, 0.8},
		SpecularColor: [3]float32{1, 1, 1},
		IOR:           1.5,
		Roughness:     0.5,
		Opacity:       1,
	}
}

type surfaceInput struct {
	name  string
	typ   string
	value scene.Value
	// texture default, as float4
	fill [4]float32
}

func color(c [3]float32) (scene.Value, [4]float32) {
	return scene.Vec3f(c[0], c[1], c[2]), [4]float32{c[0], c[1], c[2], 1}
}

func scalar(f float32) (scene.Value, [4]float32) {
	return scene.Float(f), [4]float32{f, f, f, 1}
}

func (m *Material) inputs() []surfaceInput {
	in := func(name, typ string, v scene.Value, fill [4]float32) surfaceInput {
		return surfaceInput{name: name, typ: typ, value: v, fill: fill}
	}
	workflow := int32(1)
	if m.Metallic > 0 {
		workflow = 0
	}
	var out []surfaceInput
	v, f := color(m.DiffuseColor)
	out = append(out, in("diffuseColor", "color3f", v, f))
	v, f = color(m.SpecularColor)
	out = append(out, in("specularColor", "color3f", v, f))
	v, f = color(m.EmissiveColor)
	out = append(out, in("emissiveColor", "color3f", v, f))
	for _, s := range []struct {
		name string
		f    float32
	}{
		{"clearcoat", m.Clearcoat},
		{"clearcoatRoughness", m.ClearcoatRoughness},
		{"displacement", 0},
		{"ior", m.IOR},
		{"metallic", m.Metallic},
	} {
		v, f = scalar(s.f)
		out = append(out, in(s.name, "float", v, f))
	}
	out = append(out, in("normal", "normal3f", scene.Vec3f(0, 0, 1), [4]float32{0, 0, 1, 1}))
	for _, s := range []struct {
		name string
		f    float32
	}{
		{"occlusion", m.Occlusion},
		{"roughness", m.Roughness},
		{"opacity", m.Opacity},
	} {
		v, f = scalar(s.f)
		out = append(out, in(s.name, "float", v, f))
	}
	out = append(out, in("useSpecularWorkflow", "int", scene.Int(workflow), [4]float32{}))
	return out
}

func addShader(doc *scene.Document, parent scene.PrimID, name, id string) (scene.PrimID, error) {
	p, err := doc.AddPrim(parent, name, "Shader")
	if err != nil {
		return scene.NoPrim, err
	}
	a, err := doc.AddAttribute(p, "info:id", "token", scene.Token(id))
	if err != nil {
		return scene.NoPrim, err
	}
	doc.Attr(a).Uniform = true
	return p, nil
}

// input adds an attribute with an optional value, connected to src when
// src is a valid attribute.
func input(doc *scene.Document, prim scene.PrimID, name, typ string, v scene.Value, src scene.AttrID) (scene.AttrID, error) {
	a, err := doc.AddAttribute(prim, name, typ, v)
	if err != nil {
		return scene.NoAttr, err
	}
	if src != scene.NoAttr {
		if err := doc.Connect(a, doc.RefOf(src)); err != nil {
			return scene.NoAttr, err
		}
	}
	return a, nil
}

// AddMaterial adds a Material prim with a UsdPreviewSurface shader named
// pbr, one primvar reader per UV set and one texture shader per texture.
func AddMaterial(doc *scene.Document, parent scene.PrimID, name string, m Material) (scene.PrimID, error) {
	inputs := m.inputs()
	byName := make(map[string]surfaceInput, len(inputs))
	for _, in := range inputs {
		byName[in.name] = in
	}
	var uvSets []string
	seen := make(map[string]bool)
	for _, t := range m.Textures {
		in, ok := byName[t.Input]
		if !ok || in.typ == "int" {
			return scene.NoPrim, fmt.Errorf("%w: texture input %q", scene.ErrInvalidName, t.Input)
		}
		if !seen[t.UVSet] {
			seen[t.UVSet] = true
			uvSets = append(uvSets, t.UVSet)
		}
	}

	mat, err := doc.AddPrim(parent, name, "Material")
	if err != nil {
		return scene.NoPrim, err
	}
	frames := make(map[string]scene.AttrID, len(uvSets))
	for _, uv := range uvSets {
		if frames[uv], err = input(doc, mat, "inputs:frame:stPrimvar_"+uv, "token", scene.Token(uv), scene.NoAttr); err != nil {
			return scene.NoPrim, err
		}
	}

	pbr, err := addShader(doc, mat, "pbr", "UsdPreviewSurface")
	if err != nil {
		return scene.NoPrim, err
	}

	readers := make(map[string]scene.AttrID, len(uvSets))
	for _, uv := range uvSets {
		r, err := addShader(doc, mat, "primvar_"+uv, "UsdPrimvarReader_float2")
		if err != nil {
			return scene.NoPrim, err
		}
		if _, err := input(doc, r, "inputs:default", "float2", scene.Vec2f(0, 0), scene.NoAttr); err != nil {
			return scene.NoPrim, err
		}
		if _, err := input(doc, r, "inputs:varname", "token", scene.Value{}, frames[uv]); err != nil {
			return scene.NoPrim, err
		}
		if readers[uv], err = input(doc, r, "outputs:result", "float2", scene.Value{}, scene.NoAttr); err != nil {
			return scene.NoPrim, err
		}
	}

	maps := make(map[string]scene.AttrID, len(m.Textures))
	for _, t := range m.Textures {
		in := byName[t.Input]
		tex, err := addShader(doc, mat, t.Input+"_map", "UsdUVTexture")
		if err != nil {
			return scene.NoPrim, err
		}
		fill := in.fill
		steps := []struct {
			name, typ string
			v         scene.Value
			src       scene.AttrID
		}{
			{"inputs:default", "float4", scene.Vec4f(fill[0], fill[1], fill[2], fill[3]), scene.NoAttr},
			{"inputs:file", "asset", scene.Asset(t.File), scene.NoAttr},
			{"inputs:st", "float2", scene.Value{}, readers[t.UVSet]},
			{"inputs:wrapS", "token", scene.Token("repeat"), scene.NoAttr},
			{"inputs:wrapT", "token", scene.Token("repeat"), scene.NoAttr},
		}
		for _, s := range steps {
			if _, err := input(doc, tex, s.name, s.typ, s.v, s.src); err != nil {
				return scene.NoPrim, err
			}
		}
		out := "outputs:rgb"
		typ := "float3"
		if in.typ == "float" {
			out, typ = "outputs:r", "float"
		}
		if maps[t.Input], err = input(doc, tex, out, typ, scene.Value{}, scene.NoAttr); err != nil {
			return scene.NoPrim, err
		}
	}

	for _, in := range inputs {
		v := in.value
		src, textured := maps[in.name]
		if textured {
			v = scene.Value{}
		} else {
			src = scene.NoAttr
		}
		if _, err := input(doc, pbr, "inputs:"+in.name, in.typ, v, src); err != nil {
			return scene.NoPrim, err
		}
	}
	displacement, err := input(doc, pbr, "outputs:displacement", "token", scene.Value{}, scene.NoAttr)
	if err != nil {
		return scene.NoPrim, err
	}
	surface, err := input(doc, pbr, "outputs:surface", "token", scene.Value{}, scene.NoAttr)
	if err != nil {
		return scene.NoPrim, err
	}

	if _, err := input(doc, mat, "outputs:displacement", "token", scene.Value{}, displacement); err != nil {
		return scene.NoPrim, err
	}
	if _, err := input(doc, mat, "outputs:surface", "token", scene.Value{}, surface); err != nil {
		return scene.NoPrim, err
	}
	return mat, nil
}
