// Package geom builds the prims a usdz exporter emits: transforms, meshes,
// preview surface materials and skinning primvars.
package geom

import (
	"errors"
	"fmt"
	"math"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

const (
	transformOp    = "xformOp:transform"
	transformOrder = "xformOpOrder"
)

var ErrInvalidMesh = errors.New("geom: invalid mesh")

// Stage holds document wide metadata. Zero fields are not written.
type Stage struct {
	UpAxis             string
	MetersPerUnit      float64
	DefaultPrim        string
	StartTimeCode      float64
	EndTimeCode        float64
	TimeCodesPerSecond float64
}

// SetStage writes s into the document metadata.
func SetStage(doc *scene.Document, s Stage) {
	if s.UpAxis != "" {
		doc.Metadata.Set("upAxis", scene.Token(s.UpAxis))
	}
	if s.MetersPerUnit != 0 {
		doc.Metadata.Set("metersPerUnit", scene.Double(s.MetersPerUnit))
	}
	if s.DefaultPrim != "" {
		doc.Metadata.Set("defaultPrim", scene.Token(s.DefaultPrim))
	}
	if s.TimeCodesPerSecond != 0 {
		doc.Metadata.Set("startTimeCode", scene.Double(s.StartTimeCode))
		doc.Metadata.Set("endTimeCode", scene.Double(s.EndTimeCode))
		doc.Metadata.Set("timeCodesPerSecond", scene.Double(s.TimeCodesPerSecond))
	}
}

// AddXform adds an Xform prim positioned by the row major matrix m.
func AddXform(doc *scene.Document, parent scene.PrimID, name string, m [16]float64) (scene.PrimID, error) {
	id, err := doc.AddPrim(parent, name, "Xform")
	if err != nil {
		return scene.NoPrim, err
	}
	op, err := doc.AddAttribute(id, transformOp, "matrix4d", scene.Matrix4d(m))
	if err != nil {
		return scene.NoPrim, err
	}
	doc.Attr(op).Custom = true
	order, err := doc.AddAttribute(id, transformOrder, "token[]", scene.TokenArray(transformOp))
	if err != nil {
		return scene.NoPrim, err
	}
	doc.Attr(order).Uniform = true
	return id, nil
}

// TransformSample is the transform of an Xform at one time code.
type TransformSample struct {
	Time   float64
	Matrix [16]float64
}

// AnimateTransform records samples on the transform op of xform.
func AnimateTransform(doc *scene.Document, xform scene.PrimID, samples []TransformSample) error {
	op := doc.Property(xform, transformOp)
	if op == scene.NoAttr {
		return fmt.Errorf("%w: %s has no %s", scene.ErrInvalidHandle, doc.PrimPath(xform), transformOp)
	}
	for _, s := range samples {
		if err := doc.SetTimeSample(op, s.Time, scene.Matrix4d(s.Matrix)); err != nil {
			return err
		}
	}
	return nil
}

// Translation returns the row major matrix translating by (x, y, z).
func Translation(x, y, z float64) [16]float64 {
	return [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, x, y, z, 1}
}

// Primvar is an indexed face varying primvar.
type Primvar struct {
	Name    string
	Values  [][2]float32
	Indices []int32
}

// Mesh is a polygon mesh. Normals and UV sets are face varying and
// indexed by face vertex.
type Mesh struct {
	Points            [][3]float32
	FaceVertexCounts  []int32
	FaceVertexIndices []int32
	Normals           [][3]float32
	NormalIndices     []int32
	UVs               []Primvar
}

func (m *Mesh) validate() error {
	total := 0
	for i, c := range m.FaceVertexCounts {
		if c < 3 {
			return fmt.Errorf("%w: face %d has %d vertices", ErrInvalidMesh, i, c)
		}
		total += int(c)
	}
	if total != len(m.FaceVertexIndices) {
		return fmt.Errorf("%w: %d face vertices, %d indices", ErrInvalidMesh, total, len(m.FaceVertexIndices))
	}
	if err := checkIndices("faceVertexIndices", m.FaceVertexIndices, len(m.Points)); err != nil {
		return err
	}
	if len(m.Normals) > 0 {
		if len(m.NormalIndices) != total {
			return fmt.Errorf("%w: %d normal indices for %d face vertices", ErrInvalidMesh, len(m.NormalIndices), total)
		}
		if err := checkIndices("normal indices", m.NormalIndices, len(m.Normals)); err != nil {
			return err
		}
	}
	for _, uv := range m.UVs {
		if len(uv.Indices) != total {
			return fmt.Errorf("%w: %d %s indices for %d face vertices", ErrInvalidMesh, len(uv.Indices), uv.Name, total)
		}
		if err := checkIndices(uv.Name+" indices", uv.Indices, len(uv.Values)); err != nil {
			return err
		}
	}
	return nil
}

func checkIndices(what string, indices []int32, n int) error {
	for i, x := range indices {
		if x < 0 || int(x) >= n {
			return fmt.Errorf("%w: %s[%d] = %d out of %d", ErrInvalidMesh, what, i, x, n)
		}
	}
	return nil
}

// Extent returns the bounding box corners of points.
func Extent(points [][3]float32) [2][3]float32 {
	if len(points) == 0 {
		return [2][3]float32{}
	}
	lo := [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi := [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, p := range points {
		for i := range p {
			lo[i] = min(lo[i], p[i])
			hi[i] = max(hi[i], p[i])
		}
	}
	return [2][3]float32{lo, hi}
}

// AddMesh adds a Mesh prim holding m.
func AddMesh(doc *scene.Document, parent scene.PrimID, name string, m Mesh) (scene.PrimID, error) {
	if err := m.validate(); err != nil {
		return scene.NoPrim, err
	}
	id, err := doc.AddPrim(parent, name, "Mesh")
	if err != nil {
		return scene.NoPrim, err
	}
	ext := Extent(m.Points)

	attrs := []struct {
		name, typ string
		v         scene.Value
	}{
		{"extent", "float3[]", scene.Vec3fArray(ext[:])},
		{"faceVertexCounts", "int[]", scene.IntArray(m.FaceVertexCounts)},
		{"faceVertexIndices", "int[]", scene.IntArray(m.FaceVertexIndices)},
		{"points", "point3f[]", scene.Vec3fArray(m.Points)},
	}
	for _, a := range attrs {
		if _, err := doc.AddAttribute(id, a.name, a.typ, a.v); err != nil {
			return scene.NoPrim, err
		}
	}
	if len(m.Normals) > 0 {
		if err := addIndexed(doc, id, "primvars:normals", "normal3f[]", scene.Vec3fArray(m.Normals), m.NormalIndices); err != nil {
			return scene.NoPrim, err
		}
	}
	for _, uv := range m.UVs {
		if err := addIndexed(doc, id, "primvars:"+uv.Name, "texCoord2f[]", scene.Vec2fArray(uv.Values), uv.Indices); err != nil {
			return scene.NoPrim, err
		}
	}
	scheme, err := doc.AddAttribute(id, "subdivisionScheme", "token", scene.Token("none"))
	if err != nil {
		return scene.NoPrim, err
	}
	doc.Attr(scheme).Uniform = true
	return id, nil
}

func addIndexed(doc *scene.Document, prim scene.PrimID, name, typ string, values scene.Value, indices []int32) error {
	if _, err := doc.AddAttribute(prim, name+":indices", "int[]", scene.IntArray(indices)); err != nil {
		return err
	}
	id, err := doc.AddAttribute(prim, name, typ, values)
	if err != nil {
		return err
	}
	doc.Attr(id).Metadata.Set("interpolation", scene.Token("faceVarying"))
	return nil
}

// BindMaterial binds material to mesh.
func BindMaterial(doc *scene.Document, mesh, material scene.PrimID) error {
	if m := doc.Prim(material); m == nil || m.TypeName != "Material" {
		return fmt.Errorf("%w: %d is not a material", scene.ErrInvalidHandle, material)
	}
	_, err := doc.AddRelationship(mesh, "material:binding", scene.PrimRef(material))
	return err
}
