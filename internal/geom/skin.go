package geom

import (
	"fmt"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// Skin binds mesh vertices to skeleton joints. Each vertex has
// ElementSize influences.
type Skin struct {
	Joints      []string
	ElementSize int
	Indices     []int32
	Weights     []float32
}

// AddSkinning adds skeleton joint names and per vertex joint influences to
// mesh.
func AddSkinning(doc *scene.Document, mesh scene.PrimID, s Skin) error {
	points := doc.Attr(doc.Property(mesh, "points"))
	if points == nil {
		return fmt.Errorf("%w: %s has no points", ErrInvalidMesh, doc.PrimPath(mesh))
	}
	if s.ElementSize < 1 {
		return fmt.Errorf("%w: element size %d", ErrInvalidMesh, s.ElementSize)
	}
	n := points.Value.Len() * s.ElementSize
	if len(s.Indices) != n || len(s.Weights) != n {
		return fmt.Errorf("%w: %d joint indices and %d weights for %d influences", ErrInvalidMesh, len(s.Indices), len(s.Weights), n)
	}
	if err := checkIndices("joint indices", s.Indices, len(s.Joints)); err != nil {
		return err
	}

	joints, err := doc.AddAttribute(mesh, "skel:joints", "token[]", scene.TokenArray(s.Joints...))
	if err != nil {
		return err
	}
	doc.Attr(joints).Uniform = true
	for _, p := range []struct {
		name, typ string
		v         scene.Value
	}{
		{"primvars:skel:jointIndices", "int[]", scene.IntArray(s.Indices)},
		{"primvars:skel:jointWeights", "float[]", scene.FloatArray(s.Weights)},
	} {
		id, err := doc.AddAttribute(mesh, p.name, p.typ, p.v)
		if err != nil {
			return err
		}
		a := doc.Attr(id)
		a.Metadata.Set("interpolation", scene.Token("vertex"))
		a.Metadata.Set("elementSize", scene.Int(int32(s.ElementSize)))
	}
	return nil
}
