package geom

import "github.com/S0me0neR0man/usdcrate/internal/scene"

// Cube returns an axis aligned cube of edge size centred on the origin,
// with per face normals and a UV set named st.
func Cube(size float32) Mesh {
	h := size / 2
	m := Mesh{
		Points: [][3]float32{
			{-h, -h, -h}, {h, -h, -h}, {h, h, -h}, {-h, h, -h},
			{-h, -h, h}, {h, -h, h}, {h, h, h}, {-h, h, h},
		},
		Normals: [][3]float32{
			{0, 0, -1}, {0, 0, 1}, {0, -1, 0}, {1, 0, 0}, {0, 1, 0}, {-1, 0, 0},
		},
	}
	faces := [6][4]int32{
		{0, 3, 2, 1}, {4, 5, 6, 7}, {0, 1, 5, 4},
		{1, 2, 6, 5}, {2, 3, 7, 6}, {3, 0, 4, 7},
	}
	st := Primvar{Name: "st", Values: [][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}
	for f, face := range faces {
		m.FaceVertexCounts = append(m.FaceVertexCounts, 4)
		m.FaceVertexIndices = append(m.FaceVertexIndices, face[:]...)
		for i := range face {
			m.NormalIndices = append(m.NormalIndices, int32(f))
			st.Indices = append(st.Indices, int32(i))
		}
	}
	m.UVs = []Primvar{st}
	return m
}

// SampleDocument builds a textured cube under an Xform, the layout an
// exporter writes for one mesh object with one material. An empty
// texture leaves the material untextured.
func SampleDocument(texture string) (*scene.Document, error) {
	doc := scene.New()
	SetStage(doc, Stage{UpAxis: "Y", MetersPerUnit: 1, DefaultPrim: "Cube"})

	obj, err := AddXform(doc, scene.NoPrim, "Cube", Translation(0, 0, 0))
	if err != nil {
		return nil, err
	}
	mat := DefaultMaterial()
	if texture != "" {
		mat.Textures = []Texture{{Input: "diffuseColor", File: texture, UVSet: "st"}}
	}
	mesh, err := AddMesh(doc, obj, "Cube_Material", Cube(2))
	if err != nil {
		return nil, err
	}
	material, err := AddMaterial(doc, obj, "Material", mat)
	if err != nil {
		return nil, err
	}
	if err := BindMaterial(doc, mesh, material); err != nil {
		return nil, err
	}
	return doc, nil
}
