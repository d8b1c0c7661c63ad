package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/S0me0neR0man/usdcrate/internal/crate"
	"github.com/S0me0neR0man/usdcrate/internal/scene"
	"github.com/S0me0neR0man/usdcrate/internal/usdz"
)

const verifyWorkers = 4

var errMismatch = errors.New("round trip mismatch")

// runVerify decodes each file, encodes the document again and checks the
// second decode matches the first.
func runVerify(c *cli.Context) error {
	m := getMetadata(c)

	if c.NArg() == 0 {
		return errArguments
	}
	opts, err := m.config.WriterOptions()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(m.ctx)
	g.SetLimit(verifyWorkers)
	for _, name := range c.Args() {
		name := name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := readDocument(name, m)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			data, err := crate.NewWriter(m.log, opts...).Encode(doc)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			again, err := crate.Decode(data, m.log)
			if err != nil {
				return fmt.Errorf("%s: re-encoded: %w", name, err)
			}
			if err := compareDocuments(doc, again); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			m.log.Sugar().Infow("verified", "file", name, "prims", doc.PrimCount(), "properties", doc.AttrCount())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(m.w, "verified %d files\n", c.NArg())
	return nil
}

func readDocument(name string, m *metadata) (*scene.Document, error) {
	if !strings.EqualFold(filepath.Ext(name), ".usdz") {
		return crate.ReadFile(name, m.log)
	}
	a, err := usdz.Open(name, m.config.Alignment)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Document(m.log)
}

func mismatch(path, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", errMismatch, path, fmt.Sprintf(format, args...))
}

func compareMetadata(path string, a, b *scene.Metadata) error {
	if a.Len() != b.Len() {
		return mismatch(path, "%d metadata fields, want %d", b.Len(), a.Len())
	}
	for _, e := range a.Entries() {
		v, ok := b.Get(e.Key)
		if !ok || !v.Equal(e.Value) {
			return mismatch(path, "metadata %s", e.Key)
		}
	}
	return nil
}

func prims(doc *scene.Document) []scene.PrimID {
	ids := make([]scene.PrimID, 0, doc.PrimCount())
	_ = doc.Walk(func(id scene.PrimID, _ int) error {
		ids = append(ids, id)
		return nil
	})
	return ids
}

func compareDocuments(a, b *scene.Document) error {
	if err := compareMetadata("/", &a.Metadata, &b.Metadata); err != nil {
		return err
	}
	pa, pb := prims(a), prims(b)
	if len(pa) != len(pb) {
		return mismatch("/", "%d prims, want %d", len(pb), len(pa))
	}
	for i := range pa {
		x, y := a.Prim(pa[i]), b.Prim(pb[i])
		path := a.PrimPath(pa[i])
		if p := b.PrimPath(pb[i]); p != path {
			return mismatch(path, "prim at %s", p)
		}
		if x.TypeName != y.TypeName || x.Specifier != y.Specifier {
			return mismatch(path, "%s %s, want %s %s", y.Specifier, y.TypeName, x.Specifier, x.TypeName)
		}
		if err := compareMetadata(path, &x.Metadata, &y.Metadata); err != nil {
			return err
		}
		if len(x.Properties()) != len(y.Properties()) {
			return mismatch(path, "%d properties, want %d", len(y.Properties()), len(x.Properties()))
		}
		for j, id := range x.Properties() {
			if err := compareProperty(a, b, a.Attr(id), b.Attr(y.Properties()[j])); err != nil {
				return err
			}
		}
	}
	return nil
}

func compareProperty(da, db *scene.Document, x, y *scene.Attribute) error {
	path := da.RefPath(da.RefOf(x.ID()))
	switch {
	case x.Name != y.Name:
		return mismatch(path, "property %s", y.Name)
	case x.Kind != y.Kind || x.TypeName != y.TypeName:
		return mismatch(path, "type %s", y.TypeName)
	case x.Uniform != y.Uniform || x.Custom != y.Custom:
		return mismatch(path, "variability or custom flag")
	case !x.Value.Equal(y.Value):
		return mismatch(path, "default %s, want %s", y.Value, x.Value)
	}
	if err := compareMetadata(path, &x.Metadata, &y.Metadata); err != nil {
		return err
	}

	sx, sy := x.TimeSamples(), y.TimeSamples()
	if len(sx) != len(sy) {
		return mismatch(path, "%d time samples, want %d", len(sy), len(sx))
	}
	for i := range sx {
		if sx[i].Time != sy[i].Time || !sx[i].Value.Equal(sy[i].Value) {
			return mismatch(path, "time sample %v", sx[i].Time)
		}
	}

	tx, ty := x.Targets(), y.Targets()
	if len(tx) != len(ty) {
		return mismatch(path, "%d targets, want %d", len(ty), len(tx))
	}
	for i := range tx {
		if da.RefPath(tx[i]) != db.RefPath(ty[i]) {
			return mismatch(path, "target %s, want %s", db.RefPath(ty[i]), da.RefPath(tx[i]))
		}
	}
	return nil
}
