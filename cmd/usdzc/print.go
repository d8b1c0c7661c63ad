package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/S0me0neR0man/usdcrate/internal/scene"
)

// arrays longer than this print as a count
const maxPrintedElements = 8

func printDocument(w io.Writer, doc *scene.Document) error {
	for _, e := range doc.Metadata.Entries() {
		if _, err := fmt.Fprintf(w, "%s = %s\n", e.Key, formatValue(e.Value)); err != nil {
			return err
		}
	}
	return doc.Walk(func(id scene.PrimID, depth int) error {
		p := doc.Prim(id)
		indent := strings.Repeat("    ", depth)

		line := p.Specifier.String()
		if p.TypeName != "" {
			line += " " + p.TypeName
		}
		if _, err := fmt.Fprintf(w, "%s%s %q\n", indent, line, p.Name); err != nil {
			return err
		}
		for _, aid := range p.Properties() {
			if _, err := fmt.Fprintf(w, "%s    %s\n", indent, formatProperty(doc, doc.Attr(aid))); err != nil {
				return err
			}
		}
		return nil
	})
}

func formatProperty(doc *scene.Document, a *scene.Attribute) string {
	var b strings.Builder
	if a.Custom {
		b.WriteString("custom ")
	}
	if a.Uniform {
		b.WriteString("uniform ")
	}
	if a.Kind == scene.KindRelationship {
		b.WriteString("rel ")
		b.WriteString(a.Name)
		if t := a.Targets(); len(t) > 0 {
			b.WriteString(" = ")
			b.WriteString(formatTargets(doc, t))
		}
		return b.String()
	}

	b.WriteString(a.TypeName)
	b.WriteString(" ")
	b.WriteString(a.Name)
	switch {
	case len(a.Targets()) > 0:
		b.WriteString(".connect = ")
		b.WriteString(formatTargets(doc, a.Targets()))
	case a.HasDefault():
		b.WriteString(" = ")
		b.WriteString(formatValue(a.Value))
	}
	if n := len(a.TimeSamples()); n > 0 {
		fmt.Fprintf(&b, " (%d time samples)", n)
	}
	return b.String()
}

func formatTargets(doc *scene.Document, refs []scene.Ref) string {
	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = "<" + doc.RefPath(r) + ">"
	}
	if len(paths) == 1 {
		return paths[0]
	}
	return "[" + strings.Join(paths, ", ") + "]"
}

func formatValue(v scene.Value) string {
	if (v.IsArray() || v.Type() == scene.TypeDoubleVector) && v.Len() > maxPrintedElements {
		return fmt.Sprintf("%s (%d elements)", v.TypeName(), v.Len())
	}
	return v.String()
}
