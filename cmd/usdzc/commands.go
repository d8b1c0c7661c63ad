package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/S0me0neR0man/usdcrate/internal/crate"
	"github.com/S0me0neR0man/usdcrate/internal/geom"
	"github.com/S0me0neR0man/usdcrate/internal/usdz"
)

const sampleLayer = "scene.usdc"

var (
	errMissingOutput = errors.New("missing --out")
	errArguments     = errors.New("wrong number of arguments")
)

func runWriteSample(c *cli.Context) error {
	m := getMetadata(c)

	out := c.String("out")
	if out == "" {
		return errMissingOutput
	}
	texture := c.String("texture")

	var assets []usdz.Entry
	if texture != "" {
		var err error
		assets, err = m.loader.Load(m.ctx, texture)
		if err != nil {
			return err
		}
		texture = assets[0].Name
	}

	doc, err := geom.SampleDocument(texture)
	if err != nil {
		return err
	}
	opts, err := m.config.WriterOptions()
	if err != nil {
		return err
	}
	w := crate.NewWriter(m.log, opts...)

	if strings.EqualFold(filepath.Ext(out), ".usdc") {
		if len(assets) > 0 {
			m.log.Sugar().Warnw("texture not packed into a crate file", "texture", texture)
		}
		return w.WriteFile(out, doc)
	}

	data, err := w.Encode(doc)
	if err != nil {
		return err
	}
	entries := append([]usdz.Entry{{Name: sampleLayer, Data: data}}, assets...)
	if err := usdz.WriteFile(out, m.config.Alignment, m.log, entries...); err != nil {
		return err
	}
	fmt.Fprintf(m.w, "wrote %s: %d entries\n", out, len(entries))
	return nil
}

func runPack(c *cli.Context) error {
	m := getMetadata(c)

	out := c.String("out")
	if out == "" {
		return errMissingOutput
	}
	if c.NArg() < 1 {
		return errArguments
	}
	layer := c.Args().First()
	if !strings.EqualFold(filepath.Ext(layer), ".usdc") {
		return fmt.Errorf("%s: layer must be a .usdc file", layer)
	}

	entries, err := m.loader.Load(m.ctx, c.Args()...)
	if err != nil {
		return err
	}
	doc, err := crate.Decode(entries[0].Data, m.log)
	if err != nil {
		return fmt.Errorf("%s: %w", layer, err)
	}
	m.log.Sugar().Infow("packing", "layer", layer, "prims", doc.PrimCount(), "assets", len(entries)-1)

	if err := usdz.WriteFile(out, m.config.Alignment, m.log, entries...); err != nil {
		return err
	}
	fmt.Fprintf(m.w, "wrote %s: %d entries\n", out, len(entries))
	return nil
}

func runDump(c *cli.Context) error {
	m := getMetadata(c)

	if c.NArg() != 1 {
		return errArguments
	}
	name := c.Args().First()

	if !strings.EqualFold(filepath.Ext(name), ".usdz") {
		doc, err := crate.ReadFile(name, m.log)
		if err != nil {
			return err
		}
		return printDocument(m.w, doc)
	}

	a, err := usdz.Open(name, m.config.Alignment)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, e := range a.Entries() {
		fmt.Fprintf(m.w, "# %s %d bytes at %d\n", e.Name, e.Size, e.Offset)
	}
	doc, err := a.Document(m.log)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Layer(), err)
	}
	return printDocument(m.w, doc)
}

func runUnpack(c *cli.Context) error {
	m := getMetadata(c)

	if c.NArg() != 2 {
		return errArguments
	}
	name, dir := c.Args().Get(0), c.Args().Get(1)

	a, err := usdz.Open(name, m.config.Alignment)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, e := range a.Entries() {
		if !filepath.IsLocal(filepath.FromSlash(e.Name)) {
			return fmt.Errorf("%s: entry escapes the target directory", e.Name)
		}
		data, err := a.ReadEntry(e.Name)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
		m.log.Sugar().Debugw("extracted", "entry", e.Name, "bytes", len(data))
	}
	fmt.Fprintf(m.w, "extracted %d entries to %s\n", len(a.Entries()), dir)
	return nil
}
