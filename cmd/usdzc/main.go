package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/S0me0neR0man/usdcrate/internal/config"
	"github.com/S0me0neR0man/usdcrate/internal/usdz"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

type metadata struct {
	ctx    context.Context
	config config.Config
	log    *zap.Logger
	loader *usdz.Loader
	w      io.Writer
}

func getMetadata(c *cli.Context) *metadata {
	return c.App.Metadata["config"].(*metadata)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newApp(ctx context.Context) *cli.App {
	// -v is --verbose
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}

	app := cli.NewApp()
	app.Name = "usdzc"
	app.Usage = "write and inspect USD crate and usdz files"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = config.Flags()
	app.Commands = []cli.Command{
		{
			Name:      "write-sample",
			Usage:     "write a textured cube",
			ArgsUsage: "\n   (* = required)",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "*output `FILE`, .usdz or .usdc",
				},
				cli.StringFlag{
					Name:  "texture, t",
					Usage: " diffuse texture image `FILE`",
				},
			},
			Action: runWriteSample,
		},
		{
			Name:      "pack",
			Usage:     "archive a crate file and its assets",
			ArgsUsage: "layer.usdc [asset...]",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "*output `FILE`",
				},
			},
			Action: runPack,
		},
		{
			Name:      "dump",
			Usage:     "print the prim tree of a crate or usdz file",
			ArgsUsage: "file",
			Action:    runDump,
		},
		{
			Name:      "unpack",
			Usage:     "extract the entries of a usdz file",
			ArgsUsage: "archive.usdz directory",
			Action:    runUnpack,
		},
		{
			Name:      "verify",
			Usage:     "check that files survive a decode and encode round trip",
			ArgsUsage: "file...",
			Action:    runVerify,
		},
	}

	app.Before = func(c *cli.Context) error {
		cfg, err := config.Load(c)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Verbose)
		if err != nil {
			return err
		}
		c.App.Metadata["config"] = &metadata{
			ctx:    ctx,
			config: cfg,
			log:    logger,
			loader: usdz.NewLoader(cfg.MaxAssetSize, logger),
			w:      c.App.Writer,
		}
		return nil
	}

	app.After = func(c *cli.Context) error {
		if m, ok := c.App.Metadata["config"].(*metadata); ok {
			_ = m.log.Sync()
		}
		return nil
	}
	return app
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	app := newApp(ctx)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
