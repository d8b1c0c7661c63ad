package config

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"
	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/S0me0neR0man/usdcrate/internal/crate"
	"github.com/S0me0neR0man/usdcrate/internal/usdz"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Version                string `gluamapper:"version"`
	MinCompressedArraySize int    `gluamapper:"min_compressed_array_size"` // 0 - never compress
	Alignment              int    `gluamapper:"alignment"`
	MaxAssetSize           int64  `gluamapper:"max_asset_size"` // 0 - unlimited
	Verbose                bool   `gluamapper:"verbose"`
}

func Default() Config {
	return Config{
		Version:                crate.DefaultVersion.String(),
		MinCompressedArraySize: crate.DefaultMinCompressedArraySize,
		Alignment:              usdz.DefaultAlignment,
		MaxAssetSize:           64 << 20,
	}
}

// ParseConfigurationFile executes a Lua file and assigns the table it
// returns to config. Keys missing from the table keep their current value.
func ParseConfigurationFile(fileName string, config *Config) error {
	L := lua.NewState()
	defer L.Close()

	L.OpenLibs()

	// arg[0] = config file
	arg := &lua.LTable{}
	arg.Insert(0, lua.LString(fileName))
	L.SetGlobal("arg", arg)

	if err := L.DoFile(fileName); err != nil {
		return err
	}
	tbl, ok := L.Get(L.GetTop()).(*lua.LTable)
	if !ok {
		return fmt.Errorf("%w: %s does not return a table", ErrInvalidConfig, fileName)
	}

	mapper := gluamapper.Mapper{Option: gluamapper.Option{
		NameFunc: func(s string) string { return s },
		TagName:  "gluamapper",
	}}
	if err := mapper.Map(tbl, config); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, fileName, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := crate.ParseVersion(c.Version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.MinCompressedArraySize < 0 {
		return fmt.Errorf("%w: min_compressed_array_size %d", ErrInvalidConfig, c.MinCompressedArraySize)
	}
	if c.Alignment < 1 || c.Alignment > usdz.MaxAlignment {
		return fmt.Errorf("%w: alignment %d not in [1, %d]", ErrInvalidConfig, c.Alignment, usdz.MaxAlignment)
	}
	if c.MaxAssetSize < 0 {
		return fmt.Errorf("%w: max_asset_size %d", ErrInvalidConfig, c.MaxAssetSize)
	}
	return nil
}

// WriterOptions returns the crate writer options c selects.
func (c *Config) WriterOptions() ([]crate.Option, error) {
	v, err := crate.ParseVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return []crate.Option{
		crate.WithVersion(v),
		crate.WithMinCompressedArraySize(c.MinCompressedArraySize),
	}, nil
}

// Flags are the global command line flags Load reads.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: " Lua configuration `FILE`",
		},
		cli.StringFlag{
			Name:  "crate-version",
			Value: d.Version,
			Usage: " crate format `VERSION` to write",
		},
		cli.IntFlag{
			Name:  "min-compressed-array-size",
			Value: d.MinCompressedArraySize,
			Usage: " integer arrays of at least `N` elements are packed, 0 disables",
		},
		cli.IntFlag{
			Name:  "alignment",
			Value: d.Alignment,
			Usage: " archive entry data alignment in `BYTES`",
		},
		cli.Int64Flag{
			Name:  "max-asset-size",
			Value: d.MaxAssetSize,
			Usage: " largest asset file in `BYTES`, 0 for no limit",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " debug logging",
		},
	}
}

// Load builds the configuration from defaults, the optional configuration
// file and the flags set on the command line, in increasing priority.
func Load(c *cli.Context) (Config, error) {
	cfg := Default()
	if file := c.GlobalString("config"); file != "" {
		if err := ParseConfigurationFile(file, &cfg); err != nil {
			return Config{}, err
		}
	}
	if c.GlobalIsSet("crate-version") {
		cfg.Version = c.GlobalString("crate-version")
	}
	if c.GlobalIsSet("min-compressed-array-size") {
		cfg.MinCompressedArraySize = c.GlobalInt("min-compressed-array-size")
	}
	if c.GlobalIsSet("alignment") {
		cfg.Alignment = c.GlobalInt("alignment")
	}
	if c.GlobalIsSet("max-asset-size") {
		cfg.MaxAssetSize = c.GlobalInt64("max-asset-size")
	}
	if c.GlobalIsSet("verbose") {
		cfg.Verbose = c.GlobalBool("verbose")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
