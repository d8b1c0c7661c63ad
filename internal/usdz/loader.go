package usdz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const defaultLoadWorkers = 8

var ErrAssetTooLarge = errors.New("usdz: asset too large")

// Loader reads asset files for packing. A Loader may be shared: concurrent
// loads of the same file, from one Load call or several, share one read.
type Loader struct {
	maxSize  int64
	workers  int
	group    singleflight.Group
	readFile func(string) ([]byte, error)
	sugar    *zap.SugaredLogger
}

// NewLoader returns a Loader rejecting files larger than maxSize bytes; a
// maxSize of 0 means no limit.
func NewLoader(maxSize int64, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		maxSize:  maxSize,
		workers:  defaultLoadWorkers,
		readFile: os.ReadFile,
		sugar:    logger.Sugar(),
	}
}

// assetKey identifies a file independent of how its path is spelled.
func assetKey(name string) string {
	if abs, err := filepath.Abs(name); err == nil {
		return abs
	}
	return filepath.Clean(name)
}

// Load reads files concurrently and returns one entry per distinct file, in
// first appearance order, named by the file's base name. Paths naming the
// same file, such as "a.png" and "./a.png", yield one entry.
func (l *Loader) Load(ctx context.Context, files ...string) ([]Entry, error) {
	var unique, keys []string
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		k := assetKey(f)
		if !seen[k] {
			seen[k] = true
			unique = append(unique, f)
			keys = append(keys, k)
		}
	}

	entries := make([]Entry, len(unique))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, name := range unique {
		i, name := i, name
		g.Go(func() error {
			v, err, shared := l.group.Do(keys[i], func() (any, error) {
				return l.read(ctx, name)
			})
			if err != nil {
				return err
			}
			l.sugar.Debugw("asset loaded", "file", name, "shared", shared)
			entries[i] = Entry{Name: filepath.Base(name), Data: v.([]byte)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.sugar.Errorw("asset load failed", "err", err)
		return nil, err
	}
	return entries, nil
}

func (l *Loader) read(ctx context.Context, name string) ([]byte, error) {
	const msg = "Loader.read:"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s %w", msg, err)
	}
	st, err := os.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("%s %w", msg, err)
	}
	if l.maxSize > 0 && st.Size() > l.maxSize {
		return nil, fmt.Errorf("%s %w: %s is %d bytes", msg, ErrAssetTooLarge, name, st.Size())
	}
	data, err := l.readFile(name)
	if err != nil {
		return nil, fmt.Errorf("%s %w", msg, err)
	}
	return data, nil
}
