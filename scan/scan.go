// Package scan discovers input files for a batch. It walks files and
// directories concurrently, keeps the ones with a wanted extension and
// returns them deduplicated and sorted.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultExtensions are matched when no extension is configured.
var DefaultExtensions = []string{".stl"}

// ErrNoInputs is returned by Paths when it is called without paths.
var ErrNoInputs = errors.New("scan: no input paths")

// Option configures a scan.
type Option func(*options)

type options struct {
	recursive   bool
	extensions  []string
	concurrency int
}

// Recursive descends into subdirectories.
func Recursive(on bool) Option {
	return func(o *options) { o.recursive = on }
}

// WithExtensions replaces the matched extensions. Matching ignores case;
// the leading dot is optional.
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.extensions = o.extensions[:0]
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			o.extensions = append(o.extensions, e)
		}
	}
}

// WithConcurrency bounds how many roots are walked at once.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// Paths expands paths into matching files. A file given directly is kept
// if its extension matches. Directories are listed, recursively when
// Recursive(true) is set. The result holds absolute paths, each once,
// in lexical order.
func Paths(ctx context.Context, paths []string, opts ...Option) ([]string, error) {
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}
	o := options{
		extensions:  slices.Clone(DefaultExtensions),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		mu    sync.Mutex
		found = make(map[string]struct{})
	)
	keep := func(path string) {
		mu.Lock()
		found[path] = struct{}{}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, o.concurrency))
	for _, root := range paths {
		g.Go(func() error {
			return o.walk(gctx, root, keep)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(found))
	for path := range found {
		out = append(out, path)
	}
	slices.Sort(out)
	return out, nil
}

func (o *options) walk(ctx context.Context, root string, keep func(string)) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("scan: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if !info.IsDir() {
		if o.match(abs) {
			keep(abs)
		}
		return nil
	}

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if !o.recursive && path != abs {
				return filepath.SkipDir
			}
			return nil
		}
		if o.match(path) {
			keep(path)
		}
		return nil
	}
	if err := filepath.WalkDir(abs, walkFn); err != nil {
		return fmt.Errorf("scan directory %s: %w", root, err)
	}
	return nil
}

func (o *options) match(path string) bool {
	return slices.Contains(o.extensions, strings.ToLower(filepath.Ext(path)))
}
