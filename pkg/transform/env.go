// Package transform implements the per-category asset transformations.
package transform

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/cache"
	"github.com/ngld/sitepipe/pkg/config"
	"github.com/ngld/sitepipe/pkg/paths"
)

// Env holds the shared settings of all transforms
type Env struct {
	// Root is the absolute project root
	Root       string
	Paths      *paths.Config
	Tools      config.Tools
	Sourcemaps bool
	// Cache may be nil to disable image caching. It's only opened while images are optimized.
	Cache *cache.Handle
	// Progress receives the image progress bar. nil hides it.
	Progress io.Writer
}

// Func transforms all sources of a single category
type Func func(ctx context.Context, env *Env, cat *paths.Category) (*buildsys.Result, error)

var minifier = newMinifier()

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}

// ForCategory returns the transform for the named category. Unknown categories are copied unchanged.
func ForCategory(name string) Func {
	switch name {
	case paths.HTML:
		return Markup
	case paths.CSS:
		return Styles
	case paths.JS:
		return Scripts
	case paths.Img:
		return Images
	default:
		return Copy
	}
}

// Bind turns a transform into a task action
func Bind(fn Func, env *Env, cat *paths.Category) buildsys.Action {
	return func(ctx context.Context) (*buildsys.Result, error) {
		return fn(ctx, env, cat)
	}
}

func (e *Env) sources(ctx context.Context, cat *paths.Category) ([]paths.Match, error) {
	files, err := paths.Resolve(e.Root, cat.Src)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		buildsys.Log(ctx).Debug().Strs("src", cat.Src).Msg("no matching sources")
	}
	return files, nil
}

// output returns the absolute destination for a source path relative to its pattern base
func (e *Env) output(cat *paths.Category, rel string) string {
	return filepath.Join(e.Root, filepath.FromSlash(cat.Dest), filepath.FromSlash(rel))
}

func (e *Env) tool(name, command, file string) buildsys.ToolRun {
	sourcemap := ""
	if e.Sourcemaps {
		sourcemap = "1"
	}

	return buildsys.ToolRun{
		Name:    name,
		Command: command,
		Dir:     e.Root,
		Env: []string{
			"SITEPIPE_FILE=" + file,
			"SITEPIPE_DIR=" + filepath.Dir(file),
			"SITEPIPE_ROOT=" + e.Root,
			"SITEPIPE_SOURCEMAP=" + sourcemap,
		},
	}
}

func replaceExt(rel, ext string) string {
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + ext
}

func writeFile(dest string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(dest), 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory for %s", dest)
	}

	err = os.WriteFile(dest, data, 0o644)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", dest)
	}
	return nil
}
