package transform

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/paths"
)

// Scripts resolves include directives and writes both the bundled and the minified (.min.js) version
// of every entry script.
func Scripts(ctx context.Context, env *Env, cat *paths.Category) (*buildsys.Result, error) {
	files, err := env.sources(ctx, cat)
	if err != nil {
		return nil, err
	}

	res := new(buildsys.Result)
	for _, file := range files {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		bundle, err := inlineIncludes(file.Path)
		if err != nil {
			return res, err
		}

		dest := env.output(cat, file.Rel)
		err = writeFile(dest, bundle)
		if err != nil {
			return res, err
		}
		res.AddOutput(dest)

		minified, err := minifier.Bytes("application/javascript", bundle)
		if err != nil {
			return res, eris.Wrapf(err, "failed to minify %s", file.Path)
		}

		minDest := env.output(cat, replaceExt(file.Rel, ".min.js"))
		err = writeFile(minDest, minified)
		if err != nil {
			return res, err
		}
		res.AddOutput(minDest)
	}

	return res, nil
}
