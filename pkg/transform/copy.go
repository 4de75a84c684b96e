package transform

import (
	"context"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/paths"
)

// Copy writes every source file unchanged
func Copy(ctx context.Context, env *Env, cat *paths.Category) (*buildsys.Result, error) {
	files, err := env.sources(ctx, cat)
	if err != nil {
		return nil, err
	}

	res := new(buildsys.Result)
	for _, file := range files {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		dest := env.output(cat, file.Rel)
		err = buildsys.CopyFile(file.Path, dest)
		if err != nil {
			return res, err
		}
		res.AddOutput(dest)
	}

	return res, nil
}
