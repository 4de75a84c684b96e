package transform

import (
	"context"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/paths"
)

// Clean deletes everything matched by the clean glob. The build root itself is kept.
func Clean(ctx context.Context, env *Env) (*buildsys.Result, error) {
	items, err := paths.Expand(env.Root, env.Paths.CleanGlob)
	if err != nil {
		return nil, err
	}

	buildsys.Log(ctx).Debug().Int("count", len(items)).Msg("removing build output")
	return new(buildsys.Result), buildsys.RemovePaths(items, true, true)
}
