package transform

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/cache"
	"github.com/ngld/sitepipe/pkg/paths"
)

func (e *Env) progressBar(count int) *progressbar.ProgressBar {
	if e.Progress == nil {
		return progressbar.NewOptions(count, progressbar.OptionSetVisibility(false))
	}

	out := e.Progress
	return progressbar.NewOptions(count, progressbar.OptionSetDescription("Optimizing images"),
		progressbar.OptionSetWriter(out), progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
	)
}

// cachedOptimize looks up the optimized version of data in the cache before running the strategy
func (e *Env) cachedOptimize(ctx context.Context, store *cache.Store, s Strategy, filename string, data []byte) ([]byte, error) {
	if store == nil || !s.Cached() {
		return e.optimize(ctx, s, filename, data)
	}

	key := cache.Key(s.String(), data)
	entry, err := store.Get(key)
	if err != nil {
		return nil, err
	}

	if entry != nil {
		buildsys.Log(ctx).Debug().Str("file", filename).Msg("using cached image")
		return entry.Data, nil
	}

	out, err := e.optimize(ctx, s, filename, data)
	if err != nil {
		return nil, err
	}

	err = store.Put(key, &cache.Entry{
		Strategy: s.String(),
		Size:     len(data),
		Data:     out,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Images optimizes every image based on its format. Unknown formats are copied.
func Images(ctx context.Context, env *Env, cat *paths.Category) (res *buildsys.Result, err error) {
	files, err := env.sources(ctx, cat)
	if err != nil {
		return nil, err
	}

	var store *cache.Store
	if env.Cache != nil && len(files) > 0 {
		store, err = env.Cache.Acquire()
		if err != nil {
			return nil, err
		}
		defer func() {
			releaseErr := env.Cache.Release()
			if err == nil {
				err = releaseErr
			}
		}()
	}

	res = new(buildsys.Result)
	bar := env.progressBar(len(files))
	defer bar.Finish()

	saved := 0
	for _, file := range files {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		data, err := os.ReadFile(file.Path)
		if err != nil {
			return res, eris.Wrapf(err, "failed to read %s", file.Path)
		}

		out, err := env.cachedOptimize(ctx, store, StrategyFor(file.Path), file.Path, data)
		if err != nil {
			return res, err
		}

		dest := env.output(cat, file.Rel)
		err = writeFile(dest, out)
		if err != nil {
			return res, err
		}
		res.AddOutput(dest)
		saved += len(data) - len(out)

		_ = bar.Add(1)
	}

	if len(files) > 0 {
		buildsys.Log(ctx).Info().Msgf("optimized %d images, saved %d bytes", len(files), saved)
	}
	return res, nil
}
