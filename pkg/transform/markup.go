package transform

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/yosssi/gohtml"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/paths"
)

// MarkupTitle is the notification title for template errors
const MarkupTitle = "Pug"

// Markup compiles every page template and writes the reformatted HTML. Template errors are recovered
// per file.
func Markup(ctx context.Context, env *Env, cat *paths.Category) (*buildsys.Result, error) {
	files, err := env.sources(ctx, cat)
	if err != nil {
		return nil, err
	}

	res := new(buildsys.Result)
	for _, file := range files {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		src, err := os.ReadFile(file.Path)
		if err != nil {
			return res, eris.Wrapf(err, "failed to read %s", file.Path)
		}

		page, err := buildsys.RunTool(ctx, env.tool("pug", env.Tools.Pug, file.Path), src)
		if err != nil {
			res.Recover(MarkupTitle, file.Path, err)
			continue
		}

		dest := env.output(cat, replaceExt(file.Rel, ".html"))
		err = writeFile(dest, gohtml.FormatBytes(page))
		if err != nil {
			return res, err
		}
		res.AddOutput(dest)
	}

	return res, nil
}
