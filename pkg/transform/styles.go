package transform

import (
	"bytes"
	"context"
	"os"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/paths"
)

// StylesTitle is the notification title for stylesheet errors
const StylesTitle = "scss"

var sourceMapComment = regexp.MustCompile(`(?s)/\*# sourceMappingURL=.*?\*/\s*$`)

// splitSourceMap separates a trailing sourceMappingURL comment from the stylesheet
func splitSourceMap(sheet []byte) ([]byte, []byte) {
	loc := sourceMapComment.FindIndex(sheet)
	if loc == nil {
		return sheet, nil
	}

	return sheet[:loc[0]], bytes.TrimSpace(sheet[loc[0]:loc[1]])
}

func (e *Env) compileStyle(ctx context.Context, file paths.Match, src []byte) ([]byte, error) {
	steps := []struct {
		name    string
		command string
	}{
		{"sass", e.Tools.Sass},
		{"autoprefixer", e.Tools.Autoprefixer},
		{"mediaqueries", e.Tools.MediaQueries},
	}

	sheet := src
	for _, step := range steps {
		var err error
		sheet, err = buildsys.RunTool(ctx, e.tool(step.name, step.command, file.Path), sheet)
		if err != nil {
			return nil, err
		}
	}

	return sheet, nil
}

// Styles compiles every stylesheet, writes the expanded result and then replaces it with the
// minified version. Compiler errors are recovered per file.
func Styles(ctx context.Context, env *Env, cat *paths.Category) (*buildsys.Result, error) {
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

		sheet, err := env.compileStyle(ctx, file, src)
		if err != nil {
			res.Recover(StylesTitle, file.Path, err)
			continue
		}

		dest := env.output(cat, replaceExt(file.Rel, ".css"))
		err = writeFile(dest, sheet)
		if err != nil {
			return res, err
		}

		body, sourceMap := splitSourceMap(sheet)
		minified, err := minifier.Bytes("text/css", body)
		if err != nil {
			res.Recover(StylesTitle, file.Path, eris.Wrap(err, "minify failed"))
			continue
		}

		if env.Sourcemaps && sourceMap != nil {
			minified = append(minified, '\n')
			minified = append(minified, sourceMap...)
		}

		err = writeFile(dest, minified)
		if err != nil {
			return res, err
		}
		res.AddOutput(dest)
	}

	return res, nil
}
