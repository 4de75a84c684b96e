package paths

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/ngld/sitepipe/pkg/buildsys"
)

// ScriptName is the file Load() looks for in the project root
const ScriptName = "assets.star"

// ScriptOption is an option declared by a script through option()
type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

// Default returns the option's default value
func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

type parserCtx struct {
	logger       *zerolog.Logger
	options      map[string]ScriptOption
	optionValues map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	buildRoot    string
	categories   []*Category
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	ctx.logger.Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	ctx.logger.Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// Load returns the default configuration merged with the categories declared in the project's assets.star.
// If the script doesn't exist, the defaults are returned unchanged.
func Load(ctx context.Context, projectRoot string, options map[string]string) (*Config, map[string]ScriptOption, error) {
	script := filepath.Join(projectRoot, ScriptName)
	_, err := os.Stat(script)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return Default(), map[string]ScriptOption{}, nil
		}
		return nil, nil, eris.Wrapf(err, "failed to check %s", script)
	}

	return RunScript(ctx, script, projectRoot, options)
}

// RunScript executes a Starlark script and returns the resulting path configuration and the declared options.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string) (*Config, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	logger := buildsys.Log(ctx)
	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", logBuiltin(info)),
		"warn":         starlark.NewBuiltin("warn", logBuiltin(warn)),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"build_root":   starlark.NewBuiltin("build_root", buildRoot),
		"category":     starlark.NewBuiltin("category", category),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			logger.Info().Str("thread", thread.Name).Msg(msg)
		},
	}

	if options == nil {
		options = map[string]string{}
	}

	defaults := Default()
	threadCtx := parserCtx{
		logger:       logger,
		filepath:     filename,
		projectRoot:  projectRoot,
		buildRoot:    defaults.BuildRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		categories:   make([]*Category, 0),
		yamlCache:    make(map[string]interface{}),
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read file")
	}

	_, err = starlark.ExecFile(thread, simplifyPath(&threadCtx, filename), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, nil, eris.Errorf("failed to execute %s:\n%s", simplifyPath(&threadCtx, filename), evalError.Backtrace())
		}
		return nil, nil, eris.Wrap(err, "failed to execute")
	}

	merged := make([]*Category, 0)
	declared := make(map[string]bool)
	for _, cat := range threadCtx.categories {
		declared[cat.Name] = true
		merged = append(merged, cat)
	}

	for _, cat := range defaults.Categories() {
		if !declared[cat.Name] {
			if threadCtx.buildRoot != defaults.BuildRoot {
				cat = rebase(cat, defaults.BuildRoot, threadCtx.buildRoot)
			}
			merged = append(merged, cat)
		}
	}

	return newConfig(threadCtx.buildRoot, merged), threadCtx.options, nil
}

// rebase moves a default category's destination below a different build root
func rebase(cat *Category, from, to string) *Category {
	rel, err := filepath.Rel(from, cat.Dest)
	if err != nil {
		return cat
	}

	copied := *cat
	copied.Dest = filepath.ToSlash(filepath.Join(to, rel))
	return &copied
}
