package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ToolRun describes a single invocation of an external tool
type ToolRun struct {
	// Name is used in error messages (i.e. "sass")
	Name string
	// Command is a shell command line. The input is passed on stdin and through the file in $SITEPIPE_IN.
	// The output is read from $SITEPIPE_OUT if the command wrote that file and from stdout otherwise.
	Command string
	// Dir is the working directory
	Dir string
	// Env contains additional KEY=VALUE pairs
	Env []string
}

func resolveArgs(dir string, args []string) []string {
	result := make([]string, len(args))
	for idx, arg := range args {
		if filepath.IsAbs(arg) {
			result[idx] = arg
		} else {
			result[idx] = filepath.Join(dir, arg)
		}
	}
	return result
}

func runBuiltin(ctx context.Context, args []string) (bool, error) {
	hc := interp.HandlerCtx(ctx)
	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	flags.SetOutput(io.Discard)

	switch args[0] {
	case "rm":
		recursive := flags.BoolP("recursive", "r", false, "")
		force := flags.BoolP("force", "f", false, "")
		if err := flags.Parse(args[1:]); err != nil {
			return true, err
		}

		return true, RemovePaths(resolveArgs(hc.Dir, flags.Args()), *recursive, *force)
	case "mkdir":
		parents := flags.BoolP("parents", "p", false, "")
		if err := flags.Parse(args[1:]); err != nil {
			return true, err
		}

		return true, MakeDirs(resolveArgs(hc.Dir, flags.Args()), *parents)
	case "mv", "cp":
		if err := flags.Parse(args[1:]); err != nil {
			return true, err
		}

		items := resolveArgs(hc.Dir, flags.Args())
		if len(items) < 2 {
			return true, eris.Errorf("%s: not enough parameters", args[0])
		}

		dest := items[len(items)-1]
		if args[0] == "mv" {
			return true, MovePaths(items[:len(items)-1], dest)
		}

		for _, item := range items[:len(items)-1] {
			if err := CopyFile(item, dest); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	return false, nil
}

// builtinHandler always uses our cross-platform implementation for file operations to make sure they
// behave consistently
func builtinHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 {
			handled, err := runBuiltin(ctx, args)
			if handled {
				if err != nil {
					fmt.Fprintf(interp.HandlerCtx(ctx).Stderr, "%s: %s\n", args[0], err)
					return interp.NewExitStatus(1)
				}
				return nil
			}
		}

		return next(ctx, args)
	}
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// RunTool pipes input through an external tool and returns the tool's output
func RunTool(ctx context.Context, run ToolRun, input []byte) ([]byte, error) {
	parser := syntax.NewParser()
	script, err := parser.Parse(strings.NewReader(run.Command), run.Name)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command for %s", run.Name)
	}

	tmpDir, err := os.MkdirTemp("", "sitepipe-")
	if err != nil {
		return nil, eris.Wrap(err, "could not create temporary directory")
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "in")
	outPath := filepath.Join(tmpDir, "out")
	err = os.WriteFile(inPath, input, 0o600)
	if err != nil {
		return nil, eris.Wrap(err, "failed to write tool input")
	}

	env := append(os.Environ(), run.Env...)
	env = append(env, "SITEPIPE_IN="+inPath, "SITEPIPE_OUT="+outPath)

	dir := run.Dir
	if dir == "" {
		dir = "."
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.ExecHandlers(builtinHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(bytes.NewReader(input), &stdout, &stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to initialize runner")
	}

	Log(ctx).Debug().Str("tool", run.Name).Bool("command", true).Msg(run.Command)
	err = runner.Run(ctx, script)
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, eris.Wrapf(err, "%s failed", run.Name)
		}
		return nil, eris.Wrapf(err, "%s failed: %s", run.Name, msg)
	}

	info, err := os.Stat(outPath)
	if err == nil && info.Size() > 0 {
		return os.ReadFile(outPath)
	}

	return stdout.Bytes(), nil
}
