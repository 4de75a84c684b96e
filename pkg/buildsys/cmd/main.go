// Package cmd implements the sitepipe CLI
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/config"
	"github.com/ngld/sitepipe/pkg/notify"
	"github.com/ngld/sitepipe/pkg/paths"
	"github.com/ngld/sitepipe/pkg/pipeline"
)

// rootMarkers identify the project root. The first directory containing any of them wins.
var rootMarkers = []string{paths.ScriptName, config.FileName, "package.json"}

// ErrReported is returned by RootCmd once the actual error has been logged
var ErrReported = eris.New("failed")

var RootCmd = &cobra.Command{
	Use:   "sitepipe [task...] [KEY=VALUE...]",
	Short: "Asset pipeline for static sites",
	Long: `This command looks for the project root (the first parent directory containing assets.star,
sitepipe.toml or package.json) and executes the given tasks. KEY=VALUE arguments are passed to
option() calls in assets.star. Without any task, the available tasks are listed.

The rm, mkdir, mv and cp subcommands behave like their POSIX counterparts on every platform (globs
are expanded on Windows, too) so npm scripts and CI steps can use them without a POSIX shell.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitArgs(args)

		root, err := cmd.Flags().GetString("root")
		if err != nil {
			return err
		}

		if root == "" {
			root, err = FindProjectRoot()
			if err != nil {
				return err
			}
		}

		root, err = filepath.Abs(root)
		if err != nil {
			return eris.Wrap(err, "Failed to resolve the project root")
		}

		cfg, err := config.Load(root)
		if err != nil {
			return err
		}

		logger := NewLogger(cmd.ErrOrStderr(), root, cfg)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = buildsys.WithLogger(ctx, &logger)

		pathCfg, scriptOptions, err := paths.Load(ctx, root, options)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load the path configuration")
			return ErrReported
		}

		p, err := pipeline.New(pipeline.Options{
			Root:     root,
			Config:   cfg,
			Paths:    pathCfg,
			Notifier: notify.New(cfg.Notify.Desktop, &logger),
			Progress: os.Stderr,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to set up the pipeline")
			return ErrReported
		}
		defer p.Close()

		if len(taskArgs) == 0 {
			printTasks(cmd.OutOrStdout(), p.Tasks, scriptOptions)
			return nil
		}

		for _, name := range taskArgs {
			if _, ok := p.Tasks.Get(name); !ok {
				err = eris.Errorf("Task %s not found", name)
				logger.Error().Err(err).Msg("Unknown task")
				return ErrReported
			}
		}

		for _, name := range taskArgs {
			_, err = p.Runner.Run(ctx, name)
			if err != nil {
				logger.Error().Err(err).Msgf("Failed task %s", name)
				return ErrReported
			}
		}

		return nil
	},
}

// NewLogger returns the console logger or, if log.json is set, a plain JSON logger
func NewLogger(out io.Writer, root string, cfg *config.Config) zerolog.Logger {
	var writer io.Writer = out
	if !cfg.Log.JSON {
		writer = NewConsoleWriter(out, root)
	}

	return zerolog.New(writer).Level(cfg.LogLevel()).With().Timestamp().Logger()
}

// splitArgs separates task names from KEY=VALUE options
func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

// FindProjectRoot walks up from the working directory until it finds a directory containing one of
// the root markers. If there is none, the working directory is used.
func FindProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "Failed to retrieve the current working directory")
	}

	return findRoot(wd)
}

func findRoot(start string) (string, error) {
	path := start
	for {
		for _, marker := range rootMarkers {
			markerPath := filepath.Join(path, marker)
			_, err := os.Stat(markerPath)
			if err == nil {
				return path, nil
			}
			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrapf(err, "Failed to check %s", markerPath)
			}
		}

		parent := filepath.Dir(path)
		if parent == path {
			return start, nil
		}

		path = parent
	}
}

func printTasks(out io.Writer, tasks *buildsys.TaskList, options map[string]paths.ScriptOption) {
	fmt.Fprintln(out, "Available tasks:")
	maxNameLen := 0
	names := tasks.Names()
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		task, _ := tasks.Get(name)
		fmt.Fprintf(out, lineFmt, name+":", task.Desc)
	}

	if len(options) == 0 {
		return
	}

	optionNames := make([]string, 0, len(options))
	maxNameLen = 0
	for name := range options {
		optionNames = append(optionNames, name)
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}
	sort.Strings(optionNames)

	fmt.Fprintln(out, "\nOptions:")
	lineFmt = fmt.Sprintf(" * %%-%ds %%s (default: %%q)\n", maxNameLen+3)
	for _, name := range optionNames {
		opt := options[name]
		fmt.Fprintf(out, lineFmt, name+":", opt.Help, opt.Default())
	}
}

func init() {
	RootCmd.Flags().String("root", "", "project root; defaults to the first parent directory with assets.star, sitepipe.toml or package.json")
}
