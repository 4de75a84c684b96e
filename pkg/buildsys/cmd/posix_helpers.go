package cmd

import (
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/paths"
)

// expandArgs resolves glob patterns on Windows where the shell doesn't do it for us
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		if !paths.HasMeta(arg) {
			items = append(items, arg)
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil && !allowEmpty {
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

func boolFlags(flags *pflag.FlagSet, names ...string) (map[string]bool, error) {
	result := make(map[string]bool, len(names))
	for _, name := range names {
		value, err := flags.GetBool(name)
		if err != nil {
			return nil, err
		}
		result[name] = value
	}
	return result, nil
}

var mvCmd = &cobra.Command{
	Use:   "mv <src...> <dest>",
	Short: "Move files or directories (POSIX mv on every platform)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := expandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		return buildsys.MovePaths(items, args[len(args)-1])
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <src...> <dest>",
	Short: "Copy files (POSIX cp on every platform)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := expandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		dest := args[len(args)-1]
		if len(items) > 1 {
			err = buildsys.MakeDirs([]string{dest}, true)
			if err != nil {
				return err
			}
		}

		for _, item := range items {
			err = buildsys.CopyFile(item, dest)
			if err != nil {
				return err
			}
		}

		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path...>",
	Short: "Remove files or directories (POSIX rm on every platform)",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := boolFlags(cmd.Flags(), "recursive", "force")
		if err != nil {
			return err
		}

		items, err := expandArgs(args, flags["force"])
		if err != nil {
			return err
		}

		return buildsys.RemovePaths(items, flags["recursive"], flags["force"])
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path...>",
	Short: "Create directories (POSIX mkdir on every platform)",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := boolFlags(cmd.Flags(), "parents")
		if err != nil {
			return err
		}

		return buildsys.MakeDirs(args, flags["parents"])
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")

	RootCmd.AddCommand(mvCmd)
	RootCmd.AddCommand(cpCmd)
	RootCmd.AddCommand(rmCmd)
	RootCmd.AddCommand(mkdirCmd)
}
