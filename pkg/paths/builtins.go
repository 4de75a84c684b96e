package paths

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
)

// StarlarkPath is a normalized path returned by resolve_path()
type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

// stringList accepts a single string, a path or any iterable of those
func stringList(value starlark.Value, field string) ([]string, error) {
	switch value := value.(type) {
	case nil, starlark.NoneType:
		return []string{}, nil
	case starlark.String:
		return []string{value.GoString()}, nil
	case StarlarkPath:
		return []string{string(value)}, nil
	case starlarkIterable:
		result := make([]string, 0, value.Len())
		iter := value.Iterate()
		defer iter.Done()

		var item starlark.Value
		for iter.Next(&item) {
			switch entry := item.(type) {
			case starlark.String:
				result = append(result, entry.GoString())
			case StarlarkPath:
				result = append(result, string(entry))
			default:
				return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
			}
		}
		return result, nil
	}

	return nil, eris.Errorf("expected %s to be a string or list but found %s", field, value.Type())
}

func pathArg(value starlark.Value, field string) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	}

	return "", eris.Errorf("expected %s to be a string or path but found %s", field, value.Type())
}

func projectPaths(ctx *parserCtx, items []string) ([]string, error) {
	result := make([]string, len(items))
	for idx, item := range items {
		rel, err := projectPath(ctx, item)
		if err != nil {
			return nil, err
		}
		result[idx] = rel
	}
	return result, nil
}

func category(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, task string
	var src, watch, dest starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "src", &src, "dest", &dest,
		"watch?", &watch, "task?", &task)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	cat := &Category{Name: name, Task: task}
	if cat.Task == "" {
		if defaultCat, ok := Default().Get(name); ok {
			cat.Task = defaultCat.Task
		} else {
			cat.Task = name + ":build"
		}
	}

	srcList, err := stringList(src, "src")
	if err != nil {
		return nil, err
	}

	if len(srcList) == 0 {
		return nil, eris.Errorf("%s: category %s has no sources", fn.Name(), name)
	}

	cat.Src, err = projectPaths(ctx, srcList)
	if err != nil {
		return nil, err
	}

	watchList, err := stringList(watch, "watch")
	if err != nil {
		return nil, err
	}

	cat.Watch, err = projectPaths(ctx, watchList)
	if err != nil {
		return nil, err
	}

	destPath, err := pathArg(dest, "dest")
	if err != nil {
		return nil, err
	}

	cat.Dest, err = projectPath(ctx, destPath)
	if err != nil {
		return nil, err
	}

	for _, other := range ctx.categories {
		if other.Name == name {
			return nil, eris.Errorf("%s: category %s was declared twice", fn.Name(), name)
		}
	}

	if len(cat.Watch) == 0 {
		warn(thread, "%s: category %s has no watch patterns and won't be rebuilt by watch", fn.Name(), name)
	}

	ctx.categories = append(ctx.categories, cat)
	return cat, nil
}

func buildRoot(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rootArg starlark.Value

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &rootArg)
	if err != nil {
		return nil, err
	}

	root, err := pathArg(rootArg, "root")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if len(ctx.categories) > 0 {
		return nil, eris.New("build_root() has to be called before any category() call")
	}

	ctx.buildRoot, err = projectPath(ctx, root)
	if err != nil {
		return nil, err
	}

	if ctx.buildRoot == "." || strings.HasPrefix(ctx.buildRoot, "..") {
		return nil, eris.Errorf("the build root %s has to be a directory inside the project", root)
	}

	return StarlarkPath(ctx.buildRoot), nil
}

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)

	if len(kwargs) > 0 {
		return nil, eris.Errorf("unexpected keyword argument %s", kwargs[0][0])
	}

	if len(args) < 1 {
		return nil, eris.New("expects at least one argument")
	}

	parts := make([]string, len(args))
	for idx, item := range args {
		switch value := item.(type) {
		case starlark.String:
			parts[idx] = value.GoString()
		case StarlarkPath:
			parts[idx] = string(value)
		default:
			return nil, eris.Errorf("only accepts string arguments but argument %d was a %s", idx, item.Type())
		}
	}

	rel, err := projectPath(ctx, filepath.Join(parts...))
	if err != nil {
		return nil, err
	}

	return StarlarkPath(rel), nil
}

// logBuiltin returns a builtin that passes its only argument to log
func logBuiltin(log func(thread *starlark.Thread, msg string, args ...interface{})) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
			return nil, err
		}

		log(thread, "%s", message)
		return starlark.None, nil
	}
}

// starError aborts the script with the given message
func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, fallback string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &fallback); err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(key)
	if !ok {
		value = fallback
	}

	return starlark.String(value), nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var fallback starlark.Value = starlark.None

	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &fallback); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	file = normalizePath(ctx, file)

	doc, ok := ctx.yamlCache[file]
	if !ok {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read %s", simplifyPath(ctx, file))
		}

		if err = yaml.Unmarshal(content, &doc); err != nil {
			return nil, eris.Wrapf(err, "failed to parse %s", simplifyPath(ctx, file))
		}
		ctx.yamlCache[file] = doc
	}

	value, found, err := lookupKey(doc, strings.Split(key, "."))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to look up %s in %s", key, simplifyPath(ctx, file))
	}
	if !found {
		return fallback, nil
	}

	return interfaceToStarlark(value)
}

// lookupKey follows a path of map keys and list indices through a decoded YAML document
func lookupKey(doc interface{}, keys []string) (interface{}, bool, error) {
	current := reflect.ValueOf(doc)
	for _, key := range keys {
		for current.Kind() == reflect.Interface {
			current = current.Elem()
		}

		switch current.Kind() {
		case reflect.Invalid:
			return nil, false, nil
		case reflect.Map:
			current = current.MapIndex(reflect.ValueOf(key))
		case reflect.Slice:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= current.Len() {
				return nil, false, nil
			}
			current = current.Index(idx)
		default:
			return nil, false, eris.Errorf("can't descend into a %v with key %s", current.Kind(), key)
		}
	}

	if !current.IsValid() {
		return nil, false, nil
	}

	value := current.Interface()
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &file); err != nil {
		return nil, err
	}

	info, err := os.Stat(normalizePath(getCtx(thread), file))
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}
