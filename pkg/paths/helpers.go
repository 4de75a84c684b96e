package paths

import (
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

func normalizePath(ctx *parserCtx, pathList ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, item := range pathList {
		if strings.HasPrefix(item, "//") {
			result = filepath.Join(ctx.projectRoot, item[2:])
		} else if strings.HasPrefix(item, "/") {
			result = filepath.Join(filepath.VolumeName(result), item)
		} else if !filepath.IsAbs(item) {
			result = filepath.Join(result, item)
		} else {
			result = item
		}
	}

	return filepath.Clean(result)
}

// projectPath turns a script path into a slash-separated path relative to the project root
func projectPath(ctx *parserCtx, item string) (string, error) {
	abs := normalizePath(ctx, item)
	rel, err := filepath.Rel(ctx.projectRoot, abs)
	if err != nil {
		return "", eris.Wrapf(err, "failed to make %s relative to the project root", item)
	}

	return filepath.ToSlash(rel), nil
}

func simplifyPath(ctx *parserCtx, item string) string {
	projectRoot := ctx.projectRoot
	absPath, err := filepath.Abs(item)
	if err != nil {
		return item
	}

	if strings.HasPrefix(absPath, projectRoot+string(filepath.Separator)) {
		return "//" + filepath.ToSlash(absPath[len(projectRoot)+1:])
	}
	return item
}

func interfaceToStarlark(value interface{}) (starlark.Value, error) {
	// handle a few simple and common cases first
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float32:
		return starlark.Float(value), nil
	case float64:
		return starlark.Float(value), nil
	case []string:
		items := make(starlark.Tuple, len(value))
		for idx, raw := range value {
			items[idx] = starlark.String(raw)
		}

		return items, nil
	}

	refValue := reflect.ValueOf(value)
	var err error
	switch refValue.Kind() {
	case reflect.Slice, reflect.Array:
		tuple := make(starlark.Tuple, refValue.Len())
		for idx := 0; idx < refValue.Len(); idx++ {
			tuple[idx], err = interfaceToStarlark(refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
		}

		return tuple, nil
	case reflect.Map:
		dict := starlark.NewDict(refValue.Len())
		iter := refValue.MapRange()
		for iter.Next() {
			key, err := interfaceToStarlark(iter.Key().Interface())
			if err != nil {
				return nil, err
			}

			item, err := interfaceToStarlark(iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(key, item)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %v", refValue.Kind())
}
