package paths

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeScript(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, ScriptName), []byte(content), 0o644))
}

func TestLoadWithoutScriptReturnsDefaults(t *testing.T) {
	cfg, options, err := Load(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)

	assert.Empty(t, options)
	assert.Equal(t, Default().Categories(), cfg.Categories())
}

func TestScriptOverridesCategories(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, `
build_root("dist")

category(
    name = "css",
    src = ["assets/scss/*.scss"],
    watch = "assets/scss/**/*.scss",
    dest = resolve_path("dist", "styles"),
)
`)

	cfg, _, err := Load(context.Background(), root, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(CSS, HTML))

	assert.Equal(t, "dist", cfg.BuildRoot)
	assert.Equal(t, "dist/*", cfg.CleanGlob)

	css := cfg.Must(CSS)
	assert.Equal(t, "css:build", css.Task)
	assert.Equal(t, []string{"assets/scss/*.scss"}, css.Src)
	assert.Equal(t, []string{"assets/scss/**/*.scss"}, css.Watch)
	assert.Equal(t, "dist/styles", css.Dest)

	// defaults move along with the build root
	assert.Equal(t, "dist/js", cfg.Must(JS).Dest)
	assert.Equal(t, "dist", cfg.Must(HTML).Dest)
}

func TestScriptOptionsAndYaml(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "site.yml"), []byte(`
theme:
  name: dark
  vendors:
    - node_modules/a/a.js
    - node_modules/b/b.js
`), 0o644))

	writeScript(t, root, `
theme = option("theme", "light", help = "theme name")
if theme != read_yaml("site.yml", "theme.name"):
    error("unexpected theme " + theme)

category(
    name = "lib",
    src = read_yaml("site.yml", "theme.vendors"),
    dest = "//build/vendor",
)
`)

	cfg, options, err := Load(context.Background(), root, map[string]string{"theme": "dark"})
	require.NoError(t, err)

	require.Contains(t, options, "theme")
	assert.Equal(t, "light", options["theme"].Default())
	assert.Equal(t, "theme name", options["theme"].Help)

	lib := cfg.Must(Lib)
	assert.Equal(t, []string{"node_modules/a/a.js", "node_modules/b/b.js"}, lib.Src)
	assert.Equal(t, "build/vendor", lib.Dest)
	assert.Equal(t, "lib:build", lib.Task)
}

func TestScriptErrorsAreReported(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, `
theme = option("theme", "light")
if theme != "dark":
    error("only the dark theme is supported")
`)

	_, _, err := Load(context.Background(), root, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only the dark theme is supported")
}

func TestScriptRejectsDuplicateCategories(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, `
category(name = "js", src = "a/*.js", dest = "build/js")
category(name = "js", src = "b/*.js", dest = "build/js")
`)

	_, _, err := Load(context.Background(), root, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared twice")
}

func TestCustomCategoryGetsDefaultTaskName(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, `category(name = "video", src = "media/*.mp4", dest = "build/media")`)

	cfg, _, err := Load(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, "video:build", cfg.Must("video").Task)
}

func TestLookupKey(t *testing.T) {
	var doc interface{}
	require.NoError(t, yaml.Unmarshal([]byte("theme:\n  vendors: [a.js, b.js]\n  name: dark\nempty:\n"), &doc))

	value, found, err := lookupKey(doc, []string{"theme", "vendors", "1"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b.js", value)

	for _, key := range []string{"theme.missing", "theme.vendors.5", "theme.vendors.x", "empty", "empty.nested"} {
		_, found, err = lookupKey(doc, strings.Split(key, "."))
		require.NoError(t, err, key)
		assert.False(t, found, key)
	}

	_, _, err = lookupKey(doc, []string{"theme", "name", "x"})
	assert.Error(t, err)
}
