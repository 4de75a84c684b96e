package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLayout(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate(HTML, JS, CSS, Img, Fonts, Lib, PHP))

	assert.Equal(t, "build", cfg.BuildRoot)
	assert.Equal(t, "build/*", cfg.CleanGlob)

	html := cfg.Must(HTML)
	assert.Equal(t, []string{"src/pug/pages/*.pug"}, html.Src)
	assert.Equal(t, []string{"src/pug/**/*.pug"}, html.Watch)
	assert.Equal(t, "build", html.Dest)

	assert.Equal(t, "build/css", cfg.Must(CSS).Dest)
	assert.Equal(t, "build/images", cfg.Must(Img).Dest)
	assert.Equal(t, "build/libs", cfg.Must(Lib).Dest)
	assert.Empty(t, cfg.Must(Lib).Watch)
}

func TestCategoriesAreSorted(t *testing.T) {
	names := []string{}
	for _, cat := range Default().Categories() {
		names = append(names, cat.Name)
	}

	assert.Equal(t, []string{CSS, Fonts, HTML, Img, JS, Lib, PHP}, names)
}

func TestValidateReportsMissingCategory(t *testing.T) {
	cfg := newConfig("build", []*Category{
		{Name: HTML, Task: "html:build", Src: []string{"a/*.pug"}, Dest: "build"},
	})

	err := cfg.Validate(HTML, CSS)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category css")
}

func TestValidateReportsIncompleteCategory(t *testing.T) {
	cfg := newConfig("build", []*Category{
		{Name: HTML, Task: "html:build", Dest: "build"},
	})

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source patterns")
}

func TestMustPanicsForUnknownCategory(t *testing.T) {
	assert.Panics(t, func() {
		Default().Must("video")
	})
}
