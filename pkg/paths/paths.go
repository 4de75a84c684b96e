// Package paths contains the mapping from asset categories to their source, watch and output paths.
package paths

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// Category names
const (
	HTML  = "html"
	JS    = "js"
	CSS   = "css"
	Img   = "img"
	Fonts = "fonts"
	Lib   = "lib"
	PHP   = "php"
)

// Category describes where the files of one asset category come from and where they go.
// All paths are relative to the project root and use forward slashes.
type Category struct {
	Name  string
	Task  string
	Src   []string
	Watch []string
	Dest  string
}

// Implement starlark.Value for *Category so that category() can return it.

func (c *Category) String() string {
	return fmt.Sprintf("<Category %s: %v -> %s>", c.Name, c.Src, c.Dest)
}

// Type always returns "category"
func (c *Category) Type() string {
	return "category"
}

// Freeze doesn't do anything since categories are immutable anyway
func (c *Category) Freeze() {}

// Truth always returns true
func (c *Category) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since categories are only used as values
func (c *Category) Hash() (uint32, error) {
	return 0, eris.New("category is not a hashable type")
}

// Config is the complete path configuration. It is not modified after Load() returns.
type Config struct {
	BuildRoot  string
	CleanGlob  string
	categories map[string]*Category
}

// Default returns the standard project layout
func Default() *Config {
	return newConfig("build", []*Category{
		{
			Name:  HTML,
			Task:  "html:build",
			Src:   []string{"src/pug/pages/*.pug"},
			Watch: []string{"src/pug/**/*.pug"},
			Dest:  "build",
		},
		{
			Name:  JS,
			Task:  "js:build",
			Src:   []string{"src/js/*.js"},
			Watch: []string{"src/js/*.js"},
			Dest:  "build/js",
		},
		{
			Name:  CSS,
			Task:  "css:build",
			Src:   []string{"src/styles/*.scss"},
			Watch: []string{"src/styles/**/*.scss"},
			Dest:  "build/css",
		},
		{
			Name:  Img,
			Task:  "image:build",
			Src:   []string{"src/images/**/*.*"},
			Watch: []string{"src/images/**/*.*"},
			Dest:  "build/images",
		},
		{
			Name:  Fonts,
			Task:  "fonts:build",
			Src:   []string{"src/fonts/**/*.*"},
			Watch: []string{"src/fonts/**/*.*"},
			Dest:  "build/fonts",
		},
		{
			Name: Lib,
			Task: "lib:build",
			Src: []string{
				"node_modules/normalize.css/normalize.css",
				"node_modules/jquery/dist/jquery.min.js",
				"node_modules/jquery-form-styler/dist/*",
				"node_modules/magnific-popup/dist/*",
				"node_modules/jquery.scrollbar/jquery.scrollbar.css",
				"node_modules/jquery.scrollbar/jquery.scrollbar.min.js",
				"node_modules/slick-carousel/slick/slick.css",
				"node_modules/slick-carousel/slick/slick-theme.css",
				"node_modules/slick-carousel/slick/slick.min.js",
				"node_modules/@fortawesome/fontawesome-free/css/all.min.css",
				"node_modules/@fortawesome/fontawesome-free/js/all.min.js",
			},
			Dest: "build/libs",
		},
		{
			Name:  PHP,
			Task:  "php:build",
			Src:   []string{"src/php/**/*.php"},
			Watch: []string{"src/php/**/*.*"},
			Dest:  "build",
		},
	})
}

func newConfig(buildRoot string, categories []*Category) *Config {
	cfg := &Config{
		BuildRoot:  buildRoot,
		CleanGlob:  buildRoot + "/*",
		categories: make(map[string]*Category, len(categories)),
	}

	for _, cat := range categories {
		cfg.categories[cat.Name] = cat
	}
	return cfg
}

// Get returns the named category
func (c *Config) Get(name string) (*Category, bool) {
	cat, ok := c.categories[name]
	return cat, ok
}

// Must returns the named category and panics if it's missing. Only use this after Validate().
func (c *Config) Must(name string) *Category {
	cat, ok := c.categories[name]
	if !ok {
		panic(fmt.Sprintf("category %s is not configured", name))
	}
	return cat
}

// Categories returns all categories sorted by name
func (c *Config) Categories() []*Category {
	result := make([]*Category, 0, len(c.categories))
	for _, cat := range c.categories {
		result = append(result, cat)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Validate makes sure that every required category is configured and complete
func (c *Config) Validate(required ...string) error {
	if c.BuildRoot == "" {
		return eris.New("the build root is empty")
	}

	for _, name := range required {
		if _, ok := c.categories[name]; !ok {
			return eris.Errorf("category %s is used by a task but not configured", name)
		}
	}

	for _, cat := range c.Categories() {
		if len(cat.Src) == 0 {
			return eris.Errorf("category %s has no source patterns", cat.Name)
		}

		if cat.Dest == "" {
			return eris.Errorf("category %s has no destination", cat.Name)
		}

		if cat.Task == "" {
			return eris.Errorf("category %s has no task name", cat.Name)
		}
	}

	return nil
}
