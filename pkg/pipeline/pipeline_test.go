package pipeline

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/cache"
	"github.com/ngld/sitepipe/pkg/config"
	"github.com/ngld/sitepipe/pkg/devserver"
	"github.com/ngld/sitepipe/pkg/notify"
	"github.com/ngld/sitepipe/pkg/paths"
)

var sources = map[string]string{
	"src/pug/pages/index.pug":                "<html><body><p>home</p></body></html>",
	"src/pug/pages/about.pug":                "<html><body><p>about</p></body></html>",
	"src/pug/layout/base.pug":                "<html></html>",
	"src/styles/main.scss":                   "a { color : red ; }",
	"src/styles/partials/_vars.scss":         "$x: 1;",
	"src/js/main.js":                         "//= parts/menu.js\nvar main = 1;\n",
	"src/js/parts/menu.js":                   "var menu = 2;\n",
	"src/images/icons/arrow.svg":             `<svg xmlns="http://www.w3.org/2000/svg"></svg>`,
	"src/images/favicon.ico":                 "ico",
	"src/fonts/roboto/regular.woff2":         "font",
	"src/php/mail.php":                       "<?php",
	"node_modules/jquery/dist/jquery.min.js": "jq",
	"build/stale.html":                       "old",
	"build/old/remove.me":                    "old",
}

func newProject(t *testing.T, extra map[string]string) (string, *config.Config) {
	t.Helper()

	root := t.TempDir()
	for _, files := range []map[string]string{sources, extra} {
		for name, content := range files {
			full := filepath.Join(root, filepath.FromSlash(name))
			require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
			require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		}
	}

	cfg, err := config.Load(root)
	require.NoError(t, err)
	cfg.Tools = config.Tools{
		Pug:            "cat",
		Sass:           "cat",
		Autoprefixer:   "cat",
		MediaQueries:   "cat",
		Gifsicle:       "cat",
		JpegRecompress: "cat",
		Jpegtran:       "cat",
		Pngquant:       "cat",
		Optipng:        "cat",
	}
	cfg.Cache.Path = filepath.Join(root, ".cache", "images.db")
	return root, cfg
}

func newPipeline(t *testing.T, root string, cfg *config.Config, notifier *notify.Recorder) *Pipeline {
	t.Helper()

	p, err := New(Options{
		Root:     root,
		Config:   cfg,
		Paths:    paths.Default(),
		Notifier: notifier,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Close()
	})
	return p
}

func buildTree(t *testing.T, root string) []string {
	t.Helper()

	files := []string{}
	buildDir := filepath.Join(root, "build")
	err := filepath.WalkDir(buildDir, func(item string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, err := filepath.Rel(buildDir, item)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)

	sort.Strings(files)
	return files
}

var expectedTree = []string{
	"about.html",
	"css/main.css",
	"fonts/roboto/regular.woff2",
	"images/favicon.ico",
	"images/icons/arrow.svg",
	"index.html",
	"js/main.js",
	"js/main.min.js",
	"libs/jquery.min.js",
	"mail.php",
}

func TestCleanBuildProducesExactTree(t *testing.T) {
	root, cfg := newProject(t, nil)
	p := newPipeline(t, root, cfg, new(notify.Recorder))

	report, err := p.Runner.Run(context.Background(), TaskBuild)
	require.NoError(t, err)
	assert.Equal(t, expectedTree, buildTree(t, root))
	assert.Empty(t, report.Recovered())

	outputs := report.Outputs()
	assert.Len(t, outputs, len(expectedTree))
	assert.Contains(t, outputs, filepath.Join(root, "build", "css", "main.css"))

	main, err := os.ReadFile(filepath.Join(root, "build", "js", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, "var menu = 2;\nvar main = 1;\n", string(main))
}

func TestBuildIsIdempotent(t *testing.T) {
	root, cfg := newProject(t, nil)
	p := newPipeline(t, root, cfg, new(notify.Recorder))

	require.NoError(t, p.Run(context.Background(), TaskBuild))
	first := map[string]string{}
	for _, item := range buildTree(t, root) {
		data, err := os.ReadFile(filepath.Join(root, "build", filepath.FromSlash(item)))
		require.NoError(t, err)
		first[item] = string(data)
	}

	require.NoError(t, p.Run(context.Background(), TaskBuild))
	assert.Equal(t, expectedTree, buildTree(t, root))
	for _, item := range buildTree(t, root) {
		data, err := os.ReadFile(filepath.Join(root, "build", filepath.FromSlash(item)))
		require.NoError(t, err)
		assert.Equal(t, first[item], string(data), item)
	}
}

func TestMalformedTemplateIsNotified(t *testing.T) {
	root, cfg := newProject(t, map[string]string{
		"src/pug/pages/broken.pug": "BROKEN",
	})
	cfg.Tools.Pug = `input=$(cat); case "$input" in *BROKEN*) echo "unexpected token" >&2; exit 1;; esac; printf '%s' "$input"`

	recorder := new(notify.Recorder)
	p := newPipeline(t, root, cfg, recorder)

	report, err := p.Runner.Run(context.Background(), TaskBuild)
	require.NoError(t, err)

	assert.Equal(t, expectedTree, buildTree(t, root))
	require.Len(t, report.Recovered(), 1)

	messages := recorder.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Pug", messages[0].Title)
	assert.Contains(t, messages[0].Message, "unexpected token")
}

func TestFailingCategoryDoesNotStopSiblings(t *testing.T) {
	root, cfg := newProject(t, map[string]string{
		"src/images/photo.png": "png",
	})
	cfg.Tools.Pngquant = `echo "pngquant crashed" >&2; exit 2`

	p := newPipeline(t, root, cfg, new(notify.Recorder))

	report, err := p.Runner.Run(context.Background(), TaskBuild)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pngquant crashed")

	res, ok := report.Result("image:build")
	require.True(t, ok)
	assert.Error(t, res.Err)

	tree := buildTree(t, root)
	for _, item := range []string{"index.html", "css/main.css", "js/main.min.js", "fonts/roboto/regular.woff2", "mail.php"} {
		assert.Contains(t, tree, item)
	}
	assert.NotContains(t, tree, "stale.html")
}

func TestSingleCategoryTask(t *testing.T) {
	root, cfg := newProject(t, nil)
	p := newPipeline(t, root, cfg, new(notify.Recorder))

	require.NoError(t, p.Run(context.Background(), "css:build", "js:build"))

	tree := buildTree(t, root)
	assert.Contains(t, tree, "css/main.css")
	assert.Contains(t, tree, "js/main.min.js")
	assert.Contains(t, tree, "stale.html")
	assert.NotContains(t, tree, "index.html")
}

func cacheEntries(t *testing.T, p *Pipeline) int {
	t.Helper()

	count := 0
	require.NoError(t, p.cache.Use(func(store *cache.Store) error {
		var err error
		count, err = store.Len()
		return err
	}))
	return count
}

func TestCacheClear(t *testing.T) {
	root, cfg := newProject(t, nil)
	p := newPipeline(t, root, cfg, new(notify.Recorder))

	require.NoError(t, p.Run(context.Background(), "image:build"))
	assert.Equal(t, 1, cacheEntries(t, p))
	assert.False(t, p.cache.IsOpen())

	require.NoError(t, p.Run(context.Background(), TaskCacheClear))
	assert.Zero(t, cacheEntries(t, p))
}

func TestTwoPipelinesShareTheCache(t *testing.T) {
	root, cfg := newProject(t, nil)
	first := newPipeline(t, root, cfg, new(notify.Recorder))
	second := newPipeline(t, root, cfg, new(notify.Recorder))

	require.NoError(t, first.Run(context.Background(), "image:build"))
	assert.Equal(t, 1, cacheEntries(t, second))

	started := time.Now()
	require.NoError(t, second.Run(context.Background(), TaskCacheClear))
	assert.Less(t, time.Since(started), time.Second)
	assert.Zero(t, cacheEntries(t, first))

	require.NoError(t, first.Run(context.Background(), TaskBuild))
	require.NoError(t, second.Run(context.Background(), "image:build"))
}

func TestWatchStreamsNewScriptToClients(t *testing.T) {
	root, cfg := newProject(t, nil)
	cfg.Watch.Lull = 50 * time.Millisecond

	runs := make(chan *buildsys.Report, 10)
	tasks := make(chan string, 10)
	p, err := New(Options{
		Root:     root,
		Config:   cfg,
		Paths:    paths.Default(),
		Notifier: new(notify.Recorder),
		OnWatchReport: func(task string, report *buildsys.Report) {
			tasks <- task
			runs <- report
		},
	})
	require.NoError(t, err)
	defer p.Close()

	ts := httptest.NewServer(p.Server.Handler(context.Background()))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+devserver.SocketPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return p.Server.Clients() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Runner.Run(ctx, TaskWatch)
		done <- err
	}()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watch didn't stop")
		}
	}()

	select {
	case <-p.WatchReady():
	case err := <-done:
		t.Fatalf("watch stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch didn't become ready")
	}

	full := filepath.Join(root, "src", "js", "new.js")
	require.NoError(t, os.WriteFile(full, []byte("var fresh = 1;\n"), 0o644))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var cmd devserver.Command
	require.NoError(t, conn.ReadJSON(&cmd))
	assert.Equal(t, devserver.CommandReload, cmd.Command)

	select {
	case task := <-tasks:
		assert.Equal(t, "js:build", task)
	case <-time.After(5 * time.Second):
		t.Fatal("no watch report")
	}
	report := <-runs
	res, ok := report.Result("js:build")
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Contains(t, report.Outputs(), filepath.Join(root, "build", "js", "new.min.js"))

	// nothing else arrives: neither a second run nor a second refresh
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	assert.Error(t, conn.ReadJSON(&cmd))
	assert.Len(t, tasks, 0)
}

func TestTaskListing(t *testing.T) {
	root, cfg := newProject(t, nil)
	p := newPipeline(t, root, cfg, new(notify.Recorder))

	assert.Equal(t, []string{
		"build", "cache:clear", "clean:build", "css:build", "fonts:build", "html:build", "image:build",
		"js:build", "lib:build", "php:build", "serve", "watch", "webserver",
	}, p.Tasks.Names())

	subs := p.Subscriptions()
	tasks := []string{}
	for _, sub := range subs {
		tasks = append(tasks, sub.Task)
	}
	assert.Equal(t, []string{"css:build", "fonts:build", "html:build", "image:build", "js:build", "php:build"}, tasks)
}

func TestMissingCategoryIsRejected(t *testing.T) {
	root, cfg := newProject(t, nil)

	_, err := New(Options{
		Root:   root,
		Config: cfg,
		Paths:  &paths.Config{BuildRoot: "build"},
	})
	require.Error(t, err)
}
