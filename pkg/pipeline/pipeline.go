// Package pipeline wires the asset transforms, the dev server and the watcher into the task graph.
package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/cache"
	"github.com/ngld/sitepipe/pkg/config"
	"github.com/ngld/sitepipe/pkg/devserver"
	"github.com/ngld/sitepipe/pkg/paths"
	"github.com/ngld/sitepipe/pkg/transform"
	"github.com/ngld/sitepipe/pkg/watch"
)

// Task names
const (
	TaskBuild      = "build"
	TaskClean      = "clean:build"
	TaskCacheClear = "cache:clear"
	TaskWebserver  = "webserver"
	TaskWatch      = "watch"
	TaskServe      = "serve"
)

// buildCategories are the categories the build task runs in parallel
var buildCategories = []string{paths.HTML, paths.CSS, paths.JS, paths.Fonts, paths.Lib, paths.Img, paths.PHP}

// Options configures a Pipeline
type Options struct {
	// Root is the project root
	Root     string
	Config   *config.Config
	Paths    *paths.Config
	Notifier buildsys.Notifier
	// Progress receives the image progress bar. nil hides it.
	Progress io.Writer
	// OnWatchReport is called after every run triggered by the watch task, once the dev server
	// clients have been told about the changes.
	OnWatchReport watch.ReportFunc
}

// Pipeline holds the task list of a project
type Pipeline struct {
	Tasks  *buildsys.TaskList
	Runner *buildsys.Runner
	Server *devserver.Server

	root  string
	cfg   *config.Config
	paths *paths.Config
	env   *transform.Env
	cache *cache.Handle

	onWatchReport watch.ReportFunc
	watchReady    chan struct{}
	readyOnce     sync.Once
}

// New validates the path configuration and registers all tasks
func New(opts Options) (*Pipeline, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve the project root")
	}

	err = opts.Paths.Validate(buildCategories...)
	if err != nil {
		return nil, err
	}

	store := cache.NewHandle(opts.Config.CachePath(root))
	p := &Pipeline{
		root:  root,
		cfg:   opts.Config,
		paths: opts.Paths,
		cache: store,
		env: &transform.Env{
			Root:       root,
			Paths:      opts.Paths,
			Tools:      opts.Config.Tools,
			Sourcemaps: opts.Config.Styles.Sourcemaps,
			Cache:      store,
		},
		Server: devserver.New(filepath.Join(root, filepath.FromSlash(opts.Paths.BuildRoot)), opts.Config.HTTP.Address),

		onWatchReport: opts.OnWatchReport,
		watchReady:    make(chan struct{}),
	}

	if opts.Config.Images.Progress {
		p.env.Progress = opts.Progress
	}

	p.Tasks, err = buildsys.NewTaskList(p.decls()...)
	if err != nil {
		return nil, err
	}

	p.Runner = buildsys.NewRunner(p.Tasks, opts.Notifier)
	return p, nil
}

func (p *Pipeline) decls() []buildsys.Decl {
	decls := []buildsys.Decl{
		buildsys.Define(TaskClean, "Delete everything in the build directory", p.clean),
		buildsys.Define(TaskCacheClear, "Empty the image cache", p.clearCache),
		buildsys.Define(TaskWebserver, "Serve the build directory with live reload", p.serve),
		buildsys.Define(TaskWatch, "Rebuild categories when their sources change", p.watch),
	}

	categoryTasks := make([]buildsys.Decl, 0, len(buildCategories))
	for _, name := range buildCategories {
		categoryTasks = append(categoryTasks, buildsys.Ref(p.paths.Must(name).Task))
	}

	for _, cat := range p.paths.Categories() {
		fn := transform.ForCategory(cat.Name)
		decls = append(decls, buildsys.Define(cat.Task, "Build the "+cat.Name+" assets", transform.Bind(fn, p.env, cat)))
	}

	return append(decls,
		buildsys.Series(TaskBuild, "Clean the build directory and build all assets",
			buildsys.Ref(TaskClean),
			buildsys.Parallel("", "", categoryTasks...),
		),
		buildsys.Series(TaskServe, "Build everything, then serve and watch",
			buildsys.Ref(TaskBuild),
			buildsys.Parallel("", "", buildsys.Ref(TaskWebserver), buildsys.Ref(TaskWatch)),
		),
	)
}

// Run executes the given tasks one after another
func (p *Pipeline) Run(ctx context.Context, names ...string) error {
	for _, name := range names {
		_, err := p.Runner.Run(ctx, name)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pipeline. The image cache is only held open while a task uses it.
func (p *Pipeline) Close() error {
	return nil
}

func (p *Pipeline) clean(ctx context.Context) (*buildsys.Result, error) {
	return transform.Clean(ctx, p.env)
}

func (p *Pipeline) clearCache(ctx context.Context) (*buildsys.Result, error) {
	return nil, p.cache.Use(func(store *cache.Store) error {
		return store.Clear()
	})
}

func (p *Pipeline) serve(ctx context.Context) (*buildsys.Result, error) {
	return nil, p.Server.Start(ctx)
}

// Subscriptions returns one watch subscription per category with watch patterns
func (p *Pipeline) Subscriptions() []watch.Subscription {
	subs := make([]watch.Subscription, 0)
	for _, cat := range p.paths.Categories() {
		if len(cat.Watch) > 0 {
			subs = append(subs, watch.Subscription{Task: cat.Task, Patterns: cat.Watch})
		}
	}
	return subs
}

func (p *Pipeline) watch(ctx context.Context) (*buildsys.Result, error) {
	w := watch.New(p.root, p.Subscriptions(), p.Runner.Run)
	w.Lull = p.cfg.Watch.Lull
	w.OnReport = func(task string, report *buildsys.Report) {
		p.Server.Stream(report.Outputs())
		if p.onWatchReport != nil {
			p.onWatchReport(task, report)
		}
	}

	go func() {
		select {
		case <-w.Ready():
			p.readyOnce.Do(func() {
				close(p.watchReady)
			})
		case <-ctx.Done():
		}
	}()

	return nil, w.Start(ctx)
}

// WatchReady is closed once the first watch task watches all its directories
func (p *Pipeline) WatchReady() <-chan struct{} {
	return p.watchReady
}
