package buildsys

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Notifier receives caught transformation errors
type Notifier interface {
	Notify(title, message string) error
}

// Runner executes tasks from a TaskList
type Runner struct {
	Tasks    *TaskList
	Notifier Notifier
}

// NewRunner creates a runner for the given task list. notifier may be nil.
func NewRunner(tasks *TaskList, notifier Notifier) *Runner {
	return &Runner{Tasks: tasks, Notifier: notifier}
}

// Run executes the named task and returns the results of every action that ran, even if the task
// failed.
func (r *Runner) Run(ctx context.Context, name string) (*Report, error) {
	task, found := r.Tasks.Get(name)
	if !found {
		return nil, eris.Errorf("Task %s not found", name)
	}

	return r.RunTask(ctx, task)
}

// RunTask executes the given task
func (r *Runner) RunTask(ctx context.Context, task *Task) (*Report, error) {
	report := new(Report)
	err := r.runTaskInternal(ctx, task, report)
	return report, err
}

func (r *Runner) runTaskInternal(ctx context.Context, task *Task, report *Report) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, dep := range task.deps {
		err := r.runTaskInternal(ctx, dep, report)
		if err != nil {
			return eris.Wrapf(err, "Task %s failed due to its dependency %s", task.Short, dep.Short)
		}
	}

	switch task.Kind {
	case KindAction:
		return r.runAction(ctx, task, report)
	case KindSeries:
		for _, step := range task.steps {
			err := r.runTaskInternal(ctx, step, report)
			if err != nil {
				return eris.Wrapf(err, "Task %s failed due to its step %s", task.Short, step.Short)
			}
		}
		return nil
	case KindParallel:
		return r.runParallel(ctx, task, report)
	}

	return eris.Errorf("task %s has unknown kind %v", task.Short, task.Kind)
}

func (r *Runner) runAction(ctx context.Context, task *Task, report *Report) error {
	logger := Log(ctx).With().Str("task", task.Short).Logger()
	ctx = WithLogger(ctx, &logger)

	logger.Debug().Msg("starting")
	started := time.Now()
	result, err := task.Action(ctx)
	if result == nil {
		result = new(Result)
	}

	result.Task = task.Short
	result.Err = err
	result.Started = started
	result.Finished = time.Now()
	report.add(result)

	for _, item := range result.Recovered {
		logger.Error().Str("path", item.Path).Err(item.Err).Msgf("%s failed", item.Title)

		if r.Notifier != nil {
			nErr := r.Notifier.Notify(item.Title, item.Err.Error())
			if nErr != nil {
				logger.Warn().Err(nErr).Msg("failed to send notification")
			}
		}
	}

	if err != nil {
		return err
	}

	logger.Info().Msgf("finished after %s", result.Duration().Round(time.Millisecond))
	return nil
}

func (r *Runner) runParallel(ctx context.Context, task *Task, report *Report) error {
	// A plain errgroup.Group doesn't cancel the remaining members when one of them fails.
	var group errgroup.Group
	var lock sync.Mutex
	var errs error

	for _, step := range task.steps {
		step := step
		group.Go(func() error {
			err := r.runTaskInternal(ctx, step, report)
			if err != nil {
				// siblings like watch may never return
				Log(ctx).Error().Str("task", step.Short).Err(err).
					Msgf("Task %s failed while %s keeps running", step.Short, task.Short)

				lock.Lock()
				errs = multierr.Append(errs, eris.Wrapf(err, "Task %s failed", step.Short))
				lock.Unlock()
			}
			return nil
		})
	}

	_ = group.Wait()
	return errs
}
