package buildsys

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskKind determines how a task is executed
type TaskKind int

const (
	// KindAction tasks call their Action
	KindAction TaskKind = iota
	// KindSeries tasks run their steps one after another and stop at the first failure
	KindSeries
	// KindParallel tasks start all of their steps at once and wait for all of them
	KindParallel
)

func (k TaskKind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindSeries:
		return "series"
	case KindParallel:
		return "parallel"
	}
	return fmt.Sprintf("TaskKind(%d)", int(k))
}

// Action performs the actual work of a task. The returned result may be nil.
type Action func(ctx context.Context) (*Result, error)

// Task is a resolved entry of a TaskList. Tasks are never modified after NewTaskList returns; the
// exported fields are for reading only.
type Task struct {
	Short  string
	Desc   string
	Hidden bool
	Kind   TaskKind
	Action Action

	steps []*Task
	deps  []*Task
}

// Steps returns a copy of the composition's members
func (t *Task) Steps() []*Task {
	return append([]*Task(nil), t.steps...)
}

// Deps returns a copy of the tasks that run before this one
func (t *Task) Deps() []*Task {
	return append([]*Task(nil), t.deps...)
}

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Short, t.Desc)
}

// FileError is a transformation error that was caught for a single file. The task that produced it
// continues with the remaining files.
type FileError struct {
	// Title names the failed transformation (i.e. "Pug" or "scss")
	Title string
	Path  string
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Title, e.Path, e.Err.Error())
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Result is the completion value of a single action task
type Result struct {
	Task      string
	Outputs   []string
	Recovered []*FileError
	Err       error
	Started   time.Time
	Finished  time.Time
}

// AddOutput records a written file
func (r *Result) AddOutput(path string) {
	r.Outputs = append(r.Outputs, path)
}

// Recover records a transformation error that didn't stop the task
func (r *Result) Recover(title, path string, err error) {
	r.Recovered = append(r.Recovered, &FileError{Title: title, Path: path, Err: err})
}

// Duration returns how long the task ran
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Report collects the results of all action tasks executed during one Runner.Run call in the order
// they completed.
type Report struct {
	lock    sync.Mutex
	results []*Result
}

func (r *Report) add(res *Result) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.results = append(r.results, res)
}

// Results returns a copy of the collected results
func (r *Report) Results() []*Result {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]*Result(nil), r.results...)
}

// Result returns the result of the named task if it ran
func (r *Report) Result(task string) (*Result, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, res := range r.results {
		if res.Task == task {
			return res, true
		}
	}
	return nil, false
}

// Outputs returns the sorted list of all files written by the reported tasks
func (r *Report) Outputs() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	seen := make(map[string]bool)
	outputs := make([]string, 0)
	for _, res := range r.results {
		for _, item := range res.Outputs {
			if !seen[item] {
				seen[item] = true
				outputs = append(outputs, item)
			}
		}
	}

	sort.Strings(outputs)
	return outputs
}

// Recovered returns every caught transformation error
func (r *Report) Recovered() []*FileError {
	r.lock.Lock()
	defer r.lock.Unlock()

	var errs []*FileError
	for _, res := range r.results {
		errs = append(errs, res.Recovered...)
	}
	return errs
}
