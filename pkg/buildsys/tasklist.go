package buildsys

import (
	"sort"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
)

// Decl declares a task for NewTaskList. Use Define, Series, Parallel and Ref to create one.
type Decl struct {
	short  string
	desc   string
	hidden bool
	kind   TaskKind
	action Action
	steps  []Decl
	deps   []string
	ref    string
}

// Define declares an action task. The named deps run (in order) before the action.
func Define(short, desc string, action Action, deps ...string) Decl {
	return Decl{short: short, desc: desc, kind: KindAction, action: action, deps: deps}
}

// Series declares a sequential composition. An empty name creates an anonymous, hidden task.
func Series(short, desc string, steps ...Decl) Decl {
	return Decl{short: short, desc: desc, kind: KindSeries, steps: steps}
}

// Parallel declares a parallel composition. An empty name creates an anonymous, hidden task.
func Parallel(short, desc string, steps ...Decl) Decl {
	return Decl{short: short, desc: desc, kind: KindParallel, steps: steps}
}

// Ref refers to a task declared elsewhere in the same list
func Ref(name string) Decl {
	return Decl{ref: name}
}

// Hide excludes the task from the task listing
func (d Decl) Hide() Decl {
	d.hidden = true
	return d
}

// TaskList maps short names to each registered task. It can't be modified once created.
type TaskList struct {
	tasks map[string]*Task
}

type taskListBuilder struct {
	tasks map[string]*Task
	decls map[string]Decl
}

// NewTaskList registers the given declarations and resolves all references between them.
// Unknown references, duplicate names and cycles are reported as errors.
func NewTaskList(decls ...Decl) (*TaskList, error) {
	b := taskListBuilder{
		tasks: make(map[string]*Task),
		decls: make(map[string]Decl),
	}

	for _, decl := range decls {
		if decl.ref != "" {
			return nil, eris.Errorf("reference %s can't be declared as a top-level task", decl.ref)
		}

		if decl.short == "" {
			return nil, eris.New("top-level tasks need a name")
		}

		err := b.register(decl)
		if err != nil {
			return nil, err
		}
	}

	for name, decl := range b.decls {
		err := b.resolve(b.tasks[name], decl)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve task %s", name)
		}
	}

	list := &TaskList{tasks: b.tasks}
	err := list.checkCycles()
	if err != nil {
		return nil, err
	}

	return list, nil
}

// register creates the task shells for decl and all named nested declarations
func (b *taskListBuilder) register(decl Decl) error {
	if decl.ref != "" {
		return nil
	}

	if decl.short == "" {
		decl.short = "auto#" + nanoid.New()
		decl.hidden = true
	}

	if _, present := b.tasks[decl.short]; present {
		return eris.Errorf("task %s was declared twice", decl.short)
	}

	if decl.kind == KindAction && decl.action == nil {
		return eris.Errorf("task %s has no action", decl.short)
	}

	b.tasks[decl.short] = &Task{
		Short:  decl.short,
		Desc:   decl.desc,
		Hidden: decl.hidden,
		Kind:   decl.kind,
		Action: decl.action,
	}
	b.decls[decl.short] = decl

	for idx, step := range decl.steps {
		if step.ref == "" && step.short == "" {
			// anonymous steps get their generated name here so that resolve() can find them again
			step.short = "auto#" + nanoid.New()
			step.hidden = true
			decl.steps[idx] = step
		}

		err := b.register(step)
		if err != nil {
			return err
		}
	}

	return nil
}

func (b *taskListBuilder) lookup(name string) (*Task, error) {
	task, ok := b.tasks[name]
	if !ok {
		return nil, eris.Errorf("task %s not found", name)
	}
	return task, nil
}

func (b *taskListBuilder) resolve(task *Task, decl Decl) error {
	task.steps = make([]*Task, 0, len(decl.steps))
	for _, step := range decl.steps {
		name := step.ref
		if name == "" {
			name = step.short
		}

		ref, err := b.lookup(name)
		if err != nil {
			return err
		}

		task.steps = append(task.steps, ref)
	}

	task.deps = make([]*Task, 0, len(decl.deps))
	for _, dep := range decl.deps {
		ref, err := b.lookup(dep)
		if err != nil {
			return eris.Wrapf(err, "unknown dependency of %s", task.Short)
		}

		task.deps = append(task.deps, ref)
	}

	return nil
}

func (l *TaskList) checkCycles() error {
	// 0 = unvisited, 1 = in progress, 2 = done
	state := make(map[*Task]int, len(l.tasks))

	var visit func(task *Task) error
	visit = func(task *Task) error {
		switch state[task] {
		case 1:
			return eris.Errorf("task %s is part of a cycle", task.Short)
		case 2:
			return nil
		}

		state[task] = 1
		for _, list := range [][]*Task{task.deps, task.steps} {
			for _, next := range list {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		state[task] = 2
		return nil
	}

	for _, name := range l.allNames() {
		if err := visit(l.tasks[name]); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the named task
func (l *TaskList) Get(name string) (*Task, bool) {
	task, ok := l.tasks[name]
	return task, ok
}

// Names returns the sorted names of all visible tasks
func (l *TaskList) Names() []string {
	names := make([]string, 0, len(l.tasks))
	for name, task := range l.tasks {
		if !task.Hidden {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

func (l *TaskList) allNames() []string {
	names := make([]string, 0, len(l.tasks))
	for name := range l.tasks {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
