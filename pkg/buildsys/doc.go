// Package buildsys implements the task graph used by sitepipe: an immutable list of named tasks,
// sequential and parallel compositions of them and a runner that executes them and collects
// their results.
// External tools are executed through mvdan.cc/sh so that command lines behave the same on
// every platform.
package buildsys
