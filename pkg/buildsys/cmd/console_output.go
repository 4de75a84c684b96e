package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DebugEnv enables stack traces and raw event fields in the console output
const DebugEnv = "SITEPIPE_DEBUG"

// ConsoleWriter renders zerolog events as colored, task-prefixed lines
type ConsoleWriter struct {
	Out io.Writer
	// Root is stripped from paths in messages
	Root    string
	NoColor bool

	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer, root string) *ConsoleWriter {
	return &ConsoleWriter{Out: out, Root: root}
}

func (w *ConsoleWriter) simplify(msg, path string) string {
	if w.Root == "" || path == "" {
		return msg
	}

	relPath, err := filepath.Rel(w.Root, path)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return msg
	}
	return strings.ReplaceAll(msg, path, relPath)
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if task, ok := evt["task"].(string); ok {
		w.buffer.WriteString(task + ": ")
	}

	if title, ok := evt["title"].(string); ok {
		w.buffer.WriteString("[" + title + "] ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	for _, field := range []string{"path", "file"} {
		path, ok := evt[field].(string)
		if !ok {
			continue
		}

		if strings.Contains(msg, path) {
			msg = w.simplify(msg, path)
		} else {
			msg = w.simplify(path, path) + ": " + msg
		}
	}
	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if os.Getenv(DebugEnv) != "" {
		w.buffer.WriteString("\n")
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")
	colorize := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: w.NoColor,
		Reset:   true,
	}
	_, err = io.WriteString(w.Out, colorize.Color(w.buffer.String()))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv(DebugEnv) != "")
	}
}
