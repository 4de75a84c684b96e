package transform

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// matches "//= path/to/file.js" on its own line
var includeDirective = regexp.MustCompile(`^(\s*)//=\s*(\S+)\s*$`)

// inlineIncludes replaces every include directive in the given file with the content of the referenced
// file. Included files are processed recursively and paths are relative to the including file.
func inlineIncludes(filename string) ([]byte, error) {
	buf := bytes.Buffer{}
	err := inlineFile(&buf, filename, "", []string{})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inlineFile(buf *bytes.Buffer, filename, indent string, stack []string) error {
	filename = filepath.Clean(filename)
	for _, item := range stack {
		if item == filename {
			return eris.Errorf("include cycle: %s -> %s", strings.Join(stack, " -> "), filename)
		}
	}
	stack = append(stack, filename)

	content, err := os.ReadFile(filename)
	if err != nil {
		if len(stack) > 1 {
			return eris.Wrapf(err, "failed to include %s from %s", filename, stack[len(stack)-2])
		}
		return eris.Wrapf(err, "failed to read %s", filename)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		match := includeDirective.FindStringSubmatch(line)
		if match == nil {
			if line != "" {
				buf.WriteString(indent)
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
			continue
		}

		target := filepath.FromSlash(match[2])
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(filename), target)
		}

		err = inlineFile(buf, target, indent+match[1], stack)
		if err != nil {
			return err
		}
	}

	return scanner.Err()
}
