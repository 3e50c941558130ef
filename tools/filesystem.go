package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gaialab/gaia/config"
	"github.com/gaialab/gaia/errors"
)

// isPathRestricted checks a path against a list of doublestar globs.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern %q", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// ReadFileTool reads a file, subject to the hidden-path globs.
type ReadFileTool struct {
	FSAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file."
}

func (t *ReadFileTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Type: "string", Required: true, Description: "Path of the file to read."},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("'path' argument must be a string")
	}

	hidden, err := isPathRestricted(path, t.FSAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path %q is hidden", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file %q", path)
	}
	return string(content), nil
}

// WriteFileTool writes a file, subject to the hidden and read-only globs.
type WriteFileTool struct {
	FSAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely."
}

func (t *WriteFileTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Type: "string", Required: true, Description: "Path of the file to write."},
		{Name: "content", Type: "string", Required: true, Description: "Content to write."},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return "", errors.New("'path' and 'content' arguments must be strings")
	}

	for name, patterns := range map[string][]string{
		"hidden":    t.FSAccess.Hidden,
		"read-only": t.FSAccess.ReadOnly,
	} {
		restricted, err := isPathRestricted(path, patterns)
		if err != nil {
			return "", err
		}
		if restricted {
			return "", errors.New("access denied: path %q is %s", path, name)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write file %q", path)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// ListDirTool lists directory entries, one per line, directories suffixed
// with a slash.
type ListDirTool struct {
	FSAccess *config.FilesystemAccess
}

func (t *ListDirTool) Name() string { return "list_dir" }
func (t *ListDirTool) Description() string {
	return "Lists the entries of a directory."
}

func (t *ListDirTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Type: "string", Required: true, Description: "Directory to list. Use '.' for the working directory."},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("'path' argument must be a string")
	}

	hidden, err := isPathRestricted(path, t.FSAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path %q is hidden", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list directory %q", path)
	}

	var b strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
