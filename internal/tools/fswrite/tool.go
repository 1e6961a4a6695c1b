// Package fswrite implements the fs.write built-in tool.
package fswrite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/capsule-rt/capsule/internal/domain/tool"
)

const schema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"content": {"type": "string"},
		"encoding": {"type": "string", "enum": ["utf-8", "binary"]},
		"append": {"type": "boolean"}
	},
	"required": ["path", "content"]
}`

// Tool writes a file under WorkingDir. Parent directories are created only
// when AllowedParents says the Policy Engine's allow_paths already admits
// that directory — creating directories the policy never explicitly
// allowed would let a write silently escape the intended tree.
type Tool struct {
	WorkingDir     string
	AllowedParents func(dir string) bool
}

// New builds an fs.write Tool rooted at workingDir. allowedParents reports
// whether dir is covered by the active policy's allow_paths; pass nil to
// never auto-create parent directories.
func New(workingDir string, allowedParents func(dir string) bool) *Tool {
	return &Tool{WorkingDir: workingDir, AllowedParents: allowedParents}
}

func (t *Tool) Name() string            { return "fs.write" }
func (t *Tool) Description() string     { return "Write content to a file." }
func (t *Tool) Schema() json.RawMessage { return json.RawMessage(schema) }

func (t *Tool) Execute(ctx context.Context, args map[string]any) tool.Output {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return tool.Output{Success: false, Error: "args.path is missing or not a string"}
	}
	content, ok := args["content"].(string)
	if !ok {
		return tool.Output{Success: false, Error: "args.content is missing or not a string"}
	}
	appendMode, _ := args["append"].(bool)

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.WorkingDir, path)
	}

	dir := filepath.Dir(full)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if t.AllowedParents == nil || !t.AllowedParents(dir) {
			return tool.Output{Success: false, Error: fmt.Sprintf("parent directory %s does not exist and is not covered by allow_paths", dir)}
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return tool.Output{Success: false, Error: fmt.Sprintf("create parent directory: %v", err)}
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return tool.Output{Success: false, Error: fmt.Sprintf("open %s: %v", path, err)}
	}
	defer f.Close()

	n, err := f.WriteString(content)
	if err != nil {
		return tool.Output{Success: false, Error: fmt.Sprintf("write %s: %v", path, err)}
	}

	return tool.Output{
		Success: true,
		Data: map[string]any{
			"bytes_written": n,
			"path":          path,
		},
	}
}
