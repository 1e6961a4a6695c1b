// Package fsread implements the fs.read built-in tool.
package fsread

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/capsule-rt/capsule/internal/domain/tool"
)

const schema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"encoding": {"type": "string", "enum": ["utf-8", "binary"]}
	},
	"required": ["path"]
}`

// Tool reads a file from WorkingDir-relative paths already approved by the
// Policy Engine. It does not re-check allow/deny rules; it trusts that a
// call only reaches Execute once the engine has allowed it. MaxSizeBytes is
// the one piece of policy it does enforce itself, since the engine only
// sees the call's arguments and has no file to stat.
type Tool struct {
	WorkingDir   string
	MaxSizeBytes uint64 // 0 means unbounded.
}

// New builds a fs.read Tool rooted at workingDir. maxSizeBytes is the
// active policy's fs.read max_size_bytes (0 for unbounded), checked via
// os.Stat before the file is opened so an oversized read is refused
// without ever reading its content into memory.
func New(workingDir string, maxSizeBytes uint64) *Tool {
	return &Tool{WorkingDir: workingDir, MaxSizeBytes: maxSizeBytes}
}

func (t *Tool) Name() string        { return "fs.read" }
func (t *Tool) Description() string { return "Read a file's contents." }
func (t *Tool) Schema() json.RawMessage { return json.RawMessage(schema) }

func (t *Tool) Execute(ctx context.Context, args map[string]any) tool.Output {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return tool.Output{Success: false, Error: "args.path is missing or not a string"}
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.WorkingDir, path)
	}

	if t.MaxSizeBytes > 0 {
		info, err := os.Stat(full)
		if err != nil {
			return tool.Output{Success: false, Error: fmt.Sprintf("stat %s: %v", path, err)}
		}
		if uint64(info.Size()) > t.MaxSizeBytes {
			return tool.Output{Success: false, Error: fmt.Sprintf("%s is %d bytes, exceeds max_size_bytes %d", path, info.Size(), t.MaxSizeBytes)}
		}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return tool.Output{Success: false, Error: fmt.Sprintf("read %s: %v", path, err)}
	}

	encoding := "utf-8"
	var content any = string(data)
	if requested, _ := args["encoding"].(string); requested == "binary" || !utf8.Valid(data) {
		encoding = "binary"
		content = data
	}

	return tool.Output{
		Success: true,
		Data: map[string]any{
			"content":    content,
			"size_bytes": len(data),
			"encoding":   encoding,
		},
	}
}
