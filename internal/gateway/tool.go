package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/fsops"
)

// maxTreeDisplay bounds how many entries a rendered structure listing shows.
const maxTreeDisplay = 100

// ToolRequest is the agent-facing envelope: the operation field selects the
// action, the remaining fields parameterize it.
type ToolRequest struct {
	Operation string            `json:"operation"`
	Path      string            `json:"path,omitempty"`
	Depth     int               `json:"depth,omitempty"`
	LineStart int               `json:"line_start,omitempty"`
	LineEnd   int               `json:"line_end,omitempty"`
	Edits     []fsops.Edit      `json:"edits,omitempty"`
	Command   string            `json:"command,omitempty"`
	Timeout   int               `json:"timeout,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// RunTool executes one tool call and renders the outcome as the plain-text
// reply the agent sees. Refusals and failures are folded into the reply
// instead of being returned as errors.
func (a *Adapter) RunTool(ctx context.Context, userID string, req ToolRequest) string {
	switch req.Operation {
	case "get_structure":
		res, err := a.Structure(ctx, userID, fsops.StructureRequest{
			Path:  req.Path,
			Depth: req.Depth,
		})
		if err != nil {
			return "Error: " + err.Error()
		}
		return FormatStructure(res)

	case "read_file":
		if req.Path == "" {
			return "Error: path is required for read_file"
		}
		res, err := a.Read(ctx, userID, fsops.ReadRequest{
			Path:      req.Path,
			LineStart: req.LineStart,
			LineEnd:   req.LineEnd,
		})
		if err != nil {
			return "Error: " + err.Error()
		}
		return FormatRead(res)

	case "edit_file":
		if req.Path == "" {
			return "Error: path is required for edit_file"
		}
		if len(req.Edits) == 0 {
			return "Error: edits array is required for edit_file"
		}
		res, err := a.Edit(ctx, userID, fsops.EditRequest{
			Path:  req.Path,
			Edits: req.Edits,
		})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return "Operation cancelled: User did not approve file edit"
			}
			if errors.Is(err, ErrBlocked) {
				return fmt.Sprintf("Error: Editing this file is blocked: %s", req.Path)
			}
			return "Error: " + err.Error()
		}
		return FormatEdit(res)

	case "execute":
		if req.Command == "" {
			return "Error: command is required for execute"
		}
		res, err := a.Execute(ctx, userID, executor.Request{
			Command:    req.Command,
			TimeoutSec: req.Timeout,
			Cwd:        req.Cwd,
			Env:        req.Env,
		})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return "Operation cancelled: User did not approve command"
			}
			if errors.Is(err, ErrBlocked) {
				return fmt.Sprintf("Error: Command blocked for security: %s", req.Command)
			}
			return "Error: " + err.Error()
		}
		return FormatExecute(req.Command, res)

	default:
		return fmt.Sprintf("Unknown operation: %s", req.Operation)
	}
}

// FormatStructure renders a directory listing for the agent.
func FormatStructure(res *fsops.StructureResult) string {
	lines := []string{
		fmt.Sprintf("Directory: %s", res.Root),
		fmt.Sprintf("(%d files, %d directories)", res.Stats.TotalFiles, res.Stats.TotalDirs),
		"",
	}

	shown := res.Tree
	if len(shown) > maxTreeDisplay {
		shown = shown[:maxTreeDisplay]
	}
	for _, n := range shown {
		prefix := "📄 "
		if n.Type == "dir" {
			prefix = "📁 "
		}
		entry := prefix + n.Path
		if n.Size != nil && *n.Size > 0 {
			entry += fmt.Sprintf(" (%s)", formatSize(*n.Size))
		}
		lines = append(lines, entry)
	}
	if len(res.Tree) > maxTreeDisplay {
		lines = append(lines, fmt.Sprintf("... and %d more entries", len(res.Tree)-maxTreeDisplay))
	}

	return strings.Join(lines, "\n")
}

// FormatRead renders file content with a header line.
func FormatRead(res *fsops.ReadResult) string {
	if res.IsBinary {
		return fmt.Sprintf("[Binary file: %s]", res.Path)
	}

	header := fmt.Sprintf("File: %s (%d/%d lines)", res.Path, res.LinesReturned, res.TotalLines)
	if res.Truncated {
		header += " [truncated]"
	}
	return header + "\n" + strings.Repeat("=", 40) + "\n" + res.Content
}

// FormatEdit renders an edit summary followed by the diff preview.
func FormatEdit(res *fsops.EditResult) string {
	return fmt.Sprintf("Applied %d edits to %s (%d lines)\n\n%s",
		res.EditsApplied, res.Path, res.NewLineCount, res.DiffPreview)
}

// FormatExecute renders command output with exit status.
func FormatExecute(command string, res *executor.Result) string {
	lines := []string{
		fmt.Sprintf("Command: %s", command),
		fmt.Sprintf("Exit code: %d (%dms)", res.ExitCode, res.DurationMs),
	}

	if res.Truncated {
		lines = append(lines, "[Output truncated]")
	}
	if res.Stdout != "" {
		lines = append(lines, "\n--- stdout ---", res.Stdout)
	}
	if res.Stderr != "" {
		lines = append(lines, "\n--- stderr ---", res.Stderr)
	}

	return strings.Join(lines, "\n")
}

func formatSize(size int64) string {
	if size <= 0 {
		return ""
	}
	s := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if s < 1024 {
			return fmt.Sprintf("%.1f%s", s, unit)
		}
		s /= 1024
	}
	return fmt.Sprintf("%.1fTB", s)
}
