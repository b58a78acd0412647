// Package fsops implements the file surface of the gateway: line-oriented
// reads, atomic batch edits with diff previews, and structure queries served
// from the tree index. Every path goes through the workspace validator
// before any filesystem access.
package fsops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/wardenhq/warden/internal/indexer"
	"github.com/wardenhq/warden/internal/workspace"
)

// BinaryContentSentinel replaces file content in read responses when the
// file fails the text sniff.
const BinaryContentSentinel = "[Binary file - content not displayed]"

const maxDiffLines = 50

var (
	ErrNotFound     = errors.New("file not found")
	ErrIsDirectory  = errors.New("path is a directory, not a file")
	ErrTooLarge     = errors.New("file too large")
	ErrInvalidRange = errors.New("invalid line range")
	ErrInvalidEdit  = errors.New("invalid edit operation")
)

// TreeIndex is the slice of the indexer the structure endpoint needs.
type TreeIndex interface {
	Select(q indexer.Query) ([]indexer.Entry, error)
	Counts() (files int, dirs int, err error)
}

// Service executes validated filesystem operations inside the workspace.
type Service struct {
	val            *workspace.Validator
	index          TreeIndex
	maxFileSize    int64
	maxOutputLines int
}

// New creates a Service bound to the given validator and tree index.
func New(val *workspace.Validator, index TreeIndex, maxFileSize int64, maxOutputLines int) *Service {
	return &Service{
		val:            val,
		index:          index,
		maxFileSize:    maxFileSize,
		maxOutputLines: maxOutputLines,
	}
}

// WithValidator returns a copy of the Service using a different validator,
// used to apply per-user blocklist overlays without rebuilding the service.
func (s *Service) WithValidator(val *workspace.Validator) *Service {
	clone := *s
	clone.val = val
	return &clone
}

// ReadRequest selects a file and an optional 1-indexed inclusive line range.
// Zero values mean "from the first line" and "to the last line".
type ReadRequest struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
}

// ReadResult is the outcome of a file read.
type ReadResult struct {
	Success       bool   `json:"success"`
	Path          string `json:"path"`
	Content       string `json:"content"`
	TotalLines    int    `json:"total_lines"`
	LinesReturned int    `json:"lines_returned"`
	Truncated     bool   `json:"truncated"`
	IsBinary      bool   `json:"is_binary"`
}

// Read returns file content within the requested line range. Binary files
// yield a sentinel instead of content; oversized files are refused.
func (s *Service) Read(req ReadRequest) (*ReadResult, error) {
	if req.LineStart < 0 || req.LineEnd < 0 {
		return nil, fmt.Errorf("%w: negative line numbers", ErrInvalidRange)
	}

	abs, err := s.val.Validate(req.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, req.Path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", req.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, req.Path)
	}
	if info.Size() > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrTooLarge, info.Size(), s.maxFileSize)
	}

	binary, err := workspace.IsBinary(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to sniff %s: %w", req.Path, err)
	}
	if binary {
		return &ReadResult{
			Success:  true,
			Path:     req.Path,
			Content:  BinaryContentSentinel,
			IsBinary: true,
		}, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Path, err)
	}
	lines := splitLines(strings.ToValidUTF8(string(data), "�"))
	total := len(lines)

	start := req.LineStart
	if start == 0 {
		start = 1
	}
	end := req.LineEnd
	if end == 0 {
		end = total
	}

	idx := start - 1
	if idx > total {
		idx = total
	}
	if end < idx {
		end = idx
	}
	if end > total {
		end = total
	}

	selected := lines[idx:end]
	truncated := len(selected) >= s.maxOutputLines
	if truncated {
		selected = selected[:s.maxOutputLines]
	}

	return &ReadResult{
		Success:       true,
		Path:          req.Path,
		Content:       strings.Join(selected, ""),
		TotalLines:    total,
		LinesReturned: len(selected),
		Truncated:     truncated,
	}, nil
}

// Edit actions.
const (
	ActionReplace = "replace"
	ActionInsert  = "insert"
	ActionDelete  = "delete"
)

// Edit is one line-based operation. LineStart is 1-indexed; LineEnd is
// inclusive and defaults to LineStart. Content applies to replace/insert.
type Edit struct {
	Action    string `json:"action"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end,omitempty"`
	Content   string `json:"content,omitempty"`
}

// EditRequest is an ordered batch of edits applied atomically to one file.
type EditRequest struct {
	Path            string `json:"path"`
	Edits           []Edit `json:"edits"`
	CreateIfMissing bool   `json:"create_if_missing,omitempty"`
}

// EditResult is the outcome of a file edit.
type EditResult struct {
	Success      bool   `json:"success"`
	Path         string `json:"path"`
	EditsApplied int    `json:"edits_applied"`
	NewLineCount int    `json:"new_line_count"`
	DiffPreview  string `json:"diff_preview"`
}

// Edit applies the batch to an in-memory copy and only then overwrites the
// file, so a failing edit leaves the file untouched. Edits are applied in
// descending line order so earlier indices stay valid regardless of the
// order they were supplied in.
func (s *Service) Edit(req EditRequest) (*EditResult, error) {
	abs, err := s.val.ValidateForWrite(req.Path)
	if err != nil {
		return nil, err
	}
	if err := validateEdits(req.Edits); err != nil {
		return nil, err
	}

	var original []string
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		if !req.CreateIfMissing {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, req.Path)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat %s: %w", req.Path, err)
	case info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, req.Path)
	default:
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", req.Path, err)
		}
		original = splitLines(string(data))
	}

	updated := applyEdits(original, req.Edits)

	preview, err := diffPreview(original, updated, req.Path)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(abs, []byte(strings.Join(updated, "")), 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", req.Path, err)
	}

	return &EditResult{
		Success:      true,
		Path:         req.Path,
		EditsApplied: len(req.Edits),
		NewLineCount: len(updated),
		DiffPreview:  preview,
	}, nil
}

func validateEdits(edits []Edit) error {
	if len(edits) == 0 {
		return fmt.Errorf("%w: no edits provided", ErrInvalidEdit)
	}
	for i, e := range edits {
		switch e.Action {
		case ActionReplace, ActionInsert, ActionDelete:
		default:
			return fmt.Errorf("%w: unknown action %q (edit %d)", ErrInvalidEdit, e.Action, i)
		}
		if e.LineStart < 1 {
			return fmt.Errorf("%w: line_start must be >= 1 (edit %d)", ErrInvalidEdit, i)
		}
		if e.LineEnd != 0 && e.LineEnd < 1 {
			return fmt.Errorf("%w: line_end must be >= 1 (edit %d)", ErrInvalidEdit, i)
		}
	}
	return nil
}

func applyEdits(original []string, edits []Edit) []string {
	updated := make([]string, len(original))
	copy(updated, original)

	ordered := make([]Edit, len(edits))
	copy(ordered, edits)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LineStart > ordered[j].LineStart
	})

	for _, e := range ordered {
		idx := e.LineStart - 1
		end := e.LineEnd
		if end == 0 {
			end = e.LineStart
		}
		switch e.Action {
		case ActionDelete:
			updated = splice(updated, idx, end, nil)
		case ActionReplace:
			updated = splice(updated, idx, end, contentLines(e.Content))
		case ActionInsert:
			updated = splice(updated, idx, idx, contentLines(e.Content))
		}
	}
	return updated
}

// splice replaces updated[start:end] with repl, clamping both bounds the
// way Python slice assignment does.
func splice(lines []string, start, end int, repl []string) []string {
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	if end < start {
		end = start
	}
	if end > len(lines) {
		end = len(lines)
	}
	out := make([]string, 0, len(lines)-(end-start)+len(repl))
	out = append(out, lines[:start]...)
	out = append(out, repl...)
	out = append(out, lines[end:]...)
	return out
}

// contentLines splits replacement content into newline-terminated lines.
func contentLines(content string) []string {
	lines := splitLines(content)
	if len(lines) > 0 && !strings.HasSuffix(lines[len(lines)-1], "\n") {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

// splitLines splits keeping line terminators, so joining with "" restores
// the original text byte for byte.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func diffPreview(original, updated []string, rel string) (string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        terminated(original),
		B:        terminated(updated),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render diff: %w", err)
	}
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return "", nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > maxDiffLines {
		lines = append(lines[:maxDiffLines], "... (diff truncated)")
	}
	return strings.Join(lines, "\n"), nil
}

// terminated returns a copy whose last line ends in a newline so the diff
// renderer never glues hunks together.
func terminated(lines []string) []string {
	if len(lines) == 0 || strings.HasSuffix(lines[len(lines)-1], "\n") {
		return lines
	}
	out := make([]string, len(lines))
	copy(out, lines)
	out[len(out)-1] += "\n"
	return out
}

// StructureRequest selects a subtree view. Depth defaults to 2 and is
// clamped to [1..5].
type StructureRequest struct {
	Path          string `json:"path"`
	Depth         int    `json:"depth,omitempty"`
	IncludeHidden bool   `json:"include_hidden,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
}

// TreeNode is one entry in a structure response. Size is only present for
// files.
type TreeNode struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

// StructureStats reports whole-workspace totals alongside the returned
// entry count.
type StructureStats struct {
	TotalFiles int `json:"total_files"`
	TotalDirs  int `json:"total_dirs"`
	Returned   int `json:"returned"`
}

// StructureResult is the outcome of a structure query.
type StructureResult struct {
	Success bool           `json:"success"`
	Root    string         `json:"root"`
	Tree    []TreeNode     `json:"tree"`
	Stats   StructureStats `json:"stats"`
}

// Structure serves a directory view from the tree index.
func (s *Service) Structure(req StructureRequest) (*StructureResult, error) {
	depth := req.Depth
	if depth == 0 {
		depth = 2
	}
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}

	abs, err := s.val.Validate(req.Path)
	if err != nil {
		return nil, err
	}
	base := s.val.Rel(abs)
	if base == "." {
		base = ""
	}

	entries, err := s.index.Select(indexer.Query{
		Base:          base,
		Depth:         depth,
		IncludeHidden: req.IncludeHidden,
		Pattern:       req.Pattern,
	})
	if err != nil {
		return nil, err
	}
	files, dirs, err := s.index.Counts()
	if err != nil {
		return nil, err
	}

	tree := make([]TreeNode, 0, len(entries))
	for _, e := range entries {
		node := TreeNode{Path: e.RelPath, Name: e.Name, Type: e.Kind}
		if e.Kind == indexer.KindFile {
			size := e.Size
			node.Size = &size
		}
		tree = append(tree, node)
	}

	root := s.val.Root()
	if base != "" {
		root = filepath.Join(root, filepath.FromSlash(base))
	}

	return &StructureResult{
		Success: true,
		Root:    root,
		Tree:    tree,
		Stats: StructureStats{
			TotalFiles: files,
			TotalDirs:  dirs,
			Returned:   len(entries),
		},
	}, nil
}
