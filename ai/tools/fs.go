package tools

import (
	"context"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultListMaxEntries  = 2000
	defaultReadMaxBytes    = 200_000
	defaultSearchMaxMatch  = 2000
	defaultSearchScanBytes = 1_000_000
)

func (r *Registry) registerFilesystemTools() {
	r.register(Definition{
		ToolID:      "list_dir",
		Description: "List directory entries within the allowed roots, optionally recursive.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":        map[string]any{"type": "string"},
				"recursive":   map[string]any{"type": "boolean"},
				"max_entries": map[string]any{"type": "integer"},
			},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entries":   map[string]any{"type": "array"},
				"truncated": map[string]any{"type": "boolean"},
			},
		},
	}, listDir)

	r.register(Definition{
		ToolID:      "read_file",
		Description: "Read a file within the allowed roots, capped at max_bytes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string"},
				"max_bytes": map[string]any{"type": "integer"},
			},
			"required": []string{"path"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":   map[string]any{"type": "string"},
				"bytes":     map[string]any{"type": "integer"},
				"truncated": map[string]any{"type": "boolean"},
			},
		},
	}, readFile)

	r.register(Definition{
		ToolID:      "search_text",
		Description: "Search for a pattern under a path, preferring ripgrep with an in-process fallback.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":     map[string]any{"type": "string"},
				"path":        map[string]any{"type": "string"},
				"max_matches": map[string]any{"type": "integer"},
			},
			"required": []string{"pattern"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"matches":   map[string]any{"type": "array"},
				"truncated": map[string]any{"type": "boolean"},
				"backend":   map[string]any{"type": "string"},
			},
		},
	}, searchText)

	r.register(Definition{
		ToolID:      "stat_path",
		Description: "Report existence, type, size, and modification time of a path.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"exists":      map[string]any{"type": "boolean"},
				"type":        map[string]any{"type": "string"},
				"size":        map[string]any{"type": "integer"},
				"modified_at": map[string]any{"type": "string"},
			},
		},
	}, statPath)

	r.register(Definition{
		ToolID:      "write_file",
		Description: "Write or append UTF-8 content to a file within the allowed roots.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
				"mode":    map[string]any{"type": "string", "enum": []string{"overwrite", "append"}},
			},
			"required": []string{"path", "content"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":          map[string]any{"type": "string"},
				"bytes_written": map[string]any{"type": "integer"},
			},
		},
		RequiresConfirmation: true,
	}, writeFile)

	r.register(Definition{
		ToolID:      "open_url",
		Description: "Validate a URL and hand it back for the user to open; never fetches.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string"},
			},
			"required": []string{"url"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":                  map[string]any{"type": "string"},
				"requires_user_action": map[string]any{"type": "boolean"},
			},
		},
		RequiresConfirmation: true,
	}, openURL)
}

func listDir(_ context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	// path is optional; the default lists the repo root.
	path := stringArg(input, "path")
	if path == "" {
		path = "."
	}
	root, err := rt.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	maxEntries := intArg(input, "max_entries", defaultListMaxEntries)
	recursive := boolArg(input, "recursive")

	var entries []map[string]any
	truncated := false
	appendEntry := func(name, path string, isDir bool) bool {
		if len(entries) >= maxEntries {
			truncated = true
			return false
		}
		entryType := "file"
		if isDir {
			entryType = "dir"
		}
		entries = append(entries, map[string]any{
			"name": name,
			"path": path,
			"type": entryType,
		})
		return true
	}

	if recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if path == root {
				return nil
			}
			if !appendEntry(d.Name(), path, d.IsDir()) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to walk %s", root)
		}
	} else {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list %s", root)
		}
		for _, entry := range dirEntries {
			if !appendEntry(entry.Name(), filepath.Join(root, entry.Name()), entry.IsDir()) {
				break
			}
		}
	}

	if entries == nil {
		entries = []map[string]any{}
	}
	return map[string]any{"entries": entries, "truncated": truncated}, nil
}

func readFile(_ context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	path, err := rt.ResolvePath(stringArg(input, "path"))
	if err != nil {
		return nil, err
	}
	maxBytes := intArg(input, "max_bytes", defaultReadMaxBytes)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	rawBytes := len(data)
	truncated := false
	if rawBytes > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}
	return map[string]any{
		"content":   strings.ToValidUTF8(string(data), "�"),
		"bytes":     rawBytes,
		"truncated": truncated,
	}, nil
}

func searchText(ctx context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	pattern := stringArg(input, "pattern")
	if pattern == "" {
		return nil, errors.New("pattern is required")
	}
	searchPath := stringArg(input, "path")
	if searchPath == "" {
		searchPath = "."
	}
	root, err := rt.ResolvePath(searchPath)
	if err != nil {
		return nil, err
	}
	maxMatches := intArg(input, "max_matches", defaultSearchMaxMatch)

	if _, lookErr := exec.LookPath("rg"); lookErr == nil {
		return searchWithRipgrep(ctx, rt, pattern, root, maxMatches)
	}
	return searchInProcess(root, pattern, maxMatches)
}

func searchWithRipgrep(ctx context.Context, rt *Context, pattern, root string, maxMatches int) (map[string]any, error) {
	argv := []string{
		"rg", "--column", "--line-number", "--no-heading",
		"--max-count", strconv.Itoa(maxMatches), pattern, root,
	}
	result, err := runSubprocess(ctx, rt, argv, "")
	if err != nil {
		return nil, err
	}
	// rg exits 1 when nothing matched, which is still a successful search.
	exitCode := result["exit_code"].(int)
	if exitCode != 0 && exitCode != 1 {
		return nil, errors.Errorf("ripgrep failed: %s", result["stderr"])
	}

	var matches []map[string]any
	truncated := result["truncated"].(bool)
	stdout := result["stdout"].(string)
	for _, line := range strings.Split(stdout, "\n") {
		if line == "" {
			continue
		}
		if len(matches) >= maxMatches {
			truncated = true
			break
		}
		parts := strings.SplitN(line, ":", 4)
		if len(parts) != 4 {
			continue
		}
		lineNo, _ := strconv.Atoi(parts[1])
		column, _ := strconv.Atoi(parts[2])
		matches = append(matches, map[string]any{
			"path":   parts[0],
			"line":   lineNo,
			"column": column,
			"match":  parts[3],
		})
	}
	if matches == nil {
		matches = []map[string]any{}
	}
	return map[string]any{"matches": matches, "truncated": truncated, "backend": "rg"}, nil
}

// searchInProcess is the substring fallback for hosts without ripgrep.
func searchInProcess(root, pattern string, maxMatches int) (map[string]any, error) {
	matches := []map[string]any{}
	truncated := false

	scanFile := func(path string) error {
		info, err := os.Stat(path)
		if err != nil || info.Size() > defaultSearchScanBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for lineNo, line := range strings.Split(string(data), "\n") {
			column := strings.Index(line, pattern)
			if column < 0 {
				continue
			}
			if len(matches) >= maxMatches {
				truncated = true
				return fs.SkipAll
			}
			matches = append(matches, map[string]any{
				"path":   path,
				"line":   lineNo + 1,
				"column": column + 1,
				"match":  line,
			})
		}
		return nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", root)
	}
	if !info.IsDir() {
		if err := scanFile(root); err != nil && err != fs.SkipAll {
			return nil, err
		}
	} else {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return walkErr
			}
			return scanFile(path)
		})
		if err != nil && err != fs.SkipAll {
			return nil, errors.Wrapf(err, "failed to walk %s", root)
		}
	}
	return map[string]any{"matches": matches, "truncated": truncated, "backend": "scan"}, nil
}

func statPath(_ context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	path, err := rt.ResolvePath(stringArg(input, "path"))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"exists": false}, nil
		}
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	entryType := "file"
	if info.IsDir() {
		entryType = "dir"
	}
	return map[string]any{
		"exists":      true,
		"type":        entryType,
		"size":        info.Size(),
		"modified_at": info.ModTime().Format(time.RFC3339),
	}, nil
}

func writeFile(_ context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	path, err := rt.ResolvePath(stringArg(input, "path"))
	if err != nil {
		return nil, err
	}
	content := stringArg(input, "content")
	mode := stringArg(input, "mode")
	if mode == "" {
		mode = "overwrite"
	}
	if mode != "overwrite" && mode != "append" {
		return nil, errors.Errorf("invalid mode %q: must be overwrite or append", mode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create parent directory for %s", path)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if mode == "append" {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()
	n, err := file.WriteString(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", path)
	}
	return map[string]any{"path": path, "bytes_written": n}, nil
}

// openURL validates but never fetches: it hands the URL back for the user
// to open themselves.
func openURL(_ context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	raw := stringArg(input, "url")
	if raw == "" {
		return nil, errors.New("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %s", raw)
	}
	switch parsed.Scheme {
	case "http", "https":
	case "file":
		if _, err := rt.ResolvePath(parsed.Path); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	return map[string]any{"url": raw, "requires_user_action": true}, nil
}
