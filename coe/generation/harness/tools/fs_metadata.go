package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

const (
	defaultContentSize = 8192
	maxContentSize     = 1 << 20
)

// FSMetadataSchema describes the fs_metadata arguments.
const FSMetadataSchema = `{
  "type": "object",
  "properties": {
    "path": {
      "type": "string",
      "description": "File or directory path, relative to the tool root"
    },
    "include_contents": {
      "type": "boolean",
      "description": "Include the contents of small text files",
      "default": false
    },
    "max_content_size": {
      "type": "integer",
      "description": "Largest file whose contents are included, in bytes",
      "minimum": 1,
      "maximum": 1048576,
      "default": 8192
    },
    "recursive": {
      "type": "boolean",
      "description": "For directories, list the direct children",
      "default": false
    }
  },
  "required": ["path"]
}`

// FileMetadata describes a file or directory.
type FileMetadata struct {
	Path        string         `json:"path"`
	Name        string         `json:"name"`
	Type        string         `json:"type"` // "file" or "directory"
	Size        int64          `json:"size"`
	Permissions string         `json:"permissions"`
	ModifiedAt  time.Time      `json:"modified_at"`
	IsHidden    bool           `json:"is_hidden"`
	Extension   string         `json:"extension,omitempty"`
	MimeType    string         `json:"mime_type,omitempty"`
	Contents    string         `json:"contents,omitempty"`
	Children    []FileMetadata `json:"children,omitempty"`
	Error       string         `json:"error,omitempty"`
}

var textExtensions = []string{
	".txt", ".md", ".go", ".py", ".js", ".ts", ".json", ".yaml", ".yml",
	".toml", ".xml", ".html", ".css", ".sh", ".sql", ".csv",
}

type fsInspector struct {
	root string
}

// NewFSMetadataTool returns the fs_metadata tool. With a non-empty root, paths
// must stay inside it.
func NewFSMetadataTool(root string) *FuncTool {
	in := &fsInspector{root: root}
	return NewFuncTool("fs_metadata",
		"Get metadata (size, type, permissions, modification time) for a file or directory, optionally with text contents.",
		[]byte(FSMetadataSchema),
		in.call,
	)
}

func (in *fsInspector) call(ctx context.Context, kwargs ports.Args) (any, error) {
	path, err := stringArg(kwargs, "path")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	withContents, err := boolArg(kwargs, "include_contents")
	if err != nil {
		return nil, err
	}
	recursive, err := boolArg(kwargs, "recursive")
	if err != nil {
		return nil, err
	}
	limit, err := intArg(kwargs, "max_content_size", defaultContentSize)
	if err != nil {
		return nil, err
	}
	limit = min(max(limit, 1), maxContentSize)

	full, err := in.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	md, err := describe(full, withContents, limit)
	if err != nil {
		return FileMetadata{Path: path, Error: err.Error()}, nil
	}
	if recursive && md.Type == "directory" {
		md.Children = children(full, withContents, limit)
	}
	return md, nil
}

func (in *fsInspector) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if in.root == "" {
		return clean, nil
	}
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("path escapes the tool root: %s", path)
	}
	return filepath.Join(in.root, clean), nil
}

func describe(path string, withContents bool, limit int) (FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("failed to stat path: %w", err)
	}

	md := FileMetadata{
		Path:        path,
		Name:        info.Name(),
		Size:        info.Size(),
		Permissions: info.Mode().String(),
		ModifiedAt:  info.ModTime(),
		IsHidden:    strings.HasPrefix(info.Name(), "."),
	}
	if info.IsDir() {
		md.Type = "directory"
		return md, nil
	}

	md.Type = "file"
	md.Extension = filepath.Ext(path)
	if md.Extension != "" {
		md.MimeType = mime.TypeByExtension(md.Extension)
	}
	if md.MimeType == "" {
		md.MimeType = "application/octet-stream"
	}
	if withContents && isText(path) {
		if info.Size() > int64(limit) {
			md.Error = fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), limit)
		} else if md.Contents, err = readLimited(path, limit); err != nil {
			md.Error = fmt.Sprintf("failed to read contents: %v", err)
		}
	}
	return md, nil
}

func children(dir string, withContents bool, limit int) []FileMetadata {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []FileMetadata{{Path: dir, Error: fmt.Sprintf("failed to read directory: %v", err)}}
	}
	out := make([]FileMetadata, 0, len(entries))
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		md, err := describe(p, withContents, limit)
		if err != nil {
			md = FileMetadata{Path: p, Name: e.Name(), Error: err.Error()}
		}
		out = append(out, md)
	}
	return out
}

func isText(path string) bool {
	return slices.Contains(textExtensions, strings.ToLower(filepath.Ext(path)))
}

func readLimited(path string, limit int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, int64(limit)))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
