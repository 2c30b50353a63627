package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads, decodes, and validates a workspace file. Unknown fields are
// rejected except under project metadata. Relative project paths resolve
// against the config file's directory.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Kind: KindMalformed, Message: fmt.Sprintf("read workspace file: %v", err)}
	}
	ws, err := Parse(data)
	if err != nil {
		return nil, err
	}
	ws.Path = path
	ws.resolvePaths(filepath.Dir(path))
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	return ws, nil
}

// Parse decodes a workspace document without touching the filesystem.
// The caller is responsible for path resolution and validation when the
// document did not come from disk.
func Parse(data []byte) (*Workspace, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var ws Workspace
	if err := dec.Decode(&ws); err != nil {
		kind := KindMalformed
		if strings.Contains(err.Error(), "unknown field") {
			kind = KindSchema
		}
		return nil, &ValidationError{Kind: kind, Message: fmt.Sprintf("decode workspace: %v", err)}
	}
	// A second document in the stream means trailing garbage.
	if dec.More() {
		return nil, &ValidationError{Kind: KindMalformed, Message: "decode workspace: trailing data after document"}
	}

	ws.applyDefaults()
	return &ws, nil
}

// Save writes the workspace as UTF-8 JSON, LF-terminated, two-space
// indent, atomically (tmp+rename). Path defaults to where the workspace
// was loaded from.
func (w *Workspace) Save(path string) error {
	if path == "" {
		path = w.Path
	}
	if path == "" {
		return fmt.Errorf("save workspace: no path given")
	}

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".context-workspace-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write workspace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace workspace file: %w", err)
	}

	w.Path = path
	return nil
}

// Find walks up from dir looking for a workspace file.
func Find(dir string) (string, error) {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(cur, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no %s found in %s or any parent", DefaultFileName, dir)
		}
		cur = parent
	}
}

// resolvePaths computes AbsPath for every project.
func (w *Workspace) resolvePaths(baseDir string) {
	for i := range w.Projects {
		p := w.Projects[i].Path
		if filepath.IsAbs(p) {
			w.Projects[i].AbsPath = filepath.Clean(p)
		} else {
			w.Projects[i].AbsPath = filepath.Clean(filepath.Join(baseDir, p))
		}
	}
}
