// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Directory names under the base path.
const (
	SessionsDir = "sessions"
	TracesDir   = "traces"
	MessagesDir = "messages"
)

const (
	fileExt   = ".json"
	tmpPrefix = ".tmp-"
	dirPerm   = 0o755
	filePerm  = 0o644
)

// layout maps entity ids to files under a base directory.
type layout struct {
	root string
}

func (l layout) dirs() []string {
	return []string{
		filepath.Join(l.root, SessionsDir),
		filepath.Join(l.root, TracesDir),
		filepath.Join(l.root, MessagesDir),
	}
}

func (l layout) ensure() error {
	for _, dir := range l.dirs() {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (l layout) sessionPath(id string) (string, error) {
	return l.path(SessionsDir, id)
}

func (l layout) spanPath(id string) (string, error) {
	return l.path(TracesDir, id)
}

func (l layout) messagesPath(sessionID string) (string, error) {
	return l.path(MessagesDir, sessionID)
}

func (l layout) path(dir, id string) (string, error) {
	name, err := fileName(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, dir, name), nil
}

// fileName escapes an id so that it is safe to use as a single path element.
func fileName(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty id")
	}
	name := url.PathEscape(id)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return name + fileExt, nil
}

// idFromFileName reverses fileName.
func idFromFileName(name string) (string, error) {
	return url.PathUnescape(strings.TrimSuffix(name, fileExt))
}

// writeJSONFile encodes v and atomically replaces path with it.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// removeFile deletes path, ignoring files that do not exist.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// document is a decoded file together with the id its name encodes.
type document[T any] struct {
	ID    string
	Value T
}

// readJSONDir decodes every document in dir. A missing directory yields no
// documents.
func readJSONDir[T any](ctx context.Context, dir string) ([]document[T], error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	out := make([]document[T], 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		id, err := idFromFileName(name)
		if err != nil {
			return nil, fmt.Errorf("invalid file name %s: %w", path, err)
		}
		out = append(out, document[T]{ID: id, Value: v})
	}
	return out, nil
}

// listFiles returns the document file names present in dir.
func listFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		names[name] = true
	}
	return names, nil
}
