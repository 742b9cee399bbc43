package centralize

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/danmuck/webuictl/internal/registry"
)

// configLocks serializes the read-merge-write sequence per config path so
// two applies for the same tool cannot interleave.
var configLocks sync.Map

// renderConfigFile merges the tool's rendered template keys into the YAML
// document at its config path, preserving unrelated keys. Dotted template
// keys address nested mappings ("a111.base_path"). The write is atomic
// (temp file + rename) so a concurrently launching process never observes
// a partially written document.
func renderConfigFile(tool registry.Tool, sharedRoot string) error {
	lock, _ := configLocks.LoadOrStore(tool.ConfigPath, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	doc := map[string]any{}
	existing, err := os.ReadFile(tool.ConfigPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(existing, &doc); err != nil {
			return fmt.Errorf("%w: existing config %s is not valid yaml: %v", ErrConfigWrite, tool.ConfigPath, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case os.IsNotExist(err):
		// first apply, start from an empty tree
	default:
		return fmt.Errorf("%w: read %s: %v", ErrConfigWrite, tool.ConfigPath, err)
	}

	for key, tmpl := range tool.ConfigTemplate {
		value, err := expandToken(tmpl, sharedRoot)
		if err != nil {
			return err
		}
		setPath(doc, strings.Split(key, "."), value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrConfigWrite, tool.ConfigPath, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrConfigWrite, tool.ConfigPath, err)
	}

	return writeAtomic(tool.ConfigPath, buf.Bytes())
}

// setPath walks/creates nested mappings for a dotted key and sets the leaf.
// A non-mapping in the middle of the path is replaced; the centralization
// keys own their subtree.
func setPath(doc map[string]any, path []string, value string) {
	node := doc
	for _, part := range path[:len(path)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[path[len(path)-1]] = value
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrConfigWrite, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".centralize-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigWrite, path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrConfigWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrConfigWrite, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrConfigWrite, path, err)
	}
	return nil
}
