package fsops

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pkt.systems/agentmux/schema"
)

// Node is one entry in a project file tree.
type Node struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Dir      bool   `json:"dir"`
	Children []Node `json:"children,omitempty"`
}

// maxTreeDepth bounds tree recursion; deeper levels are elided.
const maxTreeDepth = 8

// maxFileSize caps file reads served to consumers.
const maxFileSize = 2 << 20

var skippedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
}

// Tree lists the project directory recursively, relative paths only.
func Tree(root string) ([]Node, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return readDir(root, "", 0)
}

func readDir(root, rel string, depth int) ([]Node, error) {
	if depth >= maxTreeDepth {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(root, rel))
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	nodes := make([]Node, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if _, skip := skippedDirs[name]; skip {
			continue
		}
		childRel := filepath.Join(rel, name)
		node := Node{Name: name, Path: filepath.ToSlash(childRel), Dir: entry.IsDir()}
		if entry.IsDir() {
			children, err := readDir(root, childRel, depth+1)
			if err == nil {
				node.Children = children
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ReadFile returns the contents of a file inside root. Paths that escape the
// root after cleaning are rejected.
func ReadFile(root, rel string) ([]byte, error) {
	path, err := Resolve(root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() || info.Size() > maxFileSize {
		return nil, schema.ErrInvalidPath
	}
	return os.ReadFile(path)
}

// Resolve joins rel onto root and verifies the result stays inside root.
func Resolve(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", schema.ErrInvalidPath
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	path := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", schema.ErrInvalidPath
	}
	return path, nil
}
