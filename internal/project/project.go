// Package project materializes multi-file applications sent as a JSON tree.
package project

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Item is a file or folder of a project tree.
type Item struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "folder" or "file"
	Items    []Item `json:"items,omitempty"`
	Content  string `json:"content,omitempty"`
	IsBase64 bool   `json:"isBase64,omitempty"`
}

const macOSMeta = "__MACOSX"

// Parse decodes code as a project tree. It reports false when code is not a
// JSON array, meaning it is a plain single-file program.
func Parse(code string) ([]Item, bool) {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var items []Item
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, false
	}
	return items, true
}

// Materialize replaces baseDir with the files described by items. Archive
// metadata folders are dropped and a lone top-level folder is unwrapped.
func Materialize(items []Item, baseDir string) error {
	items = filterMeta(items)
	if len(items) == 1 && items[0].Type == "folder" && items[0].Items != nil {
		items = items[0].Items
	}

	if err := os.RemoveAll(baseDir); err != nil {
		return fmt.Errorf("clear %s: %w", baseDir, err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", baseDir, err)
	}
	return create(items, baseDir)
}

func create(items []Item, dir string) error {
	for _, it := range items {
		if it.Name == "" || it.Name == "." || it.Name == ".." || strings.ContainsAny(it.Name, `/\`) {
			return fmt.Errorf("invalid item name %q", it.Name)
		}
		path := filepath.Join(dir, it.Name)

		switch it.Type {
		case "folder":
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("create folder %s: %w", path, err)
			}
			if err := create(it.Items, path); err != nil {
				return err
			}
		case "file":
			data := []byte(it.Content)
			if it.IsBase64 {
				decoded, err := base64.StdEncoding.DecodeString(it.Content)
				if err != nil {
					return fmt.Errorf("decode %s: %w", path, err)
				}
				data = decoded
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		}
	}
	return nil
}

func filterMeta(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Name == macOSMeta {
			continue
		}
		if it.Type == "folder" && it.Items != nil {
			it.Items = filterMeta(it.Items)
		}
		out = append(out, it)
	}
	return out
}
