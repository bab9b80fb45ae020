package vehiclemodel

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultUnit replaces missing or unknown signal units.
const DefaultUnit = "m"

type unitsFile struct {
	Units map[string]yaml.Node `yaml:"units"`
}

// LoadUnits reads the unit names defined in a VSS units.yaml.
func LoadUnits(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read units: %w", err)
	}
	var f unitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse units %s: %w", path, err)
	}
	units := make(map[string]bool, len(f.Units))
	for name := range f.Units {
		units[name] = true
	}
	return units, nil
}

// FixUnits walks a VSS tree and sets DefaultUnit on every non-branch node
// whose unit is empty or unknown. It returns the dotted paths it changed.
func FixUnits(tree map[string]any, valid map[string]bool) []string {
	var fixed []string
	fixUnits(tree, valid, "", &fixed)
	return fixed
}

func fixUnits(tree map[string]any, valid map[string]bool, prefix string, fixed *[]string) {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		node, ok := tree[key].(map[string]any)
		if !ok {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if typ, _ := node["type"].(string); typ != "" && typ != "branch" {
			unit, _ := node["unit"].(string)
			if unit == "" || !valid[unit] {
				node["unit"] = DefaultUnit
				*fixed = append(*fixed, path)
			}
		}
		if children, ok := node["children"].(map[string]any); ok {
			fixUnits(children, valid, path, fixed)
		}
	}
}
