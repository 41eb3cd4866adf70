package registry

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML tree shaped HIVE -> path segments -> value map and
// returns a registry populated from it, matching the shape Config.Properties
// accepts for an initial registry snapshot.
func LoadYAML(data []byte) (*Registry, error) {
	r := WithDefaults()
	if err := MergeYAML(r, data, Overwrite); err != nil {
		return nil, err
	}
	return r, nil
}

// MergeYAML merges a YAML tree onto an existing registry.
func MergeYAML(registry *Registry, data []byte, mode MergeMode) error {
	var root map[string]yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	for hiveName, node := range root {
		hive, ok := ParseHive(hiveName)
		if !ok {
			return fmt.Errorf("registry: unknown hive %q in yaml tree", hiveName)
		}
		if err := mergeYAMLNode(registry, hive, nil, &node, mode); err != nil {
			return err
		}
	}
	return nil
}

// mergeYAMLNode walks a mapping node. A key whose value is itself a mapping
// is a subkey; a scalar-valued key, or the special "(Default)"/"@" key, is a
// value on the current path.
func mergeYAMLNode(registry *Registry, hive Hive, path []string, node *yaml.Node, mode MergeMode) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]
		key := keyNode.Value

		if valNode.Kind == yaml.MappingNode && !isValueKeyName(key) {
			if err := mergeYAMLNode(registry, hive, append(append([]string{}, path...), key), valNode, mode); err != nil {
				return err
			}
			continue
		}

		var valueName *string
		if !isValueKeyName(key) {
			name := key
			valueName = &name
		}

		value, err := yamlScalarToValue(valNode)
		if err != nil {
			return err
		}
		if err := registry.apply(refFor(hive, path, valueName), value, mode, true); err != nil {
			return err
		}
	}
	return nil
}

func isValueKeyName(key string) bool {
	return key == "@" || strings.EqualFold(key, "(default)")
}

func yamlScalarToValue(node *yaml.Node) (Value, error) {
	if node.Tag == "!!int" {
		n, err := strconv.ParseInt(node.Value, 0, 64)
		if err != nil {
			return Value{}, err
		}
		return DwordValue(uint32(n)), nil
	}
	if node.Kind == yaml.SequenceNode {
		var items []string
		for _, c := range node.Content {
			items = append(items, c.Value)
		}
		return MultiStringValue(items), nil
	}
	return StringValue(node.Value), nil
}
