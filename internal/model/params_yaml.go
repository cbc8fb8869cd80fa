package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is a model parameter file: a title, a short description, and an
// ordered, possibly nested parameter mapping.
type Definition struct {
	Title       string
	Description string
	Params      Params
}

// LoadDefinition reads a YAML model definition from disk. Mapping order is
// preserved via the yaml Node API; nested mappings become section headers
// with their children indented one level deeper.
func LoadDefinition(path string) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition: %w", err)
	}
	return ParseDefinition(raw)
}

// ParseDefinition parses a YAML model definition from bytes.
func ParseDefinition(raw []byte) (Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Definition{}, fmt.Errorf("parse definition: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Definition{}, fmt.Errorf("parse definition: empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Definition{}, fmt.Errorf("parse definition: top level must be a mapping")
	}

	var def Definition
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "title":
			def.Title = val.Value
		case "description":
			def.Description = val.Value
		case "parameters":
			if val.Kind != yaml.MappingNode {
				return Definition{}, fmt.Errorf("parse definition: parameters must be a mapping")
			}
			if err := flattenMapping(val, 0, &def.Params); err != nil {
				return Definition{}, err
			}
		}
	}
	return def, nil
}

func flattenMapping(node *yaml.Node, indent int, out *Params) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch val.Kind {
		case yaml.MappingNode:
			out.Append(Param{Label: key.Value, Indent: indent, Section: true})
			if err := flattenMapping(val, indent+1, out); err != nil {
				return err
			}
		case yaml.ScalarNode:
			out.Append(Param{Label: key.Value, Value: val.Value, Indent: indent})
		default:
			return fmt.Errorf("parse definition: %q has unsupported value kind", key.Value)
		}
	}
	return nil
}
