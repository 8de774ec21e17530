package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// decodeManifests reads YAML documents from r. Each document holds one item
// or a list of items.
func decodeManifests[T any](r io.Reader) ([]T, error) {
	var items []T
	dec := yaml.NewDecoder(r)
	for i := 0; ; i++ {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		if len(node.Content) == 0 {
			continue
		}

		doc := node.Content[0]
		if doc.Kind == yaml.SequenceNode {
			var list []T
			if err := doc.Decode(&list); err != nil {
				return nil, fmt.Errorf("document %d: %w", i+1, err)
			}
			items = append(items, list...)
			continue
		}

		var item T
		if err := doc.Decode(&item); err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// readManifests decodes the file at path, or stdin for "-".
func readManifests[T any](path string) ([]T, error) {
	if path == "-" {
		return decodeManifests[T](os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeManifests[T](f)
}
