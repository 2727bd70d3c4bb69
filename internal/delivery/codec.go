package delivery

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

const (
	// DeliveriesFile and CategoriesFile tag validation errors with their source.
	DeliveriesFile = "deliveries.yml"
	CategoriesFile = "categories.yml"
)

type deliveriesDoc struct {
	Deliveries map[string]Definition `yaml:"deliveries"`
}

type categoriesDoc struct {
	Categories Categories `yaml:"categories"`
}

// DecodeDefinitions parses a deliveries document. Map keys become Definition.ID.
// Unknown keys are rejected so typos surface on reload instead of being ignored.
func DecodeDefinitions(data []byte) (map[string]Definition, error) {
	var doc deliveriesDoc
	if err := decodeStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", DeliveriesFile, err)
	}
	out := make(map[string]Definition, len(doc.Deliveries))
	for id, d := range doc.Deliveries {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%s: empty delivery identifier", DeliveriesFile)
		}
		d.ID = id
		if d.Category.Mode == "" {
			d.Category.Mode = ModeRandom
		}
		if d.Item.Mode == "" {
			d.Item.Mode = ModeRandom
		}
		out[id] = d
	}
	return out, nil
}

// EncodeDefinitions renders definitions in the same shape DecodeDefinitions reads.
func EncodeDefinitions(defs map[string]Definition) ([]byte, error) {
	doc := deliveriesDoc{Deliveries: make(map[string]Definition, len(defs))}
	for id, d := range defs {
		doc.Deliveries[id] = d
	}
	return encode(doc)
}

// DecodeCategories parses a categories document.
func DecodeCategories(data []byte) (Categories, error) {
	var doc categoriesDoc
	if err := decodeStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", CategoriesFile, err)
	}
	if doc.Categories == nil {
		doc.Categories = Categories{}
	}
	return doc.Categories, nil
}

func EncodeCategories(c Categories) ([]byte, error) {
	return encode(categoriesDoc{Categories: c})
}

// LoadDefinitions reads and decodes a deliveries file.
func LoadDefinitions(path string) (map[string]Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeDefinitions(b)
}

// LoadCategories reads and decodes a categories file.
func LoadCategories(path string) (Categories, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeCategories(b)
}

// SortedIDs returns definition identifiers in sorted order.
func SortedIDs(defs map[string]Definition) []string {
	out := make([]string, 0, len(defs))
	for id := range defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
