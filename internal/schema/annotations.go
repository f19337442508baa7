package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed annotations/nfl.yaml
var defaultAnnotations []byte

// Annotations carry the human knowledge the catalog lacks: what tables mean,
// which words point at them and a few worked examples.
type Annotations struct {
	Tables   []TableAnnotation `yaml:"tables"`
	Examples []Example         `yaml:"examples"`
}

type TableAnnotation struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Columns     []Column `yaml:"columns"`
}

type Example struct {
	Question string `yaml:"question" json:"question"`
	SQL      string `yaml:"sql" json:"sql"`
}

// LoadAnnotations reads annotations from path, or returns the embedded NFL
// annotations when path is empty.
func LoadAnnotations(path string) (Annotations, error) {
	if strings.TrimSpace(path) == "" {
		return ParseAnnotations(defaultAnnotations)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Annotations{}, fmt.Errorf("read annotations %q: %w", path, err)
	}
	return ParseAnnotations(raw)
}

func ParseAnnotations(raw []byte) (Annotations, error) {
	var out Annotations
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return Annotations{}, fmt.Errorf("parse annotations: %w", err)
	}
	for i, example := range out.Examples {
		if strings.TrimSpace(example.Question) == "" || strings.TrimSpace(example.SQL) == "" {
			return Annotations{}, fmt.Errorf("example %d needs both question and sql", i)
		}
		out.Examples[i].SQL = strings.TrimSpace(example.SQL)
	}
	return out, nil
}

// apply merges descriptions and keywords into discovered tables. Annotated
// names that the catalog does not contain are ignored.
func (a Annotations) apply(tables []Table) []Table {
	byName := make(map[string]TableAnnotation, len(a.Tables))
	for _, annotation := range a.Tables {
		byName[strings.ToLower(annotation.Name)] = annotation
	}
	for i := range tables {
		annotation, ok := byName[strings.ToLower(tables[i].Name)]
		if !ok {
			continue
		}
		if annotation.Description != "" {
			tables[i].Description = annotation.Description
		}
		tables[i].Keywords = append(tables[i].Keywords, annotation.Keywords...)

		described := make(map[string]string, len(annotation.Columns))
		for _, column := range annotation.Columns {
			described[strings.ToLower(column.Name)] = column.Description
		}
		for j := range tables[i].Columns {
			if text, ok := described[strings.ToLower(tables[i].Columns[j].Name)]; ok && text != "" {
				tables[i].Columns[j].Description = text
			}
		}
	}
	return tables
}
