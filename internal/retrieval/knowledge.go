// Package retrieval finds reference passages for the context agent.
//
// The KeywordIndex scores word-chunked documents by term overlap with the
// query. It needs no external service, which keeps analysis reproducible.
package retrieval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is one entry of a knowledge file.
type Document struct {
	ID       string         `yaml:"id"`
	Text     string         `yaml:"text"`
	Source   string         `yaml:"source"`
	Topic    string         `yaml:"topic"`
	Metadata map[string]any `yaml:"metadata"`
}

// KnowledgeFile is the YAML layout of a knowledge file.
type KnowledgeFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadKnowledgeFile reads and validates a knowledge file. Documents without
// an id are numbered by position.
func LoadKnowledgeFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}

	var kf KnowledgeFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file: %w", err)
	}

	seen := make(map[string]bool, len(kf.Documents))
	for i := range kf.Documents {
		d := &kf.Documents[i]
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", i+1)
		}
		if d.Text == "" {
			return nil, fmt.Errorf("document %s: text is required", d.ID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate document id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return kf.Documents, nil
}
