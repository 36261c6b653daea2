package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseCase decodes a case file. YAML and JSON files (by extension) carry a
// full Case; anything else is taken as the case text. name fills Case.Name
// when the file does not set one.
func ParseCase(name string, data []byte) (Case, error) {
	var c Case
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml", ".json":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Case{}, fmt.Errorf("failed to parse case %s: %w", name, err)
		}
	default:
		c.Text = string(data)
	}

	if strings.TrimSpace(c.Text) == "" {
		return Case{}, fmt.Errorf("case %s: text is required", name)
	}
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	return c, nil
}

// ReadCase loads a case from path, or from stdin when path is "-".
func ReadCase(path string, stdin io.Reader) (Case, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return Case{}, fmt.Errorf("failed to read case from stdin: %w", err)
		}
		// stdin is YAML when it parses as a mapping with text
		if c, err := ParseCase("stdin.yml", data); err == nil {
			return c, nil
		}
		return ParseCase("stdin", data)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Case{}, fmt.Errorf("failed to read case: %w", err)
	}
	return ParseCase(path, data)
}

// LoadCaseDir reads every case file in dir, sorted by file name. Hidden
// files and subdirectories are skipped.
func LoadCaseDir(dir string) ([]Case, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read case directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yml", ".yaml", ".json", ".txt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	cases := make([]Case, 0, len(names))
	for _, n := range names {
		c, err := ReadCase(filepath.Join(dir, n), nil)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no case files (.yml, .yaml, .json, .txt) in %s", dir)
	}
	return cases, nil
}
