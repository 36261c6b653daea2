// Package scaffold writes a starter sevai workspace.
package scaffold

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/sevai/internal/config"
)

//go:embed templates
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Managed lists the top-level paths Initialize owns in a workspace.
var Managed = []string{config.DefaultPath, "static-producer.yml", "knowledge.yml", "cases"}

// Initialize writes sevai.yml, an offline producer fixture, a small
// knowledge base and sample cases into dir.
// If force is true, existing managed files are removed first.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := handleForce(dir); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(dir); err != nil {
		return nil, err
	}

	files, err := getTemplateFiles()
	if err != nil {
		return nil, err
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, f.Content, f.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
		written = append(written, f.Path)
	}

	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}
	return written, nil
}

// handleForce removes managed files left by an earlier init
func handleForce(dir string) error {
	for _, name := range Managed {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// getTemplateFiles maps every embedded template to its workspace path
func getTemplateFiles() ([]FileInfo, error) {
	var files []FileInfo
	err := fs.WalkDir(templatesFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := templatesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		rel := strings.TrimSuffix(strings.TrimPrefix(path, "templates/"), ".tmpl")
		files = append(files, FileInfo{Path: filepath.FromSlash(rel), Content: content, Permissions: 0o644})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// validateCreatedFiles loads the written sevai.yml the way the CLI will
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return fmt.Errorf("generated %s is invalid: %w", config.DefaultPath, err)
	}
	return nil
}
