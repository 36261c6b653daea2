package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckExisting returns an error naming any managed file already in dir.
func CheckExisting(dir string) error {
	var existing []string
	for _, name := range Managed {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if info.IsDir() {
			name += "/"
		}
		existing = append(existing, name)
	}

	if len(existing) == 0 {
		return nil
	}
	msg := "workspace already initialized\n\nFound existing"
	if len(existing) == 1 {
		msg += ": " + existing[0]
	} else {
		msg += " files:\n  - " + strings.Join(existing, "\n  - ") + "\n"
	}
	msg += "\nUse 'sevai init --force' to reinitialize (this will overwrite existing configuration)"
	return fmt.Errorf("%s", msg)
}
