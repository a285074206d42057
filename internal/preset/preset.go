// Package preset serves sandboxed reference files to the agent.
package preset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxContentChars caps how much of a preset file is fed back into the
// conversation.
const maxContentChars = 4000

// Library reads reference files from a fixed root directory. Paths are
// confined to the root; traversal outside it is rejected.
type Library struct {
	root string
}

// NewLibrary creates a preset library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{root: dir}
}

// Read returns the content of a preset file, truncated at the character cap.
func (l *Library) Read(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("preset name is empty")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("preset name must be relative")
	}

	path := filepath.Join(l.root, filepath.Clean(name))
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("preset %q escapes the preset directory", name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("preset %q not found", name)
		}
		return "", fmt.Errorf("read preset %q: %w", name, err)
	}

	content := string(data)
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "\n...[truncated]"
	}
	return content, nil
}
