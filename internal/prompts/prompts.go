// Package prompts provides the instruction text of each agent. Built-in text
// is embedded; files in an override directory replace it by name.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	Intent       = "intent"
	Extraction   = "extraction"
	Builder      = "builder"
	Conversation = "conversation"
)

//go:embed text/*.txt
var embedded embed.FS

type Loader struct {
	builtin  fs.FS
	override fs.FS
}

// NewLoader returns a loader that consults overrideDir before the built-in
// prompts. An empty overrideDir disables overrides.
func NewLoader(overrideDir string) (*Loader, error) {
	builtin, err := fs.Sub(embedded, "text")
	if err != nil {
		return nil, fmt.Errorf("open embedded prompts: %w", err)
	}
	loader := &Loader{builtin: builtin}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("prompts dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("prompts dir %q is not a directory", dir)
		}
		loader.override = os.DirFS(filepath.Clean(dir))
	}
	return loader, nil
}

func newLoaderFS(builtin, override fs.FS) *Loader {
	return &Loader{builtin: builtin, override: override}
}

func (l *Loader) Load(name string) (string, error) {
	file := name + ".txt"
	if l.override != nil {
		raw, err := fs.ReadFile(l.override, file)
		if err == nil {
			return strings.TrimSpace(string(raw)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt override %s: %w", file, err)
		}
	}
	raw, err := fs.ReadFile(l.builtin, file)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", file, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// LoadAll loads every agent prompt, failing on the first error.
func (l *Loader) LoadAll() (map[string]string, error) {
	out := make(map[string]string, 4)
	for _, name := range []string{Intent, Extraction, Builder, Conversation} {
		text, err := l.Load(name)
		if err != nil {
			return nil, err
		}
		out[name] = text
	}
	return out, nil
}
