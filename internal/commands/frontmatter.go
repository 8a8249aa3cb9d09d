// Package commands mirrors a directory of markdown command files into
// the command store. Each file carries YAML front-matter whose required
// `name` key identifies the command; every other key is kept as opaque
// metadata. The file body below the front-matter is the prompt text.
package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

const frontMatterDelim = "---"

// ParseFile reads a command file and returns its store record. Files
// without front-matter or without a name key are rejected.
func ParseFile(path string) (*storage.CustomCommand, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	meta, _, err := splitFrontMatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var fields map[string]interface{}
	if err := yaml.Unmarshal([]byte(meta), &fields); err != nil {
		return nil, fmt.Errorf("%s: invalid front-matter: %w", path, err)
	}

	name, _ := fields["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%s: front-matter is missing the name key", path)
	}
	delete(fields, "name")
	if len(fields) == 0 {
		fields = nil
	}

	return &storage.CustomCommand{
		Name:      name,
		FilePath:  path,
		Metadata:  fields,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Body returns the prompt text of a command file with the front-matter
// stripped.
func Body(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	_, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return strings.TrimLeft(body, "\n"), nil
}

// splitFrontMatter divides file content into the YAML block between the
// leading delimiter pair and the body below it.
func splitFrontMatter(content string) (meta, body string, err error) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelim {
		return "", "", fmt.Errorf("no front-matter block")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelim {
			meta = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			return meta, body, nil
		}
	}
	return "", "", fmt.Errorf("unterminated front-matter block")
}
