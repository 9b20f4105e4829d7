package postman

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// File is one generated artifact.
type File struct {
	Name string
	Data []byte
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a collection name into a file name stem.
func Slug(name string) string {
	s := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		return "collection"
	}
	return s
}

// Generate builds the collection and, when requested, the environment.
func Generate(a WizardAnswers) ([]File, error) {
	col, err := BuildCollection(a)
	if err != nil {
		return nil, err
	}
	slug := Slug(a.name())
	files := []File{{Name: slug + ".postman_collection.json", Data: col}}
	if !a.IncludeEnvironment {
		return files, nil
	}
	env, err := BuildEnvironment(a)
	if err != nil {
		return nil, err
	}
	return append(files, File{Name: slug + ".postman_environment.json", Data: env}), nil
}

// Write saves files under dir and returns their paths.
func Write(dir string, files []File) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("postman: create output directory: %w", err)
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.Name)
		// environments may carry secrets
		mode := os.FileMode(0o644)
		if strings.HasSuffix(f.Name, ".postman_environment.json") {
			mode = 0o600
		}
		if err := os.WriteFile(path, f.Data, mode); err != nil {
			return paths, fmt.Errorf("postman: write %s: %w", f.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
