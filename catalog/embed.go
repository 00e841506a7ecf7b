// Package catalog ships the built-in questionnaires and decodes questionnaire YAML.
package catalog

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mindscreen/models"

	"gopkg.in/yaml.v3"
)

//go:embed *.yaml
var builtin embed.FS

// Decode parses one questionnaire definition. Unknown keys are rejected so typos
// in hand-written files surface at load time.
func Decode(data []byte) (*models.AssessmentType, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var t models.AssessmentType
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode assessment type: %w", err)
	}
	if t.BaseLanguage == "" {
		t.BaseLanguage = "en"
	}
	return &t, nil
}

// Defaults returns the built-in questionnaires ordered by file name.
func Defaults() ([]*models.AssessmentType, error) {
	return decodeAll(builtin, ".")
}

// FileError names a catalog file that could not be decoded.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

// LoadDir decodes every *.yaml / *.yml file in dir. Files that fail to decode are
// skipped and reported in the returned error slice.
func LoadDir(dir string) ([]*models.AssessmentType, []error) {
	types, errs := []*models.AssessmentType{}, []error{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read catalog directory '%s': %w", dir, err)}
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &FileError{Path: path, Err: err})
			continue
		}
		t, err := Decode(data)
		if err != nil {
			log.Printf("WARN: [Catalog] Skipping '%s': %v", path, err)
			errs = append(errs, &FileError{Path: path, Err: err})
			continue
		}
		types = append(types, t)
	}
	return types, errs
}

func decodeAll(fsys fs.FS, dir string) ([]*models.AssessmentType, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isYAML(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	types := make([]*models.AssessmentType, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		t, err := Decode(data)
		if err != nil {
			return nil, &FileError{Path: name, Err: err}
		}
		types = append(types, t)
	}
	return types, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
