package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
id: sleep-check
name: Sleep Check
category: general
questions:
  - id: s1
    text: How many hours did you sleep last night?
    type: text
`

func TestDefaults(t *testing.T) {
	types, err := Defaults()
	require.NoError(t, err)
	require.Len(t, types, 3)

	ids := []string{types[0].ID, types[1].ID, types[2].ID}
	assert.Equal(t, []string{"dass-21", "gad-7", "phq-9"}, ids)
	for _, at := range types {
		assert.NotEmpty(t, at.Questions, at.ID)
		assert.NotEmpty(t, at.ScoringRules, at.ID)
		assert.Equal(t, "en", at.BaseLanguage)
	}
	assert.Len(t, types[2].Questions, 9)
}

func TestDecode(t *testing.T) {
	at, err := Decode([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "sleep-check", at.ID)
	assert.Equal(t, "en", at.BaseLanguage, "base language defaults to en")
	require.Len(t, at.Questions, 1)
	assert.Equal(t, "s1", at.Questions[0].ID)

	_, err = Decode([]byte(minimalYAML + "colour: blue\n"))
	require.Error(t, err, "unknown keys are rejected")
	assert.Contains(t, err.Error(), "colour")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sleep.yaml"), []byte(minimalYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "typo.yml"), []byte(minimalYAML+"questons: []\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a questionnaire"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	types, errs := LoadDir(dir)
	require.Len(t, types, 1)
	assert.Equal(t, "sleep-check", types[0].ID)

	require.Len(t, errs, 1)
	var fileErr *FileError
	require.True(t, errors.As(errs[0], &fileErr))
	assert.Equal(t, filepath.Join(dir, "typo.yml"), fileErr.Path)
	assert.NotNil(t, errors.Unwrap(fileErr))
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	types, errs := LoadDir(filepath.Join(t.TempDir(), "absent"))
	assert.Nil(t, types)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], os.ErrNotExist))
}
