package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRule(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "a.yaml"), "version: 1\nname: a\nprerequisites: []\n")
	writeRule(t, filepath.Join(dir, "nested", "deep", "b.yml"), "version: 1\nname: b\nprerequisites: []\n")
	writeRule(t, filepath.Join(dir, "broken.yaml"), "version: 7\nname: broken\nprerequisites: []\n")
	writeRule(t, filepath.Join(dir, "notes.txt"), "not a rule")

	res, err := Load(dir)
	require.NoError(t, err)

	assert.Len(t, res.Files, 3)
	require.Len(t, res.Rules, 2)
	assert.False(t, res.OK())
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrUnsupportedVersion)
}

func TestLoad_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "1.yaml"), "version: 1\nname: same\nprerequisites: []\n")
	writeRule(t, filepath.Join(dir, "2.yaml"), "version: 1\nname: same\nprerequisites: []\n")

	res, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, res.Rules, 1)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "duplicate rule name")
}

func TestLoad_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.yaml")
	writeRule(t, path, "version: 1\nname: one\nprerequisites: []\n")

	res, err := Load(path)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{path}, res.Files)
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLoad_MultiplePaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "extra.yaml")
	writeRule(t, filepath.Join(dir, "a.yaml"), "version: 1\nname: a\nprerequisites: []\n")
	writeRule(t, file, "version: 1\nname: a\nprerequisites: []\n---\nversion: 1\nname: c\nprerequisites: []\n")

	res, err := Load(dir, file)
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
	require.Len(t, res.Rules, 2)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "duplicate rule name")
}
