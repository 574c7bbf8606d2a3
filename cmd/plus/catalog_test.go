package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCatalog(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := catalogCmd()
	cmd.PersistentFlags().String("config", filepath.Join(t.TempDir(), "none.yaml"), "")
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogValidate_Embedded(t *testing.T) {
	out, err := runCatalog(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "catalog ok: 20 tools")
	assert.Contains(t, out, `default "free"`)
}

func TestCatalogValidate_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaultTier: a\ntools: [{id: x}]\ntiers: [{name: a, tools: [ghost]}]"), 0o600))

	_, err := runCatalog(t, "validate", "--file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCatalogTiers(t *testing.T) {
	out, err := runCatalog(t, "tiers")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "free")
	assert.Contains(t, out, "enterprise")
	assert.Contains(t, out, "all")
}
