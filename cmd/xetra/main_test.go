package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/xetra/internal/job"
)

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"version"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "xetra v"+job.Version)
	assert.Empty(t, stderr.String())
}

func TestRun_NoConfig(t *testing.T) {
	t.Setenv(configEnv, "")
	var stdout, stderr bytes.Buffer

	code := execute(context.Background(), []string{"run"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "no configuration file given")
}

func TestRun_TooManyArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run", "a.yml", "b.yml"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
}

func TestRun_MissingFileWithSummary(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing.yml")

	code := execute(context.Background(), []string{"run", "--summary", path}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "config_load")

	var summary job.Summary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	assert.Equal(t, job.StateFailed, summary.State)
	assert.Equal(t, "config_load", summary.ErrorType)
	assert.Equal(t, path, summary.ConfigPath)
}

func TestRun_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yml")
	require.NoError(t, os.WriteFile(path, []byte("# nothing\n"), 0o600))
	t.Setenv(configEnv, path)

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "configuration document is empty")
}
