package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomha/pkg/model/attention"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestParams(t *testing.T) {
	out, err := execute(t, "params", "--heads", "2", "--dim", "8")
	require.NoError(t, err)

	for _, name := range []string{"query.weight", "query.bias", "key.weight", "value.bias", "output.weight"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "[8 8]")
	assert.Contains(t, out, "288 parameters")
	assert.Contains(t, out, "heads=2 head_dim=4")
}

func TestParams_DefaultConfig(t *testing.T) {
	out, err := execute(t, "params")
	require.NoError(t, err)
	assert.Contains(t, out, "1,050,624 parameters")
	assert.Contains(t, out, "heads=8 head_dim=64")
}

func TestRun(t *testing.T) {
	out, err := execute(t, "run", "--heads", "2", "--dim", "8", "--batch", "3", "--query-len", "4", "--key-len", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "query:   [3 4 8]")
	assert.Contains(t, out, "key:     [3 5 8]")
	assert.Contains(t, out, "output:  [3 4 8]")
	assert.Contains(t, out, "weights: [3 2 4 5]")
	assert.Contains(t, out, "batch 0, head 0")
}

func TestRun_Causal(t *testing.T) {
	out, err := execute(t, "run", "--heads", "2", "--dim", "8", "--batch", "1",
		"--query-len", "3", "--key-len", "3", "--causal", "--head", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "batch 0, head 1")
	// The first query row can only attend to the first key.
	assert.Contains(t, out, "1.000")
	assert.Contains(t, out, "0.000")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		errString string
	}{
		{"indivisible", []string{"run", "--heads", "3", "--dim", "8"}, "must be divisible"},
		{"causal lengths", []string{"run", "--heads", "2", "--dim", "8", "--query-len", "2", "--key-len", "3", "--causal"}, "--causal requires"},
		{"head out of range", []string{"run", "--heads", "2", "--dim", "8", "--head", "2"}, "--head must be in [0, 2)"},
		{"empty batch", []string{"run", "--heads", "2", "--dim", "8", "--batch", "0"}, "must be positive"},
		{"bad dropout", []string{"params", "--dropout", "1.5"}, "dropout_rate must be in [0, 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join("..", "..", "pkg", "model", "attention", "testdata", "config.yaml")

	out, err := execute(t, "params", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "heads=4 head_dim=16")
	assert.Contains(t, out, "rounded to binary16")

	// Explicit flags win over the file.
	out, err = execute(t, "params", "--config", path, "--heads", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "heads=8 head_dim=8")

	_, err = execute(t, "params", "--config", filepath.Join("..", "..", "pkg", "model", "attention", "testdata", "invalid.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, attention.ErrConfig))
}

func TestBench(t *testing.T) {
	out, err := execute(t, "bench", "--heads", "2", "--dim", "8", "--batch", "1",
		"--query-len", "2", "--key-len", "2", "--iterations", "3", "--training")
	require.NoError(t, err)
	assert.Contains(t, out, "3 passes of [1 2 8] x [1 2 8], heads=2")

	_, err = execute(t, "bench", "--iterations", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--iterations must be positive")
}
