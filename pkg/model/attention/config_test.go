package attention

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.NumHeads)
	assert.Equal(t, 512, cfg.ModelDim)
	assert.Equal(t, float32(0.1), cfg.DropoutRate)
	assert.Equal(t, 64, cfg.HeadDim())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		errString string
	}{
		{"valid", Config{NumHeads: 2, ModelDim: 4}, ""},
		{"indivisible", Config{NumHeads: 7, ModelDim: 512}, "model_dim (512) must be divisible by num_heads (7)"},
		{"zero heads", Config{NumHeads: 0, ModelDim: 4}, "num_heads must be positive"},
		{"zero dim", Config{NumHeads: 1, ModelDim: 0}, "model_dim must be positive"},
		{"dropout too large", Config{NumHeads: 1, ModelDim: 4, DropoutRate: 1}, "dropout_rate must be in [0, 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
			assert.True(t, errors.Is(err, ErrConfig))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{NumHeads: 4, ModelDim: 64, DropoutRate: 0.2, Seed: 42, HalfPrecision: true}, cfg)

	// Missing keys keep their defaults.
	cfg, err = LoadConfig(filepath.Join("testdata", "partial.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.NumHeads)
	assert.Equal(t, DefaultConfig().ModelDim, cfg.ModelDim)
	assert.Equal(t, DefaultConfig().DropoutRate, cfg.DropoutRate)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), "invalid.yaml")

	_, err = LoadConfig(filepath.Join("testdata", "malformed.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")

	_, err = LoadConfig(filepath.Join("testdata", "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}
