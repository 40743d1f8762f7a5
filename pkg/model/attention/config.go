package attention

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"gomha/pkg/tensor"
)

// ErrConfig is returned (wrapped) when a Config violates its invariants.
var ErrConfig = errors.New("invalid attention configuration")

// ErrShape is returned (wrapped) when a forward argument has a shape that is
// incompatible with the configured dimensions. It is the same sentinel as
// tensor.ErrShapeMismatch, so errors from any layer match it.
var ErrShape = tensor.ErrShapeMismatch

// Config holds the hyperparameters of a MultiHeadAttention block.
// They are fixed at construction.
type Config struct {
	// NumHeads is the number of parallel attention heads.
	NumHeads int `yaml:"num_heads"`

	// ModelDim is the width of the query/key/value inputs and of the output.
	// It must be divisible by NumHeads.
	ModelDim int `yaml:"model_dim"`

	// DropoutRate is applied to the attention weights in training mode, in [0, 1).
	DropoutRate float32 `yaml:"dropout_rate"`

	// Seed drives parameter initialisation and the dropout stream.
	Seed int64 `yaml:"seed"`

	// HalfPrecision rounds the initial parameters to binary16 precision.
	HalfPrecision bool `yaml:"half_precision"`
}

// DefaultConfig returns the configuration from "Attention Is All You Need":
// 8 heads over a 512 wide model, dropout 0.1.
func DefaultConfig() Config {
	return Config{
		NumHeads:    8,
		ModelDim:    512,
		DropoutRate: 0.1,
	}
}

// Validate checks if the configuration is valid and consistent.
func (c Config) Validate() error {
	if c.NumHeads <= 0 {
		return errors.Wrapf(ErrConfig, "num_heads must be positive, got %d", c.NumHeads)
	}
	if c.ModelDim <= 0 {
		return errors.Wrapf(ErrConfig, "model_dim must be positive, got %d", c.ModelDim)
	}
	if c.ModelDim%c.NumHeads != 0 {
		return errors.Wrapf(ErrConfig, "model_dim (%d) must be divisible by num_heads (%d)",
			c.ModelDim, c.NumHeads)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.Wrapf(ErrConfig, "dropout_rate must be in [0, 1), got %g", c.DropoutRate)
	}
	return nil
}

// HeadDim returns the dimension per attention head.
func (c Config) HeadDim() int {
	return c.ModelDim / c.NumHeads
}

// LoadConfig reads a YAML configuration file. Keys missing from the file keep
// their DefaultConfig values. The result is validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read attention config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse attention config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.WithMessagef(err, "attention config %q", path)
	}
	return cfg, nil
}
