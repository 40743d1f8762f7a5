package model

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"gomha/pkg/tensor"
)

// Dropout is the dropout operator owned by a layer. It keeps its own seeded
// random stream so forward passes are reproducible for a given seed.
type Dropout struct {
	Rate float32

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewDropout creates a dropout operator with the given rate in [0, 1).
func NewDropout(rate float32, seed uint64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, errors.Errorf("dropout rate must be in [0, 1), got %g", rate)
	}
	return &Dropout{
		Rate: rate,
		rng:  rand.New(rand.NewSource(seed)),
	}, nil
}

// Forward applies dropout to x when training; otherwise x is returned unchanged.
func (d *Dropout) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if d == nil || !training || d.Rate == 0 {
		return x, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return x.Dropout(d.Rate, true, d.rng)
}
