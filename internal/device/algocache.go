package device

import (
	"fmt"
	"sync"
)

// AlgoChoice is a cached algorithm-selection result for one
// shape/parameter combination.
type AlgoChoice struct {
	Algo           ConvAlgo
	WorkspaceElems int
}

// AlgoCache memoizes forward-algorithm and workspace queries so that
// operations sharing a shape/parameter combination hit the primitives
// library once per run.
type AlgoCache struct {
	mu   sync.RWMutex
	data map[string]AlgoChoice
}

func NewAlgoCache() *AlgoCache {
	return &AlgoCache{
		data: make(map[string]AlgoChoice),
	}
}

// ConvKey builds the cache key for a convolution shape/parameter combination.
func ConvKey(in TensorDesc, filter FilterDesc, conv ConvDesc, pref AlgoPreference) string {
	return fmt.Sprintf("conv/%dx%dx%dx%d/f%dx%dx%dx%d/p%d,%d/s%d,%d/%s",
		in.N, in.C, in.H, in.W,
		filter.OutC, filter.InC, filter.H, filter.W,
		conv.PadH, conv.PadW, conv.StrideH, conv.StrideW, pref)
}

func (c *AlgoCache) Get(key string) (AlgoChoice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	choice, ok := c.data[key]
	return choice, ok
}

func (c *AlgoCache) Put(key string, choice AlgoChoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = choice
}

func (c *AlgoCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
