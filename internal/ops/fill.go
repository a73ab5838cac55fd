package ops

import (
	"math/rand"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// Fill populates a buffer with deterministic pseudo-random values in
// [-1, 1). The seed makes runs reproducible: the same suite produces the
// same device contents every time.
func Fill(rt device.Runtime, buf *device.Buffer, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, buf.Elems())
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return rt.CopyToDevice(buf.Mem(), 0, data)
}
