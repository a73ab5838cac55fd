package device

import (
	"errors"
	"testing"
)

func TestRegistry_HandleLifecycle(t *testing.T) {
	rt := NewCPURuntime(0)
	reg := NewRegistry(rt)

	t.Run("UniqueHandles", func(t *testing.T) {
		const n = 16
		seen := make(map[Handle]bool, n)
		for i := 0; i < n; i++ {
			h, err := reg.CreateBuffer(64)
			if err != nil {
				t.Fatalf("CreateBuffer %d failed: %v", i, err)
			}
			if seen[h] {
				t.Errorf("handle %d issued twice", h)
			}
			seen[h] = true
		}
		for h := range seen {
			buf, err := reg.GetBuffer(h)
			if err != nil {
				t.Errorf("GetBuffer(%d) failed: %v", h, err)
				continue
			}
			if buf.Elems() != 64 {
				t.Errorf("buffer %d has %d elems, want 64", h, buf.Elems())
			}
		}
		for h := range seen {
			if err := reg.ReleaseBuffer(h); err != nil {
				t.Errorf("ReleaseBuffer(%d) failed: %v", h, err)
			}
		}
	})

	t.Run("ReleaseThenGet", func(t *testing.T) {
		h, err := reg.CreateBuffer(10)
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.ReleaseBuffer(h); err != nil {
			t.Fatal(err)
		}
		// Released handles must fail deterministically, every time.
		for i := 0; i < 3; i++ {
			if _, err := reg.GetBuffer(h); !errors.Is(err, ErrInvalidHandle) {
				t.Errorf("GetBuffer after release: got %v, want ErrInvalidHandle", err)
			}
		}
	})

	t.Run("DoubleRelease", func(t *testing.T) {
		h, err := reg.CreateBuffer(10)
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.ReleaseBuffer(h); err != nil {
			t.Fatal(err)
		}
		if err := reg.ReleaseBuffer(h); !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("double release: got %v, want ErrInvalidHandle", err)
		}
	})

	t.Run("NeverIssued", func(t *testing.T) {
		if _, err := reg.GetBuffer(99999); !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("never-issued handle: got %v, want ErrInvalidHandle", err)
		}
	})
}

func TestRegistry_Stats(t *testing.T) {
	rt := NewCPURuntime(0)
	reg := NewRegistry(rt)

	h1, err := reg.CreateBuffer(100)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reg.CreateBuffer(50)
	if err != nil {
		t.Fatal(err)
	}

	s := reg.Stats()
	if s.Allocs != 2 || s.Live != 2 || s.LiveElems != 150 {
		t.Errorf("stats after create: %+v", s)
	}

	if err := reg.ReleaseBuffer(h1); err != nil {
		t.Fatal(err)
	}
	s = reg.Stats()
	if s.Frees != 1 || s.Live != 1 || s.LiveElems != 50 {
		t.Errorf("stats after release: %+v", s)
	}

	if err := reg.ReleaseBuffer(h2); err != nil {
		t.Fatal(err)
	}
	s = reg.Stats()
	if s.Live != 0 || s.LiveElems != 0 {
		t.Errorf("stats after full release: %+v", s)
	}
}

func TestRegistry_OutOfDeviceMemory(t *testing.T) {
	rt := NewCPURuntime(100)
	reg := NewRegistry(rt)

	h, err := reg.CreateBuffer(80)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.CreateBuffer(40); !errors.Is(err, ErrOutOfDeviceMemory) {
		t.Errorf("over-capacity create: got %v, want ErrOutOfDeviceMemory", err)
	}

	// A failed allocation must not count as an alloc or leak accounting.
	if s := reg.Stats(); s.Allocs != 1 || s.Live != 1 {
		t.Errorf("stats after failed create: %+v", s)
	}

	// Releasing makes room again.
	if err := reg.ReleaseBuffer(h); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateBuffer(40); err != nil {
		t.Errorf("create after release failed: %v", err)
	}
}

func TestAlgoCache(t *testing.T) {
	c := NewAlgoCache()

	key := ConvKey(
		TensorDesc{N: 1, C: 3, H: 32, W: 32},
		FilterDesc{OutC: 16, InC: 3, H: 3, W: 3},
		ConvDesc{PadH: 1, PadW: 1, StrideH: 1, StrideW: 1},
		PreferFastest,
	)

	if _, ok := c.Get(key); ok {
		t.Error("empty cache returned a hit")
	}

	c.Put(key, AlgoChoice{Algo: AlgoGEMM, WorkspaceElems: 1234})
	choice, ok := c.Get(key)
	if !ok || choice.Algo != AlgoGEMM || choice.WorkspaceElems != 1234 {
		t.Errorf("cache returned %+v, ok=%v", choice, ok)
	}
	if c.Size() != 1 {
		t.Errorf("cache size %d, want 1", c.Size())
	}

	// A different preference keys a different entry.
	other := ConvKey(
		TensorDesc{N: 1, C: 3, H: 32, W: 32},
		FilterDesc{OutC: 16, InC: 3, H: 3, W: 3},
		ConvDesc{PadH: 1, PadW: 1, StrideH: 1, StrideW: 1},
		PreferNoWorkspace,
	)
	if key == other {
		t.Error("keys for different preferences collide")
	}
}
