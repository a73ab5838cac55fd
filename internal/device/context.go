package device

// Context is the execution context for one benchmark run. It wraps the
// runtime session and the primitives library and is shared by reference
// across every operation in the run. Dispatch is synchronous: calls block
// until the device has accepted the work.
type Context struct {
	rt    Runtime
	prims Primitives
	algos *AlgoCache
}

// NewContext builds a context over a runtime and primitives pair.
func NewContext(rt Runtime, prims Primitives) *Context {
	return &Context{
		rt:    rt,
		prims: prims,
		algos: NewAlgoCache(),
	}
}

func (c *Context) Runtime() Runtime { return c.rt }

func (c *Context) Primitives() Primitives { return c.prims }

// Algos returns the per-context cache of algorithm selection results.
func (c *Context) Algos() *AlgoCache { return c.algos }

// Synchronize blocks until all work submitted through this context completes.
func (c *Context) Synchronize() { c.rt.Synchronize() }
