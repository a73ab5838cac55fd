package bench

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-whetstone/internal/ops"
)

var tracer = otel.Tracer("whetstone-runner")

// Result holds the timing summary for one benchmarked operation.
type Result struct {
	Name       string
	Kind       string
	Iterations int
	Warmup     int
	Backward   bool
	Total      time.Duration
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
}

// Runner times repeated forward (and optionally backward) passes of a
// single operation. Setup cost stays outside the measurement: the operation
// must already be Ready, and warmup iterations absorb first-call effects
// such as lazy data filling.
type Runner struct {
	Warmup     int
	Iterations int
	Backward   bool
}

// Benchmark runs the warmup and timed iterations for op and returns the
// per-iteration timing summary.
func (r *Runner) Benchmark(ctx context.Context, op ops.Operation) (Result, error) {
	iters := r.Iterations
	if iters <= 0 {
		iters = 1
	}

	_, span := tracer.Start(ctx, "benchmark")
	span.SetAttributes(
		attribute.String("op.name", op.Name()),
		attribute.String("op.kind", op.Kind().String()),
		attribute.Int("iterations", iters),
	)
	defer span.End()

	for i := 0; i < r.Warmup; i++ {
		if err := op.ForwardPropagation(); err != nil {
			span.RecordError(err)
			return Result{}, err
		}
	}

	res := Result{
		Name:       op.Name(),
		Kind:       op.Kind().String(),
		Iterations: iters,
		Warmup:     r.Warmup,
		Backward:   r.Backward,
	}

	for i := 0; i < iters; i++ {
		start := time.Now()
		if err := op.ForwardPropagation(); err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		if r.Backward {
			if err := op.BackwardPropagation(); err != nil {
				span.RecordError(err)
				return Result{}, err
			}
		}
		elapsed := time.Since(start)

		forwardDuration.WithLabelValues(res.Kind).Observe(elapsed.Seconds())
		res.Total += elapsed
		if res.Min == 0 || elapsed < res.Min {
			res.Min = elapsed
		}
		if elapsed > res.Max {
			res.Max = elapsed
		}
	}
	res.Mean = res.Total / time.Duration(iters)

	iterationsTotal.WithLabelValues(res.Kind).Add(float64(iters))
	log.Info().
		Str("op", res.Name).
		Str("kind", res.Kind).
		Int("iterations", res.Iterations).
		Dur("mean", res.Mean).
		Dur("min", res.Min).
		Dur("max", res.Max).
		Msg("Benchmark complete")

	return res, nil
}
