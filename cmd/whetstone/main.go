package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-whetstone/internal/bench"
	"github.com/23skdu/longbow-whetstone/internal/client"
	"github.com/23skdu/longbow-whetstone/internal/device"
	"github.com/23skdu/longbow-whetstone/internal/ops"
	"github.com/23skdu/longbow-whetstone/internal/suite"
)

var (
	suitePath   = flag.String("suite", "", "Path to workload suite file (.json or .cbor); built-in suite if empty")
	iterations  = flag.Int("iterations", 50, "Timed iterations per operation")
	warmup      = flag.Int("warmup", 5, "Warmup iterations per operation")
	backward    = flag.Bool("backward", false, "Also run backward propagation in the timed loop")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
	listenAddr  = flag.String("listen", "", "Address to serve Prometheus /metrics on (e.g. :8080)")
	pushAddr    = flag.String("push", "", "Longbow server address to push results to (e.g. localhost:3000)")
	datasetName = flag.String("dataset", "whetstone_results", "Target dataset name on server")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	flagMaxMem  = flag.String("max-mem", "0", "Device memory capacity (e.g. 4GB, 512MB; 0 = unlimited)")
)

func parseBytes(s string) int64 {
	// 4GB, 100MB, 1024
	if s == "" || s == "0" {
		return 0
	}
	var val int64
	var unit string
	fmt.Sscanf(s, "%d%s", &val, &unit)

	switch unit {
	case "GB", "G":
		return val * 1024 * 1024 * 1024
	case "MB", "M":
		return val * 1024 * 1024
	case "KB", "K":
		return val * 1024
	default:
		return val
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *listenAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Info().Str("addr", *listenAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(*listenAddr, nil); err != nil {
				log.Fatal().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	capBytes := parseBytes(*flagMaxMem)
	capElems := int(capBytes / 4)
	if capBytes > 0 {
		log.Info().Str("max_mem", *flagMaxMem).Int("elements", capElems).Msg("Device memory capacity")
	}

	rt := device.NewCPURuntime(capElems)
	ctx := device.NewContext(rt, rt)
	reg := device.NewRegistry(rt)

	wl := suite.Default()
	if *suitePath != "" {
		var err error
		wl, err = suite.Load(*suitePath)
		if err != nil {
			log.Fatal().Err(err).Str("suite", *suitePath).Msg("Failed to load suite")
		}
	}
	log.Info().Str("suite", wl.Name).Int("ops", len(wl.Ops)).Str("runtime", rt.Name()).Msg("Building workload")

	operations, err := wl.Build(ctx, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build workload")
	}

	// Setup in suite order so composed ops find their producer Ready.
	for _, op := range operations {
		if err := op.Setup(); err != nil {
			log.Fatal().Err(err).Str("op", op.Name()).Msg("Setup failed")
		}
		ev := log.Info().
			Str("op", op.Name()).
			Str("kind", op.Kind().String()).
			Str("in", op.InputShape().String()).
			Str("out", op.OutputShape().String())
		if conv, ok := op.(*ops.Convolution); ok {
			_, scratchElems := conv.Scratch()
			ev = ev.Str("algo", conv.Algorithm().String()).Int("workspace_elems", scratchElems)
		}
		ev.Msg("Operation ready")
	}

	runner := &bench.Runner{Warmup: *warmup, Iterations: *iterations, Backward: *backward}
	results := make([]bench.Result, 0, len(operations))

	start := time.Now()
	for _, op := range operations {
		res, err := runner.Benchmark(context.Background(), op)
		if err != nil {
			log.Fatal().Err(err).Str("op", op.Name()).Msg("Benchmark failed")
		}
		results = append(results, res)
	}
	log.Info().Dur("elapsed", time.Since(start)).Int("ops", len(results)).Msg("Run complete")

	// Teardown in reverse so consumers release before their producers.
	for i := len(operations) - 1; i >= 0; i-- {
		if err := operations[i].Teardown(); err != nil {
			log.Fatal().Err(err).Str("op", operations[i].Name()).Msg("Teardown failed")
		}
	}
	if stats := reg.Stats(); stats.Live != 0 {
		log.Warn().Int("live", stats.Live).Int("elems", stats.LiveElems).Msg("Buffers leaked across run")
	}

	pool := memory.NewGoAllocator()
	rec := bench.NewRecord(pool, results)
	defer rec.Release()

	if *pushAddr != "" {
		log.Info().Str("server", *pushAddr).Str("dataset", *datasetName).Msg("Pushing results")
		rc, err := client.NewResultsClient(*pushAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Longbow")
		}
		defer func() {
			if err := rc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close results client")
			}
		}()

		pushCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := rc.Push(pushCtx, *datasetName, rec); err != nil {
			log.Fatal().Err(err).Msg("Flight DoPut failed")
		}
		return
	}

	if err := bench.WriteIPC(os.Stdout, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to write arrow stream")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("whetstone"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
