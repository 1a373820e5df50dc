package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"
	"github.com/meigma/pcapidx"
	"github.com/meigma/pcapidx/bgzf"
	"github.com/meigma/pcapidx/internal/testutil"
)

type config struct {
	mode            string
	packets         int
	gap             time.Duration
	blockSize       int
	readAhead       int
	level           uint
	interval        time.Duration
	span            int
	dataURL         string
	dataHTTPLatency time.Duration
	dataHTTPBPS     byteRate
	fgProfile       string
	duration        time.Duration
	iterations      int
	pprofAddr       string
	cpuProfile      string
	memProfile      string
	traceFile       string
	tempDir         string
	keepTemp        bool
	randomSeed      int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkResult pcapidx.ExtractResult
	sinkHeader *pcapidx.IndexHeader
	sinkBuild  pcapidx.BuildResult
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()
	ctx := context.Background()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	tc, compressed, err := makeCapture(cfg)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}

	src, err := openCapture(ctx, cfg, compressed)
	if err != nil {
		log.Fatal(err)
	}
	defer src.close()

	indexPath := filepath.Join(dir, "profile.pcapidx")
	if cfg.mode != "build" {
		if err := buildIndex(ctx, cfg, src.capture, indexPath); err != nil {
			log.Fatal(err)
		}
	}

	var stopFG func() error
	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		stopFG = fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(ctx, cfg, tc, src, indexPath)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d packets=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.packets,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
	if stats.ops > 0 {
		fmt.Printf("source reads=%d (%.1f/op) compressed=%d bytes (%.1f KiB/op) http_requests=%d\n",
			stats.source.reads,
			float64(stats.source.reads)/float64(stats.ops),
			stats.source.readBytes,
			float64(stats.source.readBytes)/1024/float64(stats.ops),
			stats.source.requests,
		)
	}
}

type profileStats struct {
	ops     int
	packets uint64
	bytes   int64
	elapsed time.Duration
	// source counts reads of the compressed capture during the run only.
	source sourceUsage
}

//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(ctx context.Context, cfg config, tc *testutil.Capture, src *profileSource, indexPath string) (profileStats, error) {
	capture := src.capture
	before := src.usage()
	start := time.Now()
	ops := 0
	var packets uint64
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	switch cfg.mode {
	case "build":
		captureSize := int64(len(tc.Bytes()))
		for shouldContinue() {
			path := filepath.Join(filepath.Dir(indexPath), fmt.Sprintf("build-%d.pcapidx", ops))
			res, err := buildIndexResult(ctx, cfg, capture, path)
			if err != nil {
				return profileStats{}, err
			}
			if err := os.Remove(path); err != nil {
				return profileStats{}, err
			}
			sinkBuild = res
			packets += uint64(res.Packets)
			byteCount += captureSize
			ops++
		}

	case "verify":
		sess, err := pcapidx.OpenIndex(indexPath)
		if err != nil {
			return profileStats{}, err
		}
		defer sess.Close()
		for shouldContinue() {
			h, err := sess.Verify()
			if err != nil {
				return profileStats{}, err
			}
			sinkHeader = h
			byteCount += h.Size
			ops++
		}

	case "extract-ordinal", "extract-temporal":
		sess, err := pcapidx.OpenIndex(indexPath,
			pcapidx.WithCapture(capture),
			pcapidx.WithOutput(io.Discard),
			pcapidx.WithFuzzyMatching(true))
		if err != nil {
			return profileStats{}, err
		}
		defer sess.Close()

		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			r := pickRange(cfg, tc, rng)
			res, err := sess.Extract(ctx, r)
			if err != nil {
				return profileStats{}, fmt.Errorf("extract %s: %w", r, err)
			}
			sinkResult = res
			packets += res.Written
			byteCount += int64(res.Bytes) //nolint:gosec // output sizes fit int64
			ops++
		}

	case "scan":
		for shouldContinue() {
			if err := capture.Seek(0); err != nil {
				return profileStats{}, err
			}
			n, err := io.Copy(io.Discard, capture)
			if err != nil {
				return profileStats{}, err
			}
			packets += uint64(len(tc.Packets))
			byteCount += n
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		packets: packets,
		bytes:   byteCount,
		elapsed: time.Since(start),
		source:  src.usage().sub(before),
	}, nil
}

// pickRange selects a run of cfg.span packets starting at a random packet.
// Temporal ranges cover the same packets by timestamp.
//
//nolint:gocritic // hugeParam acceptable for profiler config
func pickRange(cfg config, tc *testutil.Capture, rng *rand.Rand) pcapidx.Range {
	span := min(max(cfg.span, 1), len(tc.Packets))
	first := rng.Intn(len(tc.Packets)-span+1) + 1
	last := first + span - 1
	if cfg.mode == "extract-temporal" {
		return pcapidx.TemporalRange(
			pcapidx.TimestampFromTime(tc.Packets[first-1].Timestamp),
			pcapidx.TimestampFromTime(tc.Packets[last-1].Timestamp))
	}
	return pcapidx.OrdinalRange(uint32(first), uint32(last)) //nolint:gosec // bounded by the packet count
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.mode, "mode", "extract-ordinal", "mode: build, verify, extract-ordinal, extract-temporal, scan")
	flag.IntVar(&cfg.packets, "packets", 200_000, "number of packets in the synthetic capture")
	flag.DurationVar(&cfg.gap, "gap", time.Millisecond, "time between packets")
	flag.IntVar(&cfg.blockSize, "block-size", bgzf.DefaultBlockDataSize, "uncompressed bytes per BGZF block")
	flag.IntVar(&cfg.readAhead, "read-ahead", bgzf.DefaultReadAhead, "compressed bytes fetched per read")
	flag.UintVar(&cfg.level, "level", 1000, "ordinal index level")
	flag.DurationVar(&cfg.interval, "interval", 10*time.Second, "temporal index level")
	flag.IntVar(&cfg.span, "span", 500, "packets per extraction")
	flag.StringVar(&cfg.dataURL, "data-url", "", "HTTP capture URL (use \"local\" to serve the generated capture)")
	flag.DurationVar(&cfg.dataHTTPLatency, "data-http-latency", 0, "per-request latency for HTTP capture source")
	flag.Var(&cfg.dataHTTPBPS, "data-http-bps", "bytes/sec per range request for HTTP capture source (e.g. 10MBps)")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory for the index files")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "pcapidx-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func makeCapture(cfg config) (*testutil.Capture, []byte, error) {
	tc, err := testutil.Generate(testutil.Config{
		Packets: cfg.packets,
		Gap:     func(int) time.Duration { return cfg.gap },
	})
	if err != nil {
		return nil, nil, err
	}
	compressed, err := tc.Compress(cfg.blockSize)
	if err != nil {
		return nil, nil, err
	}
	return tc, compressed, nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildIndex(ctx context.Context, cfg config, capture *pcapidx.Capture, path string) error {
	_, err := buildIndexResult(ctx, cfg, capture, path)
	return err
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildIndexResult(ctx context.Context, cfg config, capture *pcapidx.Capture, path string) (pcapidx.BuildResult, error) {
	sess, err := pcapidx.CreateIndex(path, pcapidx.WithCapture(capture))
	if err != nil {
		return pcapidx.BuildResult{}, err
	}
	res, err := sess.Build(ctx,
		pcapidx.OrdinalIndex(uint32(cfg.level)), //nolint:gosec // flag value bounded by the user
		pcapidx.TemporalIndex(cfg.interval))
	if cerr := sess.Close(); err == nil {
		err = cerr
	}
	return res, err
}
