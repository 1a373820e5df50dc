// Command pcapidx builds and uses secondary indexes over BGZF-compressed
// pcap captures.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/pcapidx"
	"github.com/meigma/pcapidx/bgzf"
	"github.com/meigma/pcapidx/internal/file"
	"github.com/meigma/pcapidx/internal/pcap"
)

const usageText = `Compressed pcap packet indexing

Usage: pcapidx [flags] <command> [args...]

Commands:
  index mode:level[,mode:level] index.pcapidx capture.pcap.gz
        index a BGZF compressed capture; index.pcapidx is created or
        overwritten. Run "pcapidx modes" for the index formats.
  verify index.pcapidx...
        verify one or more index files and describe them
  dump index.pcapidx
        verify an index file and print every record
  extract mode:n[-m] index.pcapidx capture.pcap.gz new.pcap
        extract a packet range from the capture into new.pcap
  compress [-level n] [-block-size n] capture.pcap capture.pcap.gz
        compress a plain capture into a BGZF container
  modes
        print the supported index and extraction modes
  version
        print the program version

Captures may be http:// or https:// URLs served with range requests.

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type config struct {
	debug bool
	fuzzy bool
	tz    string

	logger   *slog.Logger
	location *time.Location
	stdout   io.Writer
	stderr   io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config{stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet("pcapidx", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&cfg.debug, "debug", false, "enable debug messages")
	fs.BoolVar(&cfg.fuzzy, "fuzzy", false, "enable fuzzy matching (timestamp extraction only)")
	fs.StringVar(&cfg.tz, "tz", "Local", "time zone for timestamps, e.g. UTC or Europe/Berlin")
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	cfg.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	loc, err := time.LoadLocation(cfg.tz)
	if err != nil {
		fmt.Fprintf(stderr, "pcapidx: -tz: %v\n", err)
		return 2
	}
	cfg.location = loc

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "index":
		err = cfg.index(ctx, rest)
	case "verify":
		err = cfg.verify(rest)
	case "dump":
		err = cfg.dump(rest)
	case "extract":
		err = cfg.extract(ctx, rest)
	case "compress":
		err = cfg.compress(ctx, rest)
	case "modes":
		fmt.Fprint(stdout, pcapidx.ModeHelp())
	case "version":
		fmt.Fprintf(stdout, "version: %s\n", pcapidx.Version)
	default:
		err = usageError("unknown command %q", cmd)
	}

	var uerr usageErr
	switch {
	case err == nil:
		return 0
	case errors.As(err, &uerr):
		fmt.Fprintf(stderr, "pcapidx: %v\n", err)
		fs.Usage()
		return 2
	default:
		fmt.Fprintf(stderr, "pcapidx: %v\n", err)
		return 1
	}
}

type usageErr struct{ msg string }

func (e usageErr) Error() string { return e.msg }

func usageError(format string, args ...any) error {
	return usageErr{msg: fmt.Sprintf(format, args...)}
}

func (c *config) sessionOptions() []pcapidx.Option {
	return []pcapidx.Option{
		pcapidx.WithLogger(c.logger),
		pcapidx.WithFuzzyMatching(c.fuzzy),
		pcapidx.WithLocation(c.location),
		pcapidx.WithProgress(func(ev pcapidx.ProgressEvent) {
			c.logger.Debug("progress",
				slog.String("stage", ev.Stage.String()),
				slog.Uint64("packets", ev.Packets),
				slog.Uint64("records", ev.Records),
				slog.Uint64("written", ev.Written))
		}),
	}
}

func (c *config) index(ctx context.Context, args []string) (err error) {
	if len(args) != 3 {
		return usageError("index needs mode:level, an index file and a capture")
	}
	specs, err := pcapidx.ParseIndexSpec(args[0])
	if err != nil {
		return err
	}
	capture, err := pcapidx.OpenCapture(ctx, args[2], pcapidx.CaptureWithLogger(c.logger))
	if err != nil {
		return err
	}
	defer capture.Close()

	sess, err := pcapidx.CreateIndex(args[1], append(c.sessionOptions(), pcapidx.WithCapture(capture))...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close())
	}()

	fmt.Fprintf(c.stdout, "indexing %s...\n", args[2])
	res, err := sess.Build(ctx, specs...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "indexed %d %s packets\n", res.Packets, res.LinkType)
	fmt.Fprintf(c.stdout, "wrote %d records to %s\n", res.Records(), args[1])
	return nil
}

// verify checks each index file on its own session, in parallel, and prints
// the reports in argument order.
func (c *config) verify(args []string) error {
	if len(args) == 0 {
		return usageError("verify needs at least one index file")
	}
	reports := make([]bytes.Buffer, len(args))
	errs := make([]error, len(args))

	var g errgroup.Group
	g.SetLimit(4)
	for i, path := range args {
		g.Go(func() error {
			errs[i] = verifyOne(path, &reports[i], c.sessionOptions())
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for i, path := range args {
		if len(args) > 1 {
			fmt.Fprintf(c.stdout, "%s:\n", path)
		}
		if errs[i] != nil {
			fmt.Fprintf(c.stdout, "invalid index file: %v\n", errs[i])
			failed = append(failed, fmt.Errorf("%s: %w", path, errs[i]))
			continue
		}
		_, _ = reports[i].WriteTo(c.stdout)
	}
	return errors.Join(failed...)
}

func verifyOne(path string, w io.Writer, opts []pcapidx.Option) (err error) {
	sess, err := pcapidx.OpenIndex(path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close())
	}()
	_, err = sess.Verify(pcapidx.VerifyWithDetails(w))
	return err
}

func (c *config) dump(args []string) (err error) {
	if len(args) != 1 {
		return usageError("dump needs one index file")
	}
	sess, err := pcapidx.OpenIndex(args[0], c.sessionOptions()...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close())
	}()

	if _, err := sess.Verify(pcapidx.VerifyWithDetails(c.stdout)); err != nil {
		return err
	}
	n, err := sess.Dump(c.stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "dumped %d records\n", n)
	return nil
}

func (c *config) extract(ctx context.Context, args []string) (err error) {
	if len(args) != 4 {
		return usageError("extract needs mode:range, an index file, a capture and an output file")
	}
	r, err := pcapidx.ParseRange(args[0], c.location)
	if err != nil {
		return err
	}
	capture, err := pcapidx.OpenCapture(ctx, args[2], pcapidx.CaptureWithLogger(c.logger))
	if err != nil {
		return err
	}
	defer capture.Close()

	out, err := os.Create(args[3]) //nolint:gosec // user-chosen output path
	if err != nil {
		return fmt.Errorf("%w: create output: %w", pcapidx.ErrIO, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()
	bw := bufio.NewWriterSize(out, 1<<20)

	sess, err := pcapidx.OpenIndex(args[1],
		append(c.sessionOptions(), pcapidx.WithCapture(capture), pcapidx.WithOutput(bw))...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close())
	}()

	fmt.Fprintf(c.stdout, "extracting from %s using %s...\n", args[2], args[1])
	res, err := sess.Extract(ctx, r)
	if ferr := bw.Flush(); ferr != nil {
		err = errors.Join(err, fmt.Errorf("%w: flush output: %w", pcapidx.ErrIO, ferr))
	}
	fmt.Fprintf(c.stdout, "wrote %d packets to %s (%s)\n", res.Written, args[3], res.Digest)
	return err
}

func (c *config) compress(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("compress", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	level := fs.Int("level", -1, "deflate level, -1 for the default, 0 to 9")
	blockSize := fs.Int("block-size", bgzf.DefaultBlockDataSize, "uncompressed bytes per block")
	if err := fs.Parse(args); err != nil {
		return usageError("compress: %v", err)
	}
	if fs.NArg() != 2 {
		return usageError("compress needs an input capture and an output file")
	}
	if *level < -1 || *level > 9 {
		return usageError("compress: -level %d out of range", *level)
	}

	in, err := os.Open(fs.Arg(0)) //nolint:gosec // user-chosen input path
	if err != nil {
		return fmt.Errorf("%w: open capture: %w", pcapidx.ErrIO, err)
	}
	defer in.Close()

	br := bufio.NewReaderSize(in, 1<<20)
	hdr, err := br.Peek(pcap.GlobalHeaderSize)
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), pcap.ErrShortHeader)
	}
	gh, err := pcap.DecodeGlobalHeader(hdr)
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), err)
	}
	c.logger.Debug("compressing capture",
		slog.Bool("nanos", gh.Nanos),
		slog.Uint64("snaplen", uint64(gh.Snaplen)))
	fmt.Fprintf(c.stdout, "link type: %s\n", gh.LinkType())

	out, err := os.Create(fs.Arg(1)) //nolint:gosec // user-chosen output path
	if err != nil {
		return fmt.Errorf("%w: create output: %w", pcapidx.ErrIO, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	zw, err := bgzf.NewWriter(out, bgzf.WithCompressionLevel(*level), bgzf.WithBlockSize(*blockSize))
	if err != nil {
		return err
	}
	n, err := file.CopyContext(ctx, zw, br, make([]byte, 256<<10))
	if err != nil {
		return fmt.Errorf("%w: compress: %w", pcapidx.ErrIO, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: compress: %w", pcapidx.ErrIO, err)
	}
	fmt.Fprintf(c.stdout, "compressed %d bytes to %s\n", n, fs.Arg(1))
	return nil
}
