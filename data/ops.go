// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/proio-org/go-proio"
	"go.uber.org/zap"
)

// Op is one stage of an event processing chain.
type Op interface {
	GetDescription() string
	Run(input <-chan *proio.Event) <-chan *proio.Event
}

type OpArray []Op

func (ops OpArray) Run(stream <-chan *proio.Event) <-chan *proio.Event {
	for _, o := range ops {
		stream = o.Run(stream)
	}
	return stream
}

func (ops OpArray) Sink(stream <-chan *proio.Event) {
	for range ops.Run(stream) {
	}
}

// FlagSet holds the stream options shared by the hit-stream tools.
var FlagSet = flag.NewFlagSet("", flag.ExitOnError)

var (
	outTarget   = FlagSet.String("o", "", "output: file path, file://, gs://bucket/object or redis://addr/channel (default stdout)")
	compLevel   = FlagSet.Int("c", 1, "output compression level: 0 for uncompressed, 1 for LZ4 compression, 2 for GZIP compression, 3 for LZMA compression")
	readBufSize = FlagSet.Int("b", 10, "read buffer size in number of events")
	concurrency = FlagSet.Int("t", 1, "level of concurrency")
	maxEventBuf = FlagSet.Int("e", 200, "max event buffer for maintaining event order")
	bucketThres = FlagSet.Int("d", 0x10000, "bucket dump threshold in bytes")
	loop        = FlagSet.Bool("l", false, "infinite loop over data")
	cpuProfile  = FlagSet.String("cpuprofile", "", "output file for cpu profiling")
	memProfile  = FlagSet.String("memprofile", "", "output file for memory profiling")
)

// ReadBufSize is the -b option.
func ReadBufSize() int { return *readBufSize }

// SetCompression applies a -c style compression level to writer.
func SetCompression(writer *proio.Writer, level int) {
	switch level {
	case 3:
		writer.SetCompression(proio.LZMA)
	case 2:
		writer.SetCompression(proio.GZIP)
	case 1:
		writer.SetCompression(proio.LZ4)
	default:
		writer.SetCompression(proio.UNCOMPRESSED)
	}
}

func (ops OpArray) usage() string {
	var desc strings.Builder
	for i, o := range ops {
		desc.WriteString(strconv.Itoa(i) + ") " + o.GetDescription())
		if i < len(ops)-1 {
			desc.WriteString("\n")
		}
	}
	return desc.String()
}

func (ops OpArray) RunCmdFlagParse() {
	desc := ops.usage()
	FlagSet.Usage = func() {
		fmt.Fprintf(os.Stderr,
			`Usage: `+os.Args[0]+` [options] <proio-input>

`+desc+`

options:
`,
		)
		FlagSet.PrintDefaults()
	}
	if !FlagSet.Parsed() {
		FlagSet.Parse(os.Args[1:])
	}

	if FlagSet.NArg() != 1 {
		FlagSet.Usage()
		os.Exit(2)
	}
}

// RunCmd streams the input argument through ops into the -o target.
func (ops OpArray) RunCmd(ctx context.Context, logger *zap.Logger) error {
	ops.RunCmdFlagParse()

	credentials := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	reader, err := OpenReader(ctx, FlagSet.Arg(0), credentials)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := OpenWriter(ctx, *outTarget, credentials)
	if err != nil {
		return err
	}
	SetCompression(writer, *compLevel)
	writer.BucketDumpThres = *bucketThres
	defer writer.Close()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			return fmt.Errorf("could not create cpu profile file: %w", err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	var nEvents uint64
run:
	for {
		for event := range ops.Run(reader.ScanEvents(*readBufSize)) {
			if err := writer.Push(event); err != nil {
				logger.Error("failed to push event", zap.Uint64("events", nEvents), zap.Error(err))
				break run
			}
			nEvents++
		}

		if reader.Err != io.EOF {
			logger.Error("read failed", zap.Uint64("events", nEvents), zap.Error(reader.Err))
			break
		}
		if !*loop {
			break
		}
		reader.SeekToStart()
	}
	logger.Info("stream done", zap.Uint64("events", nEvents))

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("could not write memory profile: %w", err)
		}
	}
	return nil
}

// StreamProcessor consumes an input stream and writes to output. Output is
// closed by the caller once the processor returns.
type StreamProcessor func(<-chan *proio.Event, chan<- *proio.Event)

type StreamOp struct {
	Description     string
	StreamProcessor StreamProcessor
	MaxEventBuf     int
}

func (o StreamOp) GetDescription() string {
	return o.Description
}

func (o StreamOp) Run(input <-chan *proio.Event) <-chan *proio.Event {
	if o.MaxEventBuf == 0 {
		o.MaxEventBuf = *maxEventBuf
	}
	output := make(chan *proio.Event, o.MaxEventBuf)
	go func() {
		defer close(output)
		o.StreamProcessor(input, output)
	}()
	return output
}

type EventProcessor func(*proio.Event)

// EventOp applies EventProcessor to up to Concurrency events at once and
// emits them in input order.
type EventOp struct {
	Description    string
	EventProcessor EventProcessor
	Concurrency    int
	MaxEventBuf    int
}

func (o EventOp) GetDescription() string {
	return o.Description
}

func (o EventOp) Run(input <-chan *proio.Event) <-chan *proio.Event {
	if o.Concurrency <= 0 {
		o.Concurrency = *concurrency
	}
	if o.MaxEventBuf <= 0 {
		o.MaxEventBuf = *maxEventBuf
	}

	output := make(chan *proio.Event, o.MaxEventBuf)
	inFlight := make(chan chan *proio.Event, o.Concurrency)

	go func() {
		defer close(inFlight)
		for event := range input {
			done := make(chan *proio.Event, 1)
			inFlight <- done
			go func(event *proio.Event) {
				o.EventProcessor(event)
				done <- event
			}(event)
		}
	}()

	go func() {
		defer close(output)
		for done := range inFlight {
			output <- <-done
		}
	}()

	return output
}
