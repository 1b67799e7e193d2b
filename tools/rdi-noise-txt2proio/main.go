// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rditech/rdi-noisecal/data"

	"go.uber.org/zap"
)

var (
	outTarget = flag.String("o", "", "output: file path, file://, gs://bucket/object or redis://addr/channel (default stdout)")
	compLevel = flag.Int("c", 1, "output compression level: 0 for uncompressed, 1 for LZ4 compression, 2 for GZIP compression, 3 for LZMA compression")
	frames    = flag.Uint64("f", 1, "frames per event")
)

func printUsage() {
	fmt.Fprintf(os.Stderr,
		`Usage: `+os.Args[0]+` [options] <input-file>

Converts a text hit listing into a digit stream. Each line holds
"<frame> <chip> <row> <col>", or "<frame>" for a frame without hits.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() != 1 {
		printUsage()
		os.Exit(2)
	}
	os.Exit(execute())
}

// execute returns the exit code once every deferred cleanup has happened.
func execute() int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to create logger:", err)
		return 1
	}
	defer logger.Sync()

	var input io.Reader
	filename := flag.Arg(0)
	if filename == "-" {
		input = bufio.NewReader(os.Stdin)
	} else {
		file, err := os.Open(filename)
		if err != nil {
			logger.Error("unable to open input", zap.Error(err))
			return 1
		}
		defer file.Close()
		input = file
	}

	ctx := context.Background()
	writer, err := data.OpenWriter(ctx, *outTarget, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if err != nil {
		logger.Error("unable to open output", zap.Error(err))
		return 1
	}
	data.SetCompression(writer, *compLevel)

	n, err := data.ConvertText(input, *frames, writer.Push)
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Error("conversion failed", zap.Int("events", n), zap.Error(err))
		return 1
	}
	logger.Info("conversion done", zap.Int("events", n))
	return 0
}
