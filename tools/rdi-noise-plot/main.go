// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rditech/rdi-noisecal/ccdb"
	"github.com/rditech/rdi-noisecal/live/message"
	"github.com/rditech/rdi-noisecal/plot"

	"go.uber.org/zap"
)

var (
	storeURL = flag.String("store", "file://ccdb", "object store: file://dir, gs://bucket or sqlite://file")
	objPath  = flag.String("path", ccdb.DefaultPath, "object path in the store")
	at       = flag.Int64("at", ccdb.Auto, "validity time in ms since epoch (default now)")
	frames   = flag.Uint64("frames", 0, "frames behind the map (default: the object's frames metadata)")
	outDir   = flag.String("o", ".", "output directory")
	format   = flag.String("f", "png", "image format")
	chips    = flag.Bool("chips", false, "draw a heat map for every chip with noisy pixels")
	waitRun  = flag.String("wait", "", "wait for this run to be announced done before fetching")
)

func printUsage() {
	fmt.Fprintf(os.Stderr,
		`Usage: `+os.Args[0]+` [options]

Draws the noise map valid at a given time.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := draw(ctx, logger); err != nil {
		logger.Error("plotting failed", zap.Error(err))
		return 1
	}
	return 0
}

func draw(ctx context.Context, logger *zap.Logger) error {
	if *waitRun != "" {
		client, closeRedis, err := message.ConnectShared(os.Getenv("REDIS_ADDR"), logger)
		if err != nil {
			return err
		}
		msg, err := message.WaitDone(ctx, client, *waitRun, logger)
		closeRedis()
		if err != nil {
			return err
		}
		if p, ok := msg.Metadata["path"]; ok {
			*objPath = p
		}
	}

	store, err := ccdb.OpenStore(ctx, *storeURL, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if err != nil {
		return err
	}
	defer store.Close()

	ms := *at
	if ms == ccdb.Auto {
		ms = time.Now().UnixMilli()
	}
	m, info, err := ccdb.Fetch(ctx, store, *objPath, ms)
	if err != nil {
		return err
	}

	total := *frames
	if total == 0 {
		if v, ok := info.Metadata.Get("frames"); ok {
			total, _ = strconv.ParseUint(v, 10, 64)
		}
	}
	if total == 0 {
		return fmt.Errorf("%s/%s: frame count unknown, use -frames", info.Path, info.FileName)
	}

	file := filepath.Join(*outDir, "noise-probability."+*format)
	if err := plot.Save(plot.ProbabilityPlot(m, total), file); err != nil {
		return err
	}
	logger.Info("plot written", zap.String("file", file), zap.Int("noisyChannels", m.Len()))

	if !*chips {
		return nil
	}
	for _, chip := range m.Chips() {
		file := filepath.Join(*outDir, fmt.Sprintf("chip-%04d.%s", chip, *format))
		if err := plot.Save(plot.ChipHeatMap(m, chip, total), file); err != nil {
			return err
		}
	}
	logger.Info("chip maps written", zap.Int("chips", len(m.Chips())))
	return nil
}
