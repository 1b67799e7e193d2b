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
	"time"

	"github.com/rditech/rdi-noisecal/calib"
	"github.com/rditech/rdi-noisecal/ccdb"
	"github.com/rditech/rdi-noisecal/live/message"
	"github.com/rditech/rdi-noisecal/noise"

	"go.uber.org/zap"
)

var (
	partitions = flag.String("partitions", "", "JSON partition table (required)")
	timeout    = flag.Duration("timeout", 0, "give up waiting for partitions after this long, 0 waits forever")
	tStart     = flag.Int64("tstart", ccdb.Auto, "validity start in ms since epoch (default now)")
	tEnd       = flag.Int64("tend", ccdb.Auto, "validity end in ms since epoch (default start plus one year)")
	objPath    = flag.String("path", ccdb.DefaultPath, "object path in the store")
	meta       = flag.String("meta", "", "object metadata as key=value;key=value")
	storeURL   = flag.String("store", "file://ccdb", "object store: file://dir, gs://bucket, sqlite://file or mem://")
	reset      = flag.Bool("reset", false, "clear queued partial maps of the run and exit")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func printUsage() {
	fmt.Fprintf(os.Stderr,
		`Usage: `+os.Args[0]+` [options] <run>

Collects the partial noise maps of run, merges them and publishes the
result.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() != 1 || (*partitions == "" && !*reset) {
		printUsage()
		os.Exit(2)
	}
	os.Exit(execute())
}

// execute returns the exit code once every deferred cleanup has happened.
func execute() int {
	var (
		logger *zap.Logger
		err    error
	)
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to create logger:", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, *timeout)
		defer cancelTimeout()
	}

	run := flag.Arg(0)
	logger = logger.With(zap.String("run", run))
	if err := merge(ctx, run, logger); err != nil {
		logger.Error("merge failed", zap.Error(err))
		return 1
	}
	return 0
}

func merge(ctx context.Context, run string, logger *zap.Logger) error {
	client, closeRedis, err := message.ConnectShared(os.Getenv("REDIS_ADDR"), logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	if *reset {
		return message.ResetRun(client, run)
	}

	table, err := calib.LoadPartitionTable(*partitions)
	if err != nil {
		return err
	}
	metadata, errs := ccdb.ParseMetadata(*meta)
	for _, err := range errs {
		logger.Warn("ignoring metadata token", zap.Error(err))
	}
	if _, ok := metadata.Get("run"); !ok {
		metadata.Set("run", run)
	}

	credentials := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	store, err := ccdb.OpenStore(ctx, *storeURL, credentials)
	if err != nil {
		return err
	}
	defer store.Close()

	merger := calib.NewMerger(noise.DefaultGeometry, table.Keys())
	start := time.Now()
	if err := message.CollectPartialMaps(ctx, client, run, merger, logger); err != nil {
		if missing := merger.Missing(); len(missing) > 0 {
			logger.Error("partitions still missing", zap.Any("missing", missing))
		}
		return err
	}
	logger.Info("all partitions collected", zap.Duration("elapsed", time.Since(start)))

	merged, err := merger.MergedResult()
	if err != nil {
		return err
	}
	publisher := &ccdb.Publisher{Store: store, Path: *objPath, Logger: logger}
	obj, err := publisher.Publish(ctx, merged, *tStart, *tEnd, metadata)
	if err != nil {
		return err
	}
	return message.AnnounceDone(client, run, map[string]string{
		"path": obj.Info.Path,
		"file": obj.Info.FileName,
	})
}
