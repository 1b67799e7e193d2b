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

	"github.com/rditech/rdi-noisecal/calib"
	"github.com/rditech/rdi-noisecal/ccdb"
	"github.com/rditech/rdi-noisecal/data"
	"github.com/rditech/rdi-noisecal/live"
	"github.com/rditech/rdi-noisecal/live/message"
	"github.com/rditech/rdi-noisecal/noise"

	"go.uber.org/zap"
)

var (
	partitions = flag.String("partitions", "", "JSON partition table (default: one partition for every chip)")
	probCut    = flag.Float64("prob-threshold", calib.DefaultProbabilityThreshold, "noise probability at or above which a channel is noisy")
	minCount   = flag.Float64("min-count", calib.DefaultMinCount, "expected hits at threshold before a partition stops")
	clusters   = flag.Bool("clusters", false, "input carries clusters instead of digits")
	bufSize    = flag.Int("b", 10, "read buffer size in number of events")
	tStart     = flag.Int64("tstart", ccdb.Auto, "validity start in ms since epoch (default now)")
	tEnd       = flag.Int64("tend", ccdb.Auto, "validity end in ms since epoch (default start plus one year)")
	objPath    = flag.String("path", ccdb.DefaultPath, "object path in the store")
	meta       = flag.String("meta", "", "object metadata as key=value;key=value")
	storeURL   = flag.String("store", "file://ccdb", "object store: file://dir, gs://bucket, sqlite://file or mem://")
	runName    = flag.String("run", "", "run name announced when the map is published")
	listRuns   = flag.Bool("ls", false, "list the recorded streams under the input file:// or gs:// prefix and exit")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func printUsage() {
	fmt.Fprintf(os.Stderr,
		`Usage: `+os.Args[0]+` [options] <proio-input>

Builds a noise map from a hit stream and publishes it to the object store.

options:
`,
	)
	flag.PrintDefaults()
}

func newLogger() *zap.Logger {
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
		os.Exit(1)
	}
	return logger
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
	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *listRuns {
		runs, err := data.ListRuns(ctx, flag.Arg(0), os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
		if err != nil {
			logger.Error("unable to list runs", zap.Error(err))
			return 1
		}
		for _, r := range runs {
			fmt.Println(r.Name)
		}
		return 0
	}

	if err := calibrate(ctx, logger); err != nil {
		logger.Error("calibration failed", zap.Error(err))
		return 1
	}
	return 0
}

func calibrate(ctx context.Context, logger *zap.Logger) error {
	metadata, errs := ccdb.ParseMetadata(*meta)
	for _, err := range errs {
		logger.Warn("ignoring metadata token", zap.Error(err))
	}

	var (
		router calib.Router = calib.SingleRouter{Key: calib.Key("all")}
		keys                = []calib.Key{"all"}
	)
	if *partitions != "" {
		table, err := calib.LoadPartitionTable(*partitions)
		if err != nil {
			return err
		}
		router, keys = table, table.Keys()
	}

	credentials := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	store, err := ccdb.OpenStore(ctx, *storeURL, credentials)
	if err != nil {
		return err
	}
	defer store.Close()

	reader, err := data.OpenReader(ctx, flag.Arg(0), credentials)
	if err != nil {
		return err
	}
	defer reader.Close()

	var decoder data.Decoder = data.DigitDecoder{}
	if *clusters {
		decoder = &data.ClusterDecoder{}
	}
	src := data.NewReaderSource(reader, decoder, *bufSize, logger)

	publisher := &ccdb.Publisher{Store: store, Path: *objPath, Logger: logger}
	pipeline := &calib.Pipeline{
		Router:     router,
		Partitions: keys,
		Config: calib.Config{
			ProbabilityThreshold: *probCut,
			MinCount:             *minCount,
			Geometry:             noise.DefaultGeometry,
		},
		Publish: func(ctx context.Context, m *noise.NoiseMap) error {
			_, err := publisher.Publish(ctx, m, *tStart, *tEnd, metadata)
			return err
		},
		Logger: logger,
	}

	res, err := pipeline.Run(ctx, src)
	if err != nil {
		return err
	}
	logger.Info("noise map published",
		zap.String("path", *objPath),
		zap.Int("noisyChannels", res.Merged.Len()),
		zap.Uint64("decodeAnomalies", src.Anomalies()),
	)

	if *runName == "" {
		return nil
	}
	client, closeRedis, err := message.Connect(os.Getenv("REDIS_ADDR"), logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	var status live.Status
	for key, sum := range res.Partitions {
		live.SetSummary(&status, key, sum)
	}
	if err := status.Publish(client, *runName); err != nil {
		logger.Warn("unable to publish status", zap.Error(err))
	}
	return message.AnnounceDone(client, *runName, map[string]string{"path": *objPath})
}
