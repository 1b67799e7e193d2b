// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
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
	partitions  = flag.String("partitions", "", "JSON partition table (required)")
	probCut     = flag.Float64("prob-threshold", calib.DefaultProbabilityThreshold, "noise probability at or above which a channel is noisy")
	minCount    = flag.Float64("min-count", calib.DefaultMinCount, "expected hits at threshold before the partition stops")
	clusters    = flag.Bool("clusters", false, "input carries clusters instead of digits")
	bufSize     = flag.Int("b", 10, "read buffer size in number of events")
	statusEvery = flag.Uint64("status", 1000, "publish progress every n batches, 0 to disable")
	storeURL    = flag.String("publish", "", "also publish the partial map to this object store")
	objPath     = flag.String("path", ccdb.DefaultPath, "object path in the store; the partition name is appended")
	verbose     = flag.Bool("v", false, "verbose logging")
)

func printUsage() {
	fmt.Fprintf(os.Stderr,
		`Usage: `+os.Args[0]+` [options] <run> <partition> <proio-input>

Calibrates one partition of a hit stream and queues its noise map for the
merger of run.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() != 3 || *partitions == "" {
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

	run, key := flag.Arg(0), calib.Key(flag.Arg(1))
	logger = logger.With(zap.String("run", run), zap.String("partition", string(key)))
	if err := calibratePartition(ctx, run, key, logger); err != nil {
		logger.Error("partition calibration failed", zap.Error(err))
		return 1
	}
	return 0
}

func calibratePartition(ctx context.Context, run string, key calib.Key, logger *zap.Logger) error {
	table, err := calib.LoadPartitionTable(*partitions)
	if err != nil {
		return err
	}
	known := false
	for _, k := range table.Keys() {
		known = known || k == key
	}
	if !known {
		return fmt.Errorf("%w: %q", calib.ErrUnknownPartition, key)
	}
	splitter := &calib.Splitter{Router: table, Partitions: table.Keys()}

	client, closeRedis, err := message.ConnectShared(os.Getenv("REDIS_ADDR"), logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	credentials := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	reader, err := data.OpenReader(ctx, flag.Arg(2), credentials)
	if err != nil {
		return err
	}
	defer reader.Close()

	var decoder data.Decoder = data.DigitDecoder{}
	if *clusters {
		decoder = &data.ClusterDecoder{}
	}
	src := data.NewReaderSource(reader, decoder, *bufSize, logger)

	cal := calib.NewPartialCalibrator(key, calib.Config{
		ProbabilityThreshold: *probCut,
		MinCount:             *minCount,
		Geometry:             noise.DefaultGeometry,
	}, logger)

	summary := func(nm *noise.NoiseMap) calib.PartitionSummary {
		s := calib.PartitionSummary{
			Frames:    cal.Frames(),
			Anomalies: cal.Anomalies(),
			Ready:     cal.Ready(),
		}
		if nm != nil {
			s.NoisyChannels = nm.Len()
		}
		return s
	}
	var status live.Status
	publishStatus := func(nm *noise.NoiseMap) {
		live.SetSummary(&status, key, summary(nm))
		if err := status.Publish(client, run); err != nil {
			logger.Warn("unable to publish status", zap.Error(err))
		}
	}

	var batches uint64
	for {
		b, err := src.Next(ctx)
		if err == io.EOF {
			logger.Info("input exhausted before the partition was ready", zap.Uint64("batches", batches))
			break
		}
		if err != nil {
			return err
		}
		batches++

		subs, errs := splitter.Split(b)
		for _, err := range errs {
			logger.Debug("dropping hit", zap.Uint64("frame", b.Meta.FrameID), zap.Error(err))
		}
		if cal.ProcessBatch(subs[key]) {
			break
		}
		if *statusEvery > 0 && batches%*statusEvery == 0 {
			publishStatus(nil)
		}
	}

	nm := cal.Finalize()
	publishStatus(nm)

	if *storeURL != "" {
		store, err := ccdb.OpenStore(ctx, *storeURL, credentials)
		if err != nil {
			return err
		}
		defer store.Close()
		publisher := (&ccdb.Publisher{Store: store, Path: *objPath, Logger: logger}).Sub(string(key))
		meta := ccdb.Metadata{}
		meta.Set("run", run)
		meta.Set("partition", string(key))
		if _, err := publisher.Publish(ctx, nm, ccdb.Auto, ccdb.Auto, meta); err != nil {
			return err
		}
	}

	if err := message.SendPartialMap(client, run, key, nm, summary(nm)); err != nil {
		return err
	}
	logger.Info("partial noise map queued", zap.Int("noisyChannels", nm.Len()))
	return nil
}
