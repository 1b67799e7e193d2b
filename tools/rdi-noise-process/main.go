// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rditech/rdi-noisecal/data"

	"go.uber.org/zap"
)

func main() {
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

	expander := &data.ClusterExpander{Decoder: &data.ClusterDecoder{}, Logger: logger}
	ops := data.OpArray{
		data.EventOp{
			Description:    "Expands clusters into digits",
			EventProcessor: expander.ExpandEvent,
		},
		data.EventOp{
			Description:    "Drops everything but frame info and digits",
			EventProcessor: data.KeepOnlyDigits,
		},
	}
	if err := ops.RunCmd(ctx, logger); err != nil {
		logger.Error("processing failed", zap.Error(err))
		return 1
	}
	return 0
}
