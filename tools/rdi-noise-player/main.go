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

var (
	speed     = data.FlagSet.Float64("speed", 1, "playback speed relative to the recorded frame rate")
	frameRate = data.FlagSet.Float64("rate", data.DefaultFrameRate, "recorded frames per second")
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

	player := &data.Player{}
	ops := data.OpArray{
		data.StreamOp{
			Description:     "Replays hit frames at the recorded rate",
			StreamProcessor: player.PlayHitStream,
		},
	}
	ops.RunCmdFlagParse()
	player.Speed, player.FrameRate = *speed, *frameRate

	if err := ops.RunCmd(ctx, logger); err != nil {
		logger.Error("playback failed", zap.Error(err))
		return 1
	}
	return 0
}
