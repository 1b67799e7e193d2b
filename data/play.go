// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"time"

	"github.com/proio-org/go-proio"
)

// DefaultFrameRate is the continuous readout frame rate in Hz.
const DefaultFrameRate = 44000.0

// Player re-emits a recorded hit stream at the rate it was taken, using
// frame ids as the clock. A frame id that goes backwards restarts the
// clock, so looped playback keeps its pace.
type Player struct {
	Speed     float64
	FrameRate float64

	sleep func(time.Duration)
	now   func() time.Time
}

func (p *Player) PlayHitStream(input <-chan *proio.Event, output chan<- *proio.Event) {
	if p.Speed <= 0 {
		p.Speed = 1
	}
	if p.FrameRate <= 0 {
		p.FrameRate = DefaultFrameRate
	}
	sleep, now := p.sleep, p.now
	if sleep == nil {
		sleep = time.Sleep
	}
	if now == nil {
		now = time.Now
	}
	framePeriod := float64(time.Second) / (p.FrameRate * p.Speed)

	var (
		start     time.Time
		initFrame uint64
		lastFrame uint64
		started   bool
	)
	for event := range input {
		meta, ok := FrameInfo(event)
		if !ok {
			output <- event
			continue
		}
		if !started || meta.FrameID < lastFrame {
			start = now()
			initFrame = meta.FrameID
			started = true
		}
		lastFrame = meta.FrameID

		offset := time.Duration(float64(meta.FrameID-initFrame) * framePeriod)
		if wait := start.Add(offset).Sub(now()); wait > 0 {
			sleep(wait)
		}
		output <- event
	}
}
