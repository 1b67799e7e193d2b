// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rditech/rdi-noisecal/calib"

	"github.com/proio-org/go-proio"
)

// ConvertText turns a text hit listing into digit events. Every line holds
// "<frame> <chip> <row> <col>", or just "<frame>" for a frame without
// hits; '#' starts a comment. Frame ids must not decrease. Frames are
// grouped into aligned windows of framesPerEvent, empty windows included,
// and the last event ends at the last frame listed.
func ConvertText(r io.Reader, framesPerEvent uint64, push func(*proio.Event) error) (int, error) {
	if framesPerEvent == 0 {
		framesPerEvent = 1
	}

	var (
		nEvents int
		started bool
		base    uint64
		last    uint64
		hits    []calib.Hit
	)
	flush := func(frames uint64) error {
		event := NewDigitEvent(calib.BatchMeta{FrameID: base, Frames: frames}, hits)
		hits = hits[:0]
		nEvents++
		return push(event)
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 1 && len(fields) != 4 {
			return nEvents, fmt.Errorf("line %d: expected 1 or 4 fields, got %d", lineNum, len(fields))
		}

		var vals [4]uint64
		bits := [4]int{64, 32, 16, 16}
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, bits[i])
			if err != nil {
				return nEvents, fmt.Errorf("line %d: %w", lineNum, err)
			}
			vals[i] = v
		}

		frame := vals[0]
		switch {
		case !started:
			base = frame - frame%framesPerEvent
			started = true
		case frame < last:
			return nEvents, fmt.Errorf("line %d: frame %d after frame %d", lineNum, frame, last)
		}
		for frame >= base+framesPerEvent {
			if err := flush(framesPerEvent); err != nil {
				return nEvents, err
			}
			base += framesPerEvent
		}
		last = frame

		if len(fields) == 4 {
			hits = append(hits, calib.Hit{Chip: uint32(vals[1]), Row: uint16(vals[2]), Col: uint16(vals[3])})
		}
	}
	if err := scanner.Err(); err != nil {
		return nEvents, err
	}
	if started {
		if err := flush(last - base + 1); err != nil {
			return nEvents, err
		}
	}
	return nEvents, nil
}
