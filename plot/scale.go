// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package plot

import (
	"math"
	"strconv"

	"gonum.org/v1/plot"
)

// FuncScale normalizes an axis through Func. A nil Func is linear.
type FuncScale struct {
	Func func(float64) float64
}

func (s FuncScale) Normalize(min, max, x float64) float64 {
	f := s.Func
	if f == nil {
		f = func(x float64) float64 { return x }
	}
	fMin := f(min)
	span := f(max) - fMin
	if span == 0 {
		return 0
	}
	return (f(x) - fMin) / span
}

// Log10Floor returns log10(x), clamped at floor for x at or below 10^floor.
func Log10Floor(floor float64) func(float64) float64 {
	return func(x float64) float64 {
		if x <= math.Pow10(int(floor)) {
			return floor
		}
		return math.Log10(x)
	}
}

// LogTicks marks every decade with a labelled tick and the steps between
// with unlabelled ones. Ticks start at Floor when min is below it.
type LogTicks struct {
	Floor float64
}

func (t LogTicks) Ticks(min, max float64) []plot.Tick {
	floor := t.Floor
	if floor <= 0 {
		floor = 1
	}
	if min < floor {
		min = floor
	}
	if max <= min {
		max = min * 10
	}

	val := math.Pow10(int(math.Floor(math.Log10(min))))
	top := math.Pow10(int(math.Ceil(math.Log10(max))))
	var ticks []plot.Tick
	for ; val < top; val *= 10 {
		ticks = append(ticks, plot.Tick{Value: val, Label: formatFloatTick(val)})
		for i := 2; i < 10; i++ {
			ticks = append(ticks, plot.Tick{Value: val * float64(i)})
		}
	}
	return append(ticks, plot.Tick{Value: top, Label: formatFloatTick(top)})
}

func formatFloatTick(v float64) string {
	return strconv.FormatFloat(v, 'g', 5, 64)
}
