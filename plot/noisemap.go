// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package plot draws noise maps: per-chip heat maps of the noisy pixels and
// the distribution of noise probabilities.
package plot

import (
	"fmt"
	"io"
	"math"

	"github.com/rditech/rdi-noisecal/noise"

	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	DefaultWidth  = 6 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// ChipMatrix returns the noise probability of every pixel of chip as a
// rows by cols matrix.
func ChipMatrix(m *noise.NoiseMap, chip uint32, total uint64) *mat.Dense {
	g := m.Geometry
	dense := mat.NewDense(int(g.Rows), int(g.Cols), nil)
	if total == 0 {
		return dense
	}
	for p, n := range m.ChipView(chip) {
		if p.Row < g.Rows && p.Col < g.Cols {
			dense.Set(int(p.Row), int(p.Col), float64(n)/float64(total))
		}
	}
	return dense
}

// pixelGrid exposes a matrix as a plotter.GridXYZ with columns along x.
type pixelGrid struct {
	*mat.Dense
}

func (g pixelGrid) Dims() (c, r int) {
	r, c = g.Dense.Dims()
	return c, r
}

func (g pixelGrid) Z(c, r int) float64 { return g.Dense.At(r, c) }
func (g pixelGrid) X(c int) float64    { return float64(c) }
func (g pixelGrid) Y(r int) float64    { return float64(r) }

// ChipHeatMap draws the noise probability of each pixel of chip.
func ChipHeatMap(m *noise.NoiseMap, chip uint32, total uint64) *hplot.Plot {
	grid := pixelGrid{ChipMatrix(m, chip, total)}

	heat := plotter.NewHeatMap(grid, moreland.Kindlmann().Palette(255))
	if heat.Max <= heat.Min {
		heat.Max = heat.Min + 1
	}

	p := hplot.New()
	p.Title.Text = fmt.Sprintf("chip %d noise probability (%d frames)", chip, total)
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Add(heat)
	return p
}

// ProbabilityHistogram histograms log10 of the noise probability of every
// channel in m.
func ProbabilityHistogram(m *noise.NoiseMap, total uint64, nBins int) *hbook.H1D {
	if nBins <= 0 {
		nBins = 50
	}
	lo := -6.0
	if total > 0 {
		lo = math.Floor(math.Log10(1 / float64(total)))
	}
	h := hbook.NewH1D(nBins, lo, 0.000001)
	if total == 0 {
		return h
	}
	m.Channels(func(_ noise.ChannelID, count uint64) {
		h.Fill(math.Log10(float64(count)/float64(total)), 1)
	})
	return h
}

// ProbabilityPlot draws ProbabilityHistogram with a logarithmic count
// axis.
func ProbabilityPlot(m *noise.NoiseMap, total uint64) *hplot.Plot {
	h := hplot.NewH1D(ProbabilityHistogram(m, total, 0))
	h.Infos.Style = hplot.HInfoMean | hplot.HInfoStdDev

	p := hplot.New()
	p.Title.Text = fmt.Sprintf("noise probability, %d channels", m.Len())
	p.X.Label.Text = "log10(probability)"
	p.Y.Label.Text = "channels"
	p.Y.Min = 0.5
	p.Y.Scale = FuncScale{Func: Log10Floor(-1)}
	p.Y.Tick.Marker = LogTicks{Floor: 1}
	p.Add(h)
	p.Add(hplot.NewGrid())
	return p
}

// Encode renders p in format ("png", "svg", "pdf", ...) to w.
func Encode(p *hplot.Plot, w io.Writer, format string) error {
	wt, err := p.WriterTo(DefaultWidth, DefaultHeight, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save renders p to file, picking the format from its extension.
func Save(p *hplot.Plot, file string) error {
	return p.Save(DefaultWidth, DefaultHeight, file)
}
