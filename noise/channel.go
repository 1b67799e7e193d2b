// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package noise

import (
	"fmt"
)

// ChannelID identifies one sensor pixel.
type ChannelID struct {
	Chip uint32
	Row  uint16
	Col  uint16
}

// Less orders channels by chip, then row, then column.
func (c ChannelID) Less(o ChannelID) bool {
	if c.Chip != o.Chip {
		return c.Chip < o.Chip
	}
	if c.Row != o.Row {
		return c.Row < o.Row
	}
	return c.Col < o.Col
}

func (c ChannelID) Pixel() Pixel {
	return Pixel{Row: c.Row, Col: c.Col}
}

func (c ChannelID) String() string {
	return fmt.Sprintf("chip %d (%d,%d)", c.Chip, c.Row, c.Col)
}

type Pixel struct {
	Row uint16
	Col uint16
}

func (p Pixel) Less(o Pixel) bool {
	if p.Row != o.Row {
		return p.Row < o.Row
	}
	return p.Col < o.Col
}

// Geometry bounds the valid channel coordinates. Chips == 0 leaves the chip
// index unbounded.
type Geometry struct {
	Chips uint32
	Rows  uint16
	Cols  uint16
}

// ALPIDE pixel matrix, 936 chips as in the MFT.
var DefaultGeometry = Geometry{
	Chips: 936,
	Rows:  512,
	Cols:  1024,
}

func (g Geometry) Contains(c ChannelID) bool {
	if g.Chips > 0 && c.Chip >= g.Chips {
		return false
	}
	return c.Row < g.Rows && c.Col < g.Cols
}
