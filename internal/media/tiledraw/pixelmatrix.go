// Package tiledraw implements the pixel substrate shared by the image and
// video pipelines: a decoded row-major pixel matrix for JPG/PNG/BIN, and
// the tiled raw ("TDB") backend, a domain-partitioned representation of
// pixel data supporting in-place crop, resize, and threshold without a
// full decode.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package tiledraw

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	"github.com/IntelLabs/vdms-go/cmn"
)

// PixelMatrix is a decoded, row-major pixel buffer: Channels is 1 (gray)
// or 3 (RGB)'s tiled-raw backend note ("channels as attributes
// (1 or 3)"), used here for every in-memory format, not only TDB.
type PixelMatrix struct {
	Height, Width, Channels int
	Data                    []uint8
}

func newMatrix(h, w, c int) PixelMatrix {
	return PixelMatrix{Height: h, Width: w, Channels: c, Data: make([]uint8, h*w*c)}
}

func (m PixelMatrix) at(y, x, c int) uint8 {
	return m.Data[(y*m.Width+x)*m.Channels+c]
}

func (m PixelMatrix) set(y, x, c int, v uint8) {
	m.Data[(y*m.Width+x)*m.Channels+c] = v
}

// Clone deep-copies the pixel buffer, used for the remote-operation
// rollback snapshot.
func (m PixelMatrix) Clone() PixelMatrix {
	out := m
	out.Data = append([]uint8(nil), m.Data...)
	return out
}

// FromImage converts a decoded standard-library image.Image into a
// PixelMatrix, preserving grayscale images as single-channel and
// widening everything else to 3-channel RGB.
func FromImage(src image.Image) PixelMatrix {
	b := src.Bounds()
	h, w := b.Dy(), b.Dx()
	if g, ok := src.(*image.Gray); ok {
		m := newMatrix(h, w, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				m.set(y, x, 0, g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return m
	}
	m := newMatrix(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			m.set(y, x, 0, uint8(r>>8))
			m.set(y, x, 1, uint8(g>>8))
			m.set(y, x, 2, uint8(bl>>8))
		}
	}
	return m
}

// ToImage renders this matrix back into a standard-library image.Image
// for the JPG/PNG encoders.
func (m PixelMatrix) ToImage() image.Image {
	if m.Channels == 1 {
		g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				g.SetGray(x, y, color.Gray{Y: m.at(y, x, 0)})
			}
		}
		return g
	}
	rgba := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			rgba.SetNRGBA(x, y, color.NRGBA{R: m.at(y, x, 0), G: m.at(y, x, 1), B: m.at(y, x, 2), A: 255})
		}
	}
	return rgba
}

// The BIN format carries a 12-byte (height,width,channels) big-endian
// prefix in place of a codec header.
const rawHeaderLen = 12

// ToRaw serializes the matrix in the BIN format: a 12-byte dimensions
// header followed by the raw pixel bytes.
func (m PixelMatrix) ToRaw() []byte {
	out := make([]byte, rawHeaderLen+len(m.Data))
	binary.BigEndian.PutUint32(out[0:4], uint32(m.Height))
	binary.BigEndian.PutUint32(out[4:8], uint32(m.Width))
	binary.BigEndian.PutUint32(out[8:12], uint32(m.Channels))
	copy(out[rawHeaderLen:], m.Data)
	return out
}

// FromRaw parses the BIN format written by ToRaw.
func FromRaw(data []byte) (PixelMatrix, error) {
	if len(data) < rawHeaderLen {
		return PixelMatrix{}, cmn.NewErr(cmn.Exception, "tiledraw: raw image header truncated")
	}
	h := int(binary.BigEndian.Uint32(data[0:4]))
	w := int(binary.BigEndian.Uint32(data[4:8]))
	c := int(binary.BigEndian.Uint32(data[8:12]))
	want := h * w * c
	if len(data)-rawHeaderLen != want {
		return PixelMatrix{}, cmn.NewErr(cmn.Exception, "tiledraw: raw image payload size mismatch: have %d want %d", len(data)-rawHeaderLen, want)
	}
	m := newMatrix(h, w, c)
	copy(m.Data, data[rawHeaderLen:])
	return m, nil
}

// BilinearResize applies to the in-memory matrix the same bilinear
// interpolation that Tile.BilinearResize applies to the tile grid; the
// two carry separate copies of the loop.
func (m PixelMatrix) BilinearResize(h, w int) PixelMatrix {
	out := newMatrix(h, w, m.Channels)
	if m.Height <= 1 || m.Width <= 1 {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < m.Channels; c++ {
					out.set(y, x, c, m.at(0, 0, c))
				}
			}
		}
		return out
	}
	scaleY := float64(m.Height-1) / float64(maxInt(h-1, 1))
	scaleX := float64(m.Width-1) / float64(maxInt(w-1, 1))
	for y := 0; y < h; y++ {
		sy := float64(y) * scaleY
		y0 := int(sy)
		y1 := minInt(y0+1, m.Height-1)
		fy := sy - float64(y0)
		for x := 0; x < w; x++ {
			sx := float64(x) * scaleX
			x0 := int(sx)
			x1 := minInt(x0+1, m.Width-1)
			fx := sx - float64(x0)
			for c := 0; c < m.Channels; c++ {
				v00 := float64(m.at(y0, x0, c))
				v01 := float64(m.at(y0, x1, c))
				v10 := float64(m.at(y1, x0, c))
				v11 := float64(m.at(y1, x1, c))
				top := v00*(1-fx) + v01*fx
				bot := v10*(1-fx) + v11*fx
				out.set(y, x, c, uint8(top*(1-fy)+bot*fy))
			}
		}
	}
	return out
}

// Crop returns the w x h window starting at (x,y).
func (m PixelMatrix) Crop(x, y, w, h int) (PixelMatrix, error) {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > m.Width || y+h > m.Height {
		return PixelMatrix{}, cmn.NewErr(cmn.Error, "tiledraw: crop rectangle (%d,%d,%d,%d) out of bounds for %dx%d image", x, y, w, h, m.Width, m.Height)
	}
	out := newMatrix(h, w, m.Channels)
	for yy := 0; yy < h; yy++ {
		for xx := 0; xx < w; xx++ {
			for c := 0; c < m.Channels; c++ {
				out.set(yy, xx, c, m.at(y+yy, x+xx, c))
			}
		}
	}
	return out, nil
}

// Threshold zeroes every pixel channel <= v, elementwise.
func (m PixelMatrix) Threshold(v float64) {
	for i, p := range m.Data {
		if float64(p) <= v {
			m.Data[i] = 0
		}
	}
}

// Flip: 0 vertical, >0 horizontal, <0 both, matching OpenCV-style
// flip-code convention.
func (m PixelMatrix) Flip(code int) {
	switch {
	case code == 0:
		flipVertical(m)
	case code > 0:
		flipHorizontal(m)
	default:
		flipVertical(m)
		flipHorizontal(m)
	}
}

func flipVertical(m PixelMatrix) {
	stride := m.Width * m.Channels
	for y := 0; y < m.Height/2; y++ {
		o1, o2 := y*stride, (m.Height-1-y)*stride
		for i := 0; i < stride; i++ {
			m.Data[o1+i], m.Data[o2+i] = m.Data[o2+i], m.Data[o1+i]
		}
	}
}

func flipHorizontal(m PixelMatrix) {
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width/2; x++ {
			for c := 0; c < m.Channels; c++ {
				i, j := (y*m.Width+x)*m.Channels+c, (y*m.Width+(m.Width-1-x))*m.Channels+c
				m.Data[i], m.Data[j] = m.Data[j], m.Data[i]
			}
		}
	}
}

// Rotate supports the axis-aligned 90/180/270 fast paths exactly (no
// resampling loss) and falls back to nearest-neighbor for arbitrary
// angles; keepSize true keeps the original canvas (corners clipped),
// false grows the canvas to fit the full rotated image.
func (m PixelMatrix) Rotate(angle float64, keepSize bool) PixelMatrix {
	norm := normalizeAngle(angle)
	switch norm {
	case 90:
		return rotate90(m)
	case 180:
		return rotate180(m)
	case 270:
		return rotate90(rotate180(m))
	}
	return rotateArbitrary(m, angle, keepSize)
}

func normalizeAngle(a float64) int {
	n := int(a) % 360
	if n < 0 {
		n += 360
	}
	return n
}

func rotate90(m PixelMatrix) PixelMatrix {
	out := newMatrix(m.Width, m.Height, m.Channels)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			for c := 0; c < m.Channels; c++ {
				out.set(x, m.Height-1-y, c, m.at(y, x, c))
			}
		}
	}
	return out
}

func rotate180(m PixelMatrix) PixelMatrix {
	out := newMatrix(m.Height, m.Width, m.Channels)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			for c := 0; c < m.Channels; c++ {
				out.set(m.Height-1-y, m.Width-1-x, c, m.at(y, x, c))
			}
		}
	}
	return out
}

func rotateArbitrary(m PixelMatrix, angleDeg float64, keepSize bool) PixelMatrix {
	theta := angleDeg * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	h, w := m.Height, m.Width
	if !keepSize {
		h = int(absF(float64(m.Height)*cos) + absF(float64(m.Width)*sin))
		w = int(absF(float64(m.Width)*cos) + absF(float64(m.Height)*sin))
	}
	out := newMatrix(h, w, m.Channels)
	cx, cy := float64(m.Width)/2, float64(m.Height)/2
	ocx, ocy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-ocx, float64(y)-ocy
			sx := dx*cos + dy*sin + cx
			sy := -dx*sin + dy*cos + cy
			ix, iy := int(sx+0.5), int(sy+0.5)
			if ix < 0 || iy < 0 || ix >= m.Width || iy >= m.Height {
				continue
			}
			for c := 0; c < m.Channels; c++ {
				out.set(y, x, c, m.at(iy, ix, c))
			}
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
