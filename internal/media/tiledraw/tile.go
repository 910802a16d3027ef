package tiledraw

import (
	"encoding/binary"

	"github.com/IntelLabs/vdms-go/cmn"
)

// MinTileDimension is the lower bound on a tile extent: when writing, the
// extent along each axis is the greatest common factor of the dimension
// that is >= this value.
const MinTileDimension = 4

// Tile is the tiled raw ("TDB") backend: pixel data partitioned over a
// (height, width) domain into rectangular tiles, with channels stored as
// per-cell attributes (1 or 3). Crop, bilinear resize, and threshold
// operate directly on the tile grid; flip and rotate are not implemented
// on this backend.
type Tile struct {
	Height, Width, Channels int
	TileH, TileW            int

	// tiles is indexed [tileRow][tileCol]; each tile is a row-major
	// TileH*TileW*Channels slab. Edge tiles are padded to full extent so
	// all slabs share one size.
	tiles [][][]uint8
}

// tdbMagic guards against feeding an encoded image to the TDB reader.
const tdbMagic = 0x54444201 // "TDB\x01"

const tdbHeaderLen = 4 + 5*4

// NewTile partitions a pixel matrix into tiles, choosing extents per the
// greatest-common-factor rule.
func NewTile(m PixelMatrix) *Tile {
	th := tileExtent(m.Height)
	tw := tileExtent(m.Width)
	t := &Tile{
		Height: m.Height, Width: m.Width, Channels: m.Channels,
		TileH: th, TileW: tw,
	}
	rows, cols := t.gridDims()
	t.tiles = make([][][]uint8, rows)
	for tr := 0; tr < rows; tr++ {
		t.tiles[tr] = make([][]uint8, cols)
		for tc := 0; tc < cols; tc++ {
			slab := make([]uint8, th*tw*m.Channels)
			for y := 0; y < th; y++ {
				sy := tr*th + y
				if sy >= m.Height {
					break
				}
				for x := 0; x < tw; x++ {
					sx := tc*tw + x
					if sx >= m.Width {
						break
					}
					for c := 0; c < m.Channels; c++ {
						slab[(y*tw+x)*m.Channels+c] = m.at(sy, sx, c)
					}
				}
			}
			t.tiles[tr][tc] = slab
		}
	}
	return t
}

// tileExtent picks the largest proper factor of dim (at most dim/2) that is
// >= MinTileDimension; a dimension of at most MinTileDimension, or with no
// such factor (e.g. a prime), uses the dimension itself as a single tile.
func tileExtent(dim int) int {
	if dim <= MinTileDimension {
		return maxInt(dim, 1)
	}
	for f := dim / 2; f >= MinTileDimension; f-- {
		if dim%f == 0 {
			return f
		}
	}
	return dim
}

func (t *Tile) gridDims() (rows, cols int) {
	rows = (t.Height + t.TileH - 1) / t.TileH
	cols = (t.Width + t.TileW - 1) / t.TileW
	return
}

func (t *Tile) at(y, x, c int) uint8 {
	slab := t.tiles[y/t.TileH][x/t.TileW]
	return slab[((y%t.TileH)*t.TileW+(x%t.TileW))*t.Channels+c]
}

func (t *Tile) set(y, x, c int, v uint8) {
	slab := t.tiles[y/t.TileH][x/t.TileW]
	slab[((y%t.TileH)*t.TileW+(x%t.TileW))*t.Channels+c] = v
}

// Serialize renders the tile store into its on-disk byte form: a header
// carrying the domain and tile extents followed by the tile slabs in
// row-major grid order. Reading it back with Open populates dimensions
// from this metadata.
func (t *Tile) Serialize() []byte {
	rows, cols := t.gridDims()
	slabLen := t.TileH * t.TileW * t.Channels
	out := make([]byte, tdbHeaderLen+rows*cols*slabLen)
	binary.BigEndian.PutUint32(out[0:4], tdbMagic)
	binary.BigEndian.PutUint32(out[4:8], uint32(t.Height))
	binary.BigEndian.PutUint32(out[8:12], uint32(t.Width))
	binary.BigEndian.PutUint32(out[12:16], uint32(t.Channels))
	binary.BigEndian.PutUint32(out[16:20], uint32(t.TileH))
	binary.BigEndian.PutUint32(out[20:24], uint32(t.TileW))
	off := tdbHeaderLen
	for tr := 0; tr < rows; tr++ {
		for tc := 0; tc < cols; tc++ {
			copy(out[off:], t.tiles[tr][tc])
			off += slabLen
		}
	}
	return out
}

// Open parses a serialized tile store.
func Open(data []byte) (*Tile, error) {
	if len(data) < tdbHeaderLen || binary.BigEndian.Uint32(data[0:4]) != tdbMagic {
		return nil, cmn.NewErr(cmn.Exception, "tiledraw: not a tiled-raw image (TileDBError)")
	}
	t := &Tile{
		Height:   int(binary.BigEndian.Uint32(data[4:8])),
		Width:    int(binary.BigEndian.Uint32(data[8:12])),
		Channels: int(binary.BigEndian.Uint32(data[12:16])),
		TileH:    int(binary.BigEndian.Uint32(data[16:20])),
		TileW:    int(binary.BigEndian.Uint32(data[20:24])),
	}
	if t.Height <= 0 || t.Width <= 0 || t.TileH <= 0 || t.TileW <= 0 ||
		(t.Channels != 1 && t.Channels != 3) {
		return nil, cmn.NewErr(cmn.Exception, "tiledraw: corrupt tile metadata (TileDBError)")
	}
	rows, cols := t.gridDims()
	slabLen := t.TileH * t.TileW * t.Channels
	if len(data)-tdbHeaderLen != rows*cols*slabLen {
		return nil, cmn.NewErr(cmn.Exception, "tiledraw: tile payload size mismatch (TileDBError)")
	}
	t.tiles = make([][][]uint8, rows)
	off := tdbHeaderLen
	for tr := 0; tr < rows; tr++ {
		t.tiles[tr] = make([][]uint8, cols)
		for tc := 0; tc < cols; tc++ {
			t.tiles[tr][tc] = append([]uint8(nil), data[off:off+slabLen]...)
			off += slabLen
		}
	}
	return t, nil
}

// ToPixelMatrix flattens the tile grid into a contiguous matrix, used
// when a tiled image must cross the codec boundary (encode to PNG/JPG).
func (t *Tile) ToPixelMatrix() (PixelMatrix, error) {
	m := newMatrix(t.Height, t.Width, t.Channels)
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			for c := 0; c < t.Channels; c++ {
				m.set(y, x, c, t.at(y, x, c))
			}
		}
	}
	return m, nil
}

// Crop narrows the domain to the w x h window at (x,y), re-tiling the
// result. The window must lie within the current domain.
func (t *Tile) Crop(x, y, w, h int) error {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > t.Width || y+h > t.Height {
		return cmn.NewErr(cmn.Error, "tiledraw: crop rectangle (%d,%d,%d,%d) out of bounds for %dx%d domain", x, y, w, h, t.Width, t.Height)
	}
	m := newMatrix(h, w, t.Channels)
	for yy := 0; yy < h; yy++ {
		for xx := 0; xx < w; xx++ {
			for c := 0; c < t.Channels; c++ {
				m.set(yy, xx, c, t.at(y+yy, x+xx, c))
			}
		}
	}
	*t = *NewTile(m)
	return nil
}

// BilinearResize resamples the domain to h x w directly over the tile
// grid.
func (t *Tile) BilinearResize(h, w int) error {
	if h <= 0 || w <= 0 {
		return cmn.NewErr(cmn.Error, "tiledraw: resize to %dx%d is invalid", h, w)
	}
	out := newMatrix(h, w, t.Channels)
	if t.Height <= 1 || t.Width <= 1 {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < t.Channels; c++ {
					out.set(y, x, c, t.at(0, 0, c))
				}
			}
		}
		*t = *NewTile(out)
		return nil
	}
	scaleY := float64(t.Height-1) / float64(maxInt(h-1, 1))
	scaleX := float64(t.Width-1) / float64(maxInt(w-1, 1))
	for y := 0; y < h; y++ {
		sy := float64(y) * scaleY
		y0 := int(sy)
		y1 := minInt(y0+1, t.Height-1)
		fy := sy - float64(y0)
		for x := 0; x < w; x++ {
			sx := float64(x) * scaleX
			x0 := int(sx)
			x1 := minInt(x0+1, t.Width-1)
			fx := sx - float64(x0)
			for c := 0; c < t.Channels; c++ {
				v00 := float64(t.at(y0, x0, c))
				v01 := float64(t.at(y0, x1, c))
				v10 := float64(t.at(y1, x0, c))
				v11 := float64(t.at(y1, x1, c))
				top := v00*(1-fx) + v01*fx
				bot := v10*(1-fx) + v11*fx
				out.set(y, x, c, uint8(top*(1-fy)+bot*fy))
			}
		}
	}
	*t = *NewTile(out)
	return nil
}

// Threshold zeroes every cell <= v, elementwise across all tiles. Padded
// cells beyond the domain edge are zeroed too, which is harmless.
func (t *Tile) Threshold(v float64) {
	for _, row := range t.tiles {
		for _, slab := range row {
			for i, p := range slab {
				if float64(p) <= v {
					slab[i] = 0
				}
			}
		}
	}
}

// Clone deep-copies the tile store for the remote-op rollback snapshot.
func (t *Tile) Clone() *Tile {
	if t == nil {
		return nil
	}
	out := *t
	out.tiles = make([][][]uint8, len(t.tiles))
	for tr, row := range t.tiles {
		out.tiles[tr] = make([][]uint8, len(row))
		for tc, slab := range row {
			out.tiles[tr][tc] = append([]uint8(nil), slab...)
		}
	}
	return &out
}
