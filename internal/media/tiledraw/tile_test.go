package tiledraw

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTileExtentGCF(t *testing.T) {
	// Largest factor >= MinTileDimension that is not the dimension itself
	// when one exists.
	require.Equal(t, 50, tileExtent(100))
	require.Equal(t, 4, tileExtent(8))
	require.Equal(t, 3, tileExtent(3))  // <= min: single tile
	require.Equal(t, 13, tileExtent(13)) // prime: single tile
}

func TestTileRoundTrip(t *testing.T) {
	m := gradient(24, 36, 3)
	tile := NewTile(m)
	require.Equal(t, 24, tile.Height)
	require.Equal(t, 36, tile.Width)

	opened, err := Open(tile.Serialize())
	require.NoError(t, err)
	require.Equal(t, tile.Height, opened.Height)
	require.Equal(t, tile.Width, opened.Width)
	require.Equal(t, tile.TileH, opened.TileH)
	require.Equal(t, tile.TileW, opened.TileW)

	back, err := opened.ToPixelMatrix()
	require.NoError(t, err)
	require.Equal(t, m, back)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := Open([]byte("not a tile store"))
	require.Error(t, err)
	_, err = Open(nil)
	require.Error(t, err)

	good := NewTile(gradient(8, 8, 1)).Serialize()
	_, err = Open(good[:len(good)-1])
	require.Error(t, err)
}

func TestTileCrop(t *testing.T) {
	m := gradient(20, 20, 1)
	tile := NewTile(m)
	require.NoError(t, tile.Crop(5, 5, 10, 8))
	require.Equal(t, 8, tile.Height)
	require.Equal(t, 10, tile.Width)

	back, err := tile.ToPixelMatrix()
	require.NoError(t, err)
	want, err := m.Crop(5, 5, 10, 8)
	require.NoError(t, err)
	require.Equal(t, want, back)

	require.Error(t, tile.Crop(5, 5, 100, 100))
}

func TestTileThreshold(t *testing.T) {
	tile := NewTile(gradient(8, 8, 1))
	tile.Threshold(128)
	back, err := tile.ToPixelMatrix()
	require.NoError(t, err)
	for _, p := range back.Data {
		require.True(t, p == 0 || p > 128)
	}
}

func TestTileResize(t *testing.T) {
	m := gradient(16, 16, 3)
	tile := NewTile(m)
	require.NoError(t, tile.BilinearResize(8, 8))
	require.Equal(t, 8, tile.Height)
	require.Equal(t, 8, tile.Width)

	back, err := tile.ToPixelMatrix()
	require.NoError(t, err)
	want := m.BilinearResize(8, 8)
	require.Equal(t, want, back)
}

func TestTileClone(t *testing.T) {
	tile := NewTile(gradient(8, 8, 1))
	clone := tile.Clone()
	tile.Threshold(255) // zero everything
	back, err := clone.ToPixelMatrix()
	require.NoError(t, err)
	nonzero := false
	for _, p := range back.Data {
		if p != 0 {
			nonzero = true
			break
		}
	}
	require.True(t, nonzero, "clone must not share tile slabs")
}
