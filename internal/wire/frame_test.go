package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	in := &Frame{
		Json:  `[{"AddEntity":{"class":"Patient"}}]`,
		Blobs: [][]byte{{1, 2, 3}, {4, 5}},
	}
	out := &Frame{}
	require.NoError(t, out.Unmarshal(in.Marshal()))
	require.Equal(t, in.Json, out.Json)
	require.Equal(t, in.Blobs, out.Blobs)
}

func TestFrameEmpty(t *testing.T) {
	out := &Frame{}
	require.NoError(t, out.Unmarshal((&Frame{}).Marshal()))
	require.Empty(t, out.Json)
	require.Nil(t, out.Blobs)
}

func TestReadWriteFraming(t *testing.T) {
	var buf bytes.Buffer
	f1 := &Frame{Json: "first", Blobs: [][]byte{[]byte("blob")}}
	f2 := &Frame{Json: "second"}
	require.NoError(t, Write(&buf, f1))
	require.NoError(t, Write(&buf, f2))

	got1, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, "first", got1.Json)
	require.Equal(t, [][]byte{[]byte("blob")}, got1.Blobs)

	got2, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, "second", got2.Json)
	require.Nil(t, got2.Blobs)
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	hdr := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := Read(bytes.NewReader(hdr))
	require.Error(t, err)
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Frame{Json: "x"}))
	data := buf.Bytes()
	_, err := Read(bytes.NewReader(data[:len(data)-1]))
	require.Error(t, err)
}

func TestUnmarshalBadBytes(t *testing.T) {
	out := &Frame{}
	require.Error(t, out.Unmarshal([]byte{0x08}))
}
