package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &buf
}

func TestFit(t *testing.T) {
	cases := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"small untouched", 640, 480, 640, 480},
		{"landscape", 1600, 900, 800, 450},
		{"portrait", 1000, 2000, 400, 800},
		{"square", 1200, 1200, 800, 800},
		{"empty", 0, 10, 0, 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w, h := Fit(tc.w, tc.h, MaxDimension)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
		})
	}
}

func TestCompressCover_DownscalesToJPEG(t *testing.T) {
	cover, err := CompressCover(pngOf(t, 1600, 1000))
	require.NoError(t, err)

	assert.Equal(t, 800, cover.Width)
	assert.Equal(t, 500, cover.Height)

	decoded, err := jpeg.Decode(bytes.NewReader(cover.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 500), decoded.Bounds())
}

func TestCompressCover_RejectsGarbage(t *testing.T) {
	_, err := CompressCover(strings.NewReader("not an image"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode cover")
}

func TestCover_DataURL(t *testing.T) {
	c := Cover{Data: []byte{0xff, 0xd8}}
	assert.Equal(t, "data:image/jpeg;base64,/9g=", c.DataURL())
	assert.True(t, IsDataURL(c.DataURL()))
}

func TestIsExternalURL(t *testing.T) {
	assert.True(t, IsExternalURL("https://cdn.example.com/a.jpg"))
	assert.True(t, IsExternalURL(" HTTP://x"))
	assert.False(t, IsExternalURL("data:image/jpeg;base64,AA"))
	assert.False(t, IsExternalURL("ftp://x"))
}
