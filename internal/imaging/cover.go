// Package imaging prepares material cover images for upload.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"golang.org/x/image/draw"
)

const (
	// MaxDimension bounds both width and height of a stored cover.
	MaxDimension = 800
	// Quality is the JPEG quality covers are re-encoded with.
	Quality = 70

	dataURLPrefix = "data:image/jpeg;base64,"
)

// Cover is a compressed cover ready to be stored.
type Cover struct {
	Data   []byte
	Width  int
	Height int
}

// ContentType is always JPEG since covers are re-encoded.
func (Cover) ContentType() string { return "image/jpeg" }

// DataURL returns the cover inlined as a base64 data URL.
func (c Cover) DataURL() string {
	return dataURLPrefix + base64.StdEncoding.EncodeToString(c.Data)
}

// CompressCover decodes a JPEG, PNG or GIF, fits it into MaxDimension and re-encodes it as JPEG.
func CompressCover(r io.Reader) (*Cover, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode cover: %w", err)
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; transparent regions render white.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}

	return &Cover{Data: buf.Bytes(), Width: w, Height: h}, nil
}

// Fit scales w x h down so the longer side is at most limit. Smaller images are unchanged.
func Fit(w, h, limit int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := h * limit / w
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := w * limit / h
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}

// IsExternalURL reports whether a cover value is a pasted http(s) link rather than an upload.
func IsExternalURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsDataURL reports whether s is an inlined image.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}
