// Package sigtest builds signature payloads for tests.
package sigtest

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math/rand"
)

// PNG returns an encoded noise image of the given size. Noise keeps the
// compressed output close to width*height*4 bytes.
func PNG(width, height int) []byte {
	r := rand.New(rand.NewSource(int64(width*7919 + height)))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(r.Intn(256)),
				G: uint8(r.Intn(256)),
				B: uint8(r.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DataURI wraps raw bytes into a PNG data URI.
func DataURI(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// ValidDataURI returns a data URI comfortably inside the default size limits.
func ValidDataURI() string {
	return DataURI(PNG(48, 48))
}
