// Package icons renders the PWA launcher icons: a white bank
// silhouette on the configured background color.
package icons

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
)

// Sizes are the icon dimensions referenced by the web manifest.
var Sizes = []int{192, 512}

// ParseHexColor converts "#rrggbb" to an RGBA color.
func ParseHexColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(s[1+2*i:3+2*i], 16, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
		}
		rgb[i] = uint8(v)
	}
	return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xff}, nil
}

// Render draws the bank silhouette at the given size.
func Render(size int, bg color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fg := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, bg)
		}
	}

	pad := float64(size) * 0.15
	drawSpan := float64(size) - 2*pad

	fillRect := func(x0f, y0f, x1f, y1f float64) {
		x0 := int(pad + x0f*drawSpan)
		y0 := int(pad + y0f*drawSpan)
		x1 := int(pad + x1f*drawSpan)
		y1 := int(pad + y1f*drawSpan)
		for y := max(0, y0); y < min(size, y1); y++ {
			for x := max(0, x0); x < min(size, x1); x++ {
				img.SetRGBA(x, y, fg)
			}
		}
	}

	// Pediment, architrave, three columns, steps and base.
	fillRect(0.10, 0.00, 0.90, 0.18)
	fillRect(0.20, 0.18, 0.80, 0.26)
	const colWidth = 0.10
	for _, cx := range []float64{0.20, 0.45, 0.70} {
		fillRect(cx, 0.26, cx+colWidth, 0.78)
	}
	fillRect(0.10, 0.78, 0.90, 0.88)
	fillRect(0.05, 0.88, 0.95, 1.00)

	return img
}

// Encode renders one icon as PNG bytes.
func Encode(size int, bg color.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Render(size, bg)); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	return buf.Bytes(), nil
}

// Generate writes icon-<size>.png for every size into dir.
func Generate(dir, bgHex string) error {
	bg, err := ParseHexColor(bgHex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create icons dir: %w", err)
	}
	for _, size := range Sizes {
		data, err := Encode(size, bg)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("icon-%d.png", size))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
