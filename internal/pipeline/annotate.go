package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/technosupport/ts-attend/internal/face"
)

var (
	knownColor   = color.RGBA{0, 200, 0, 255}
	unknownColor = color.RGBA{220, 0, 0, 255}
)

// Label is one box to draw on a frame.
type Label struct {
	Box   face.BBox
	Text  string
	Known bool
}

// Annotate copies src and draws the labeled boxes: green for
// identified employees, red for unknown faces.
func Annotate(src image.Image, labels []Label) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(b)
	xdraw.Copy(out, b.Min, src, b, xdraw.Src, nil)

	for _, l := range labels {
		col := unknownColor
		if l.Known {
			col = knownColor
		}
		drawRect(out, l.Box, col)
		if l.Text != "" {
			drawLabel(out, l.Box, l.Text, col)
		}
	}
	return out
}

// drawRect draws a 2px border clipped to the image bounds.
func drawRect(img *image.RGBA, box face.BBox, col color.RGBA) {
	b := img.Bounds()
	x1, y1 := clampInt(box.X1, b.Min.X, b.Max.X-1), clampInt(box.Y1, b.Min.Y, b.Max.Y-1)
	x2, y2 := clampInt(box.X2, b.Min.X, b.Max.X-1), clampInt(box.Y2, b.Min.Y, b.Max.Y-1)
	if x2 <= x1 || y2 <= y1 {
		return
	}
	for t := 0; t < 2; t++ {
		for x := x1; x <= x2; x++ {
			img.SetRGBA(x, clampInt(y1+t, b.Min.Y, b.Max.Y-1), col)
			img.SetRGBA(x, clampInt(y2-t, b.Min.Y, b.Max.Y-1), col)
		}
		for y := y1; y <= y2; y++ {
			img.SetRGBA(clampInt(x1+t, b.Min.X, b.Max.X-1), y, col)
			img.SetRGBA(clampInt(x2-t, b.Min.X, b.Max.X-1), y, col)
		}
	}
}

func drawLabel(img *image.RGBA, box face.BBox, text string, col color.RGBA) {
	y := box.Y1 - 4
	if y < basicfont.Face7x13.Height {
		y = box.Y2 + basicfont.Face7x13.Height + 2
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(box.X1, y),
	}
	d.DrawString(text)
}

// ScaleToWidth downsizes img so its width is at most maxW, keeping the
// aspect ratio. Images already narrow enough come back unchanged.
func ScaleToWidth(img image.Image, maxW int) image.Image {
	b := img.Bounds()
	if maxW <= 0 || b.Dx() <= maxW {
		return img
	}
	h := b.Dy() * maxW / b.Dx()
	out := image.NewRGBA(image.Rect(0, 0, maxW, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), img, b, xdraw.Src, nil)
	return out
}

// EncodeJPEG renders img at the given quality.
func EncodeJPEG(img image.Image, q int) ([]byte, error) {
	if q < 1 || q > 100 {
		q = 70
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
