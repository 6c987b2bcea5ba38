// Package quality scores a face crop for identification fitness.
// Low-quality detections still feed the tracker's geometry but are
// excluded from identity voting.
package quality

import (
	"image"
	"image/color"

	"gonum.org/v1/gonum/stat"

	"github.com/technosupport/ts-attend/internal/face"
)

// Thresholds are the tuning knobs from parameter_config.json.
type Thresholds struct {
	MinBlurVar      float64
	MinFaceAreaFrac float64
	MinBrightness   float64
	MaxBrightness   float64
	MinScore        float64
}

// Metrics are the raw measurements behind a score.
type Metrics struct {
	BlurVar    float64
	Brightness float64
	AreaFrac   float64
}

type Scorer struct {
	th Thresholds
}

func NewScorer(th Thresholds) *Scorer {
	if th.MinBlurVar < 1 {
		th.MinBlurVar = 1
	}
	if th.MinFaceAreaFrac <= 0 {
		th.MinFaceAreaFrac = 1e-6
	}
	return &Scorer{th: th}
}

// Acceptable reports whether a score clears the identification gate.
func (s *Scorer) Acceptable(score float64) bool {
	return score >= s.th.MinScore
}

// Score rates the crop under box in [0,1]:
// 0.5*blur + 0.2*brightness-window + 0.3*relative-size.
func (s *Scorer) Score(frame image.Image, box face.BBox) (float64, Metrics) {
	bounds := frame.Bounds()
	frameArea := bounds.Dx() * bounds.Dy()
	if frameArea == 0 {
		return 0, Metrics{}
	}

	clipped := clip(box, bounds)
	if clipped.Width() == 0 || clipped.Height() == 0 {
		return 0, Metrics{}
	}

	gray := grayCrop(frame, clipped)
	m := Metrics{
		BlurVar:    laplacianVariance(gray),
		Brightness: meanGray(gray) / 255.0,
		AreaFrac:   float64(clipped.Area()) / float64(frameArea),
	}

	blurScore := clamp01(m.BlurVar / s.th.MinBlurVar)
	brightScore := 0.0
	if m.Brightness >= s.th.MinBrightness && m.Brightness <= s.th.MaxBrightness {
		brightScore = 1.0
	}
	sizeScore := clamp01(m.AreaFrac / s.th.MinFaceAreaFrac)

	return 0.5*blurScore + 0.2*brightScore + 0.3*sizeScore, m
}

func clip(b face.BBox, r image.Rectangle) face.BBox {
	return face.BBox{
		X1: max(r.Min.X, min(r.Max.X, b.X1)),
		Y1: max(r.Min.Y, min(r.Max.Y, b.Y1)),
		X2: max(r.Min.X, min(r.Max.X, b.X2)),
		Y2: max(r.Min.Y, min(r.Max.Y, b.Y2)),
	}
}

func grayCrop(frame image.Image, b face.BBox) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, b.Width(), b.Height()))
	for y := b.Y1; y < b.Y2; y++ {
		for x := b.X1; x < b.X2; x++ {
			out.SetGray(x-b.X1, y-b.Y1, color.GrayModel.Convert(frame.At(x, y)).(color.Gray))
		}
	}
	return out
}

// laplacianVariance applies the 4-neighbour Laplacian kernel and
// returns the population variance of the responses.
func laplacianVariance(g *image.Gray) float64 {
	w := g.Rect.Dx()
	h := g.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	resp := make([]float64, 0, (w-2)*(h-2))
	at := func(x, y int) float64 {
		return float64(g.GrayAt(x, y).Y)
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			resp = append(resp, lap)
		}
	}
	mean := stat.Mean(resp, nil)
	return stat.MomentAbout(2, resp, mean, nil)
}

func meanGray(g *image.Gray) float64 {
	w := g.Rect.Dx()
	h := g.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	sum := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += float64(g.GrayAt(x, y).Y)
		}
	}
	return sum / float64(w*h)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
