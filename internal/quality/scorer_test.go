package quality

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-attend/internal/face"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		MinBlurVar:      50,
		MinFaceAreaFrac: 0.01,
		MinBrightness:   0.15,
		MaxBrightness:   0.9,
		MinScore:        0.3,
	}
}

// checkerboard produces a maximally sharp mid-brightness crop.
func checkerboard(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(64)
			if (x+y)%2 == 0 {
				v = 192
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func flat(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestScoreSharpWellLitFace(t *testing.T) {
	s := NewScorer(defaultThresholds())
	frame := checkerboard(100, 100)
	box := face.BBox{X1: 20, Y1: 20, X2: 60, Y2: 60} // 16% of frame

	score, m := s.Score(frame, box)
	assert.Greater(t, m.BlurVar, 50.0)
	assert.InDelta(t, 0.5, m.Brightness, 0.1)
	assert.InDelta(t, 0.16, m.AreaFrac, 1e-9)
	// All three subscores saturate.
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.True(t, s.Acceptable(score))
}

func TestScoreFlatCropIsBlurry(t *testing.T) {
	s := NewScorer(defaultThresholds())
	frame := flat(100, 100, 128)
	box := face.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}

	score, m := s.Score(frame, box)
	assert.Equal(t, 0.0, m.BlurVar)
	// blur=0, bright=1, size=1 -> 0.2 + 0.3
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestScoreDarkCropFailsBrightnessWindow(t *testing.T) {
	s := NewScorer(defaultThresholds())
	frame := flat(100, 100, 10) // brightness ~0.04
	box := face.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}

	_, m := s.Score(frame, box)
	assert.Less(t, m.Brightness, 0.15)

	bright := flat(100, 100, 250) // brightness ~0.98
	_, m = s.Score(bright, box)
	assert.Greater(t, m.Brightness, 0.9)
}

func TestScoreTinyFaceScalesWithArea(t *testing.T) {
	s := NewScorer(defaultThresholds())
	frame := checkerboard(200, 200)
	// 10x10 of 200x200 = 0.25% of frame, a quarter of the 1% floor.
	box := face.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	score, m := s.Score(frame, box)
	assert.InDelta(t, 0.0025, m.AreaFrac, 1e-9)
	// blur=1, bright=1, size=0.25
	assert.InDelta(t, 0.5+0.2+0.3*0.25, score, 1e-9)
}

func TestScoreClipsOutOfBoundsBox(t *testing.T) {
	s := NewScorer(defaultThresholds())
	frame := checkerboard(50, 50)

	score, _ := s.Score(frame, face.BBox{X1: -10, Y1: -10, X2: 20, Y2: 20})
	assert.Greater(t, score, 0.0)

	// Fully outside: zero, no panic.
	score, _ = s.Score(frame, face.BBox{X1: 60, Y1: 60, X2: 80, Y2: 80})
	assert.Equal(t, 0.0, score)

	// Inverted box: zero.
	score, _ = s.Score(frame, face.BBox{X1: 30, Y1: 30, X2: 10, Y2: 10})
	assert.Equal(t, 0.0, score)
}
