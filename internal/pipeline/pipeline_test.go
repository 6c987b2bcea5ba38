package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-attend/internal/capture"
	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/embeddings"
	"github.com/technosupport/ts-attend/internal/face"
)

type fakeDetector struct {
	detections []face.Detection
	backend    string
}

func (d *fakeDetector) Detect([]byte) []face.Detection { return d.detections }
func (d *fakeDetector) Backend() string                { return d.backend }

type fakeMatcher struct {
	id   int
	sim  float64
	meta map[int]embeddings.EmployeeMeta
}

func (m *fakeMatcher) BestMatch([]float32) (int, float64, bool) {
	if m.id == 0 {
		return 0, 0, false
	}
	return m.id, m.sim, true
}

func (m *fakeMatcher) Meta(id int) (embeddings.EmployeeMeta, bool) {
	meta, ok := m.meta[id]
	return meta, ok
}

type seenCall struct {
	employeeID, cameraID, trackID int
	similarity                    float64
}

type fakeSink struct {
	calls []seenCall
}

func (s *fakeSink) Seen(_ context.Context, employeeID, cameraID, trackID int, similarity float64, _ time.Time) {
	s.calls = append(s.calls, seenCall{employeeID, cameraID, trackID, similarity})
}

type fakeTrackingGate struct{ active bool }

func (g *fakeTrackingGate) TrackingActive() bool { return g.active }

func pipelineParams() config.Params {
	p := config.DefaultParams()
	p.SmoothingMinVotes = 1
	p.AnnotationStride = 1
	p.QualityMinScore = 0 // everything passes the quality gate
	p.QualityMinBlurVar = 1
	p.EmbeddingSimilarityThreshold = 0.45
	p.StreamMaxWidth = 100
	return p
}

func testFrame(t *testing.T, w, h int) *capture.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := uint8(((x + y) % 2) * 255)
			img.SetRGBA(x, y, color.RGBA{c, c, c, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return &capture.Frame{JPEG: buf.Bytes(), TS: time.Now(), Seq: 1}
}

func detection(id byte) face.Detection {
	return face.Detection{
		Box:       face.BBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
		Embedding: []float32{float32(id), 0.5, 0.25},
	}
}

func TestProcessFrameRecognizesAndSignals(t *testing.T) {
	buf := capture.NewFrameBuffer()
	sink := &fakeSink{}
	l := NewInferenceLoop(3, "Lobby", buf,
		&fakeDetector{detections: []face.Detection{detection(1)}, backend: "cpu"},
		&fakeMatcher{id: 7, sim: 0.9},
		sink, &fakeTrackingGate{active: true}, pipelineParams)

	frame := testFrame(t, 160, 120)
	l.ProcessFrame(context.Background(), frame, time.Now())

	require.Len(t, sink.calls, 1)
	assert.Equal(t, 7, sink.calls[0].employeeID)
	assert.Equal(t, 3, sink.calls[0].cameraID)
	assert.Equal(t, 0.9, sink.calls[0].similarity)
}

func TestProcessFrameLowSimilarityStaysAnonymous(t *testing.T) {
	buf := capture.NewFrameBuffer()
	sink := &fakeSink{}
	l := NewInferenceLoop(3, "Lobby", buf,
		&fakeDetector{detections: []face.Detection{detection(1)}, backend: "cpu"},
		&fakeMatcher{id: 7, sim: 0.2}, // below the 0.45 gate
		sink, &fakeTrackingGate{active: true}, pipelineParams)

	l.ProcessFrame(context.Background(), testFrame(t, 160, 120), time.Now())
	assert.Empty(t, sink.calls)
	assert.Equal(t, 1, l.trk.Len()) // geometry still tracked
}

func TestAnnotatedJPEGScalesToStreamWidth(t *testing.T) {
	buf := capture.NewFrameBuffer()
	l := NewInferenceLoop(3, "Lobby", buf,
		&fakeDetector{detections: []face.Detection{detection(1)}, backend: "cpu"},
		&fakeMatcher{id: 7, sim: 0.9, meta: map[int]embeddings.EmployeeMeta{7: {Name: "Siti"}}},
		&fakeSink{}, &fakeTrackingGate{active: true}, pipelineParams)

	frame := testFrame(t, 320, 240)
	buf.Put(frame.JPEG, frame.TS)
	l.ProcessFrame(context.Background(), frame, time.Now())

	raw, _, ok := l.AnnotatedJPEG()
	require.True(t, ok)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx()) // StreamMaxWidth
}

func TestAnnotatedJPEGFallsBackToRawFrame(t *testing.T) {
	buf := capture.NewFrameBuffer()
	l := NewInferenceLoop(3, "Lobby", buf,
		&fakeDetector{}, &fakeMatcher{}, &fakeSink{},
		&fakeTrackingGate{active: false}, pipelineParams)

	// Tracking off: no annotation rendered, raw frame is served.
	frame := testFrame(t, 160, 120)
	buf.Put(frame.JPEG, frame.TS)

	raw, _, ok := l.AnnotatedJPEG()
	require.True(t, ok)
	assert.Equal(t, frame.JPEG, raw)
}

func TestAnnotateBorderColors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 80, 80))
	out := Annotate(img, []Label{
		{Box: face.BBox{X1: 5, Y1: 5, X2: 30, Y2: 30}, Text: "ID 7 - Siti", Known: true},
		{Box: face.BBox{X1: 40, Y1: 40, X2: 70, Y2: 70}, Text: "Unknown"},
	})

	assert.Equal(t, knownColor, out.RGBAAt(5, 5))
	assert.Equal(t, unknownColor, out.RGBAAt(40, 40))
}

func TestAnnotateClipsOutOfBoundsBoxes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	assert.NotPanics(t, func() {
		Annotate(img, []Label{{Box: face.BBox{X1: -10, Y1: -10, X2: 100, Y2: 100}, Text: "x"}})
	})
}

func TestScaleToWidth(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	out := ScaleToWidth(img, 50)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())

	// Narrow images pass through untouched.
	small := image.NewRGBA(image.Rect(0, 0, 30, 30))
	assert.Equal(t, small.Bounds(), ScaleToWidth(small, 50).Bounds())
}
