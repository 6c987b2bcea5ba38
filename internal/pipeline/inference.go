// Package pipeline runs the per-camera inference loops and exposes the
// live view consumed by the UI collaborator.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/ts-attend/internal/capture"
	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/embeddings"
	"github.com/technosupport/ts-attend/internal/face"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/quality"
	"github.com/technosupport/ts-attend/internal/timeutil"
	"github.com/technosupport/ts-attend/internal/tracker"
)

// Detector is the slice of face.Engine the loop needs.
type Detector interface {
	Detect(frameJPEG []byte) []face.Detection
	Backend() string
}

// Matcher is the slice of embeddings.Store the loop needs.
type Matcher interface {
	BestMatch(query []float32) (int, float64, bool)
	Meta(employeeID int) (embeddings.EmployeeMeta, bool)
}

// SeenSink receives finalized recognitions; the presence monitor.
type SeenSink interface {
	Seen(ctx context.Context, employeeID, cameraID, trackID int, similarity float64, now time.Time)
}

// TrackingGate tells the loop whether inference should run at all.
type TrackingGate interface {
	TrackingActive() bool
}

// InferenceLoop polls a camera's frame buffer at the target FPS and
// runs detect → quality → identify → track on every new frame.
type InferenceLoop struct {
	cameraID   int
	cameraName string
	buf        *capture.FrameBuffer

	detector Detector
	matcher  Matcher
	sink     SeenSink
	gate     TrackingGate
	params   func() config.Params

	trk *tracker.Tracker

	mu          sync.Mutex
	annotated   *image.RGBA
	annotatedTS time.Time

	lastSeq    uint64
	frameCount int

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewInferenceLoop(cameraID int, cameraName string, buf *capture.FrameBuffer,
	detector Detector, matcher Matcher, sink SeenSink, gate TrackingGate,
	params func() config.Params) *InferenceLoop {

	p := params()
	return &InferenceLoop{
		cameraID:   cameraID,
		cameraName: cameraName,
		buf:        buf,
		detector:   detector,
		matcher:    matcher,
		sink:       sink,
		gate:       gate,
		params:     params,
		trk: tracker.New(tracker.Config{
			IoUThreshold: p.TrackerIoUThreshold,
			MinVotes:     p.SmoothingMinVotes,
			MaxMisses:    p.TrackerMaxMisses,
		}),
		quit: make(chan struct{}),
	}
}

func (l *InferenceLoop) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *InferenceLoop) Stop() {
	close(l.quit)
	l.wg.Wait()
}

func (l *InferenceLoop) run() {
	defer l.wg.Done()

	for {
		interval := time.Second / time.Duration(l.params().FPSTarget)
		select {
		case <-l.quit:
			return
		case <-time.After(interval):
		}

		if !l.gate.TrackingActive() {
			continue
		}
		frame := l.buf.LatestAfter(l.lastSeq)
		if frame == nil {
			continue
		}
		l.lastSeq = frame.Seq
		l.ProcessFrame(context.Background(), frame, timeutil.NowLocal())
	}
}

// ProcessFrame runs one detect/identify/track pass.
func (l *InferenceLoop) ProcessFrame(ctx context.Context, frame *capture.Frame, now time.Time) {
	p := l.params()
	camLabel := strconv.Itoa(l.cameraID)
	metrics.FramesProcessedTotal.WithLabelValues(camLabel).Inc()

	img, err := jpeg.Decode(bytes.NewReader(frame.JPEG))
	if err != nil {
		log.Printf("[Pipeline] Camera %d undecodable frame: %v", l.cameraID, err)
		return
	}

	// Latency is observed inside the engine, per backend.
	detections := l.detector.Detect(frame.JPEG)

	scorer := quality.NewScorer(quality.Thresholds{
		MinBlurVar:      p.QualityMinBlurVar,
		MinFaceAreaFrac: p.QualityMinFaceAreaFrac,
		MinBrightness:   p.QualityMinBrightness,
		MaxBrightness:   p.QualityMaxBrightness,
		MinScore:        p.QualityMinScore,
	})

	obs := make([]tracker.Observation, 0, len(detections))
	for _, det := range detections {
		o := tracker.Observation{Box: det.Box}
		score, _ := scorer.Score(img, det.Box)
		o.Quality = score

		if !scorer.Acceptable(score) {
			metrics.DetectionsTotal.WithLabelValues("low_quality").Inc()
			obs = append(obs, o)
			continue
		}
		emb, ok := face.Embed(det)
		if !ok {
			metrics.DetectionsTotal.WithLabelValues("unknown").Inc()
			obs = append(obs, o)
			continue
		}
		id, sim, ok := l.matcher.BestMatch(emb)
		if ok && sim >= p.EmbeddingSimilarityThreshold {
			o.CandidateID = id
			o.Similarity = sim
			metrics.DetectionsTotal.WithLabelValues("recognized").Inc()
		} else {
			metrics.DetectionsTotal.WithLabelValues("unknown").Inc()
		}
		obs = append(obs, o)
	}

	seen := l.trk.Update(obs, now)
	metrics.TracksActive.WithLabelValues(camLabel).Set(float64(l.trk.Len()))
	for _, s := range seen {
		l.sink.Seen(ctx, s.EmployeeID, l.cameraID, s.TrackID, s.Similarity, now)
	}

	l.frameCount++
	if l.frameCount%p.AnnotationStride == 0 {
		l.renderAnnotated(img, now)
	}
}

// renderAnnotated draws the current track table over the frame and
// caches the result for the stream/saver read path.
func (l *InferenceLoop) renderAnnotated(img image.Image, now time.Time) {
	var labels []Label
	for _, t := range l.trk.Tracks() {
		if t.Misses > 0 {
			continue
		}
		lbl := Label{Box: t.Box, Text: "Unknown"}
		if t.FinalEmployeeID > 0 {
			lbl.Known = true
			lbl.Text = fmt.Sprintf("ID %d", t.FinalEmployeeID)
			if meta, ok := l.matcher.Meta(t.FinalEmployeeID); ok {
				lbl.Text = fmt.Sprintf("ID %d - %s", t.FinalEmployeeID, meta.Name)
			}
		}
		labels = append(labels, lbl)
	}
	annotated := Annotate(img, labels)

	l.mu.Lock()
	l.annotated = annotated
	l.annotatedTS = now
	l.mu.Unlock()
}

// AnnotatedJPEG returns the latest annotated frame, scaled and encoded
// per the stream parameters. Falls back to the raw capture when no
// annotation has been rendered recently (e.g. tracking paused).
func (l *InferenceLoop) AnnotatedJPEG() ([]byte, time.Time, bool) {
	p := l.params()

	l.mu.Lock()
	annotated := l.annotated
	ts := l.annotatedTS
	l.mu.Unlock()

	raw := l.buf.Latest()
	if annotated == nil || (raw != nil && raw.TS.Sub(ts) > 2*time.Second) {
		if raw == nil {
			return nil, time.Time{}, false
		}
		return raw.JPEG, raw.TS, true
	}

	out, err := EncodeJPEG(ScaleToWidth(annotated, p.StreamMaxWidth), p.JPEGQuality)
	if err != nil {
		log.Printf("[Pipeline] Camera %d annotate encode failed: %v", l.cameraID, err)
		return nil, time.Time{}, false
	}
	return out, ts, true
}
