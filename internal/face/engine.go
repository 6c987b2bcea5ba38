// Package face is the detection/embedding engine. Inference runs in
// out-of-process workers (TensorRT, CUDA or CPU builds of the same
// model) reached over NATS request/reply; the engine probes the tiers
// in preference order at startup and degrades to an empty engine when
// none answers, keeping the tracker up.
package face

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-attend/internal/metrics"
)

const (
	probeTimeout  = 5 * time.Second
	detectTimeout = 3 * time.Second
)

// Backend names one inference tier.
type Backend struct {
	Name    string
	Subject string
}

// Requester is the slice of *nats.Conn the engine needs.
type Requester interface {
	Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

type detectRequest struct {
	RequestID string `json:"request_id"`
	Frame     []byte `json:"frame_jpeg"`
	Width     int    `json:"det_width"`
	Height    int    `json:"det_height"`
	Warmup    bool   `json:"warmup,omitempty"`
}

type detectReply struct {
	Faces []struct {
		BBox      [4]int    `json:"bbox"`
		Embedding []float32 `json:"embedding,omitempty"`
	} `json:"faces"`
	Error string `json:"error,omitempty"`
}

// Engine detects faces and produces embeddings for a frame.
type Engine struct {
	nc      Requester
	backend *Backend // nil when degraded
	detW    int
	detH    int
}

// NewEngine probes the backend tiers in order and warms up the first
// one that answers. On total failure the engine is empty: Detect
// returns nil and the process stays up.
func NewEngine(nc Requester, backends []Backend, detSize [2]int) *Engine {
	e := &Engine{nc: nc, detW: detSize[0], detH: detSize[1]}
	if e.detW <= 0 || e.detH <= 0 {
		e.detW, e.detH = 640, 640
	}

	warmup := encodeZeroFrame(e.detW, e.detH)
	for _, b := range backends {
		if err := e.probe(b, warmup); err != nil {
			log.Printf("[Face] Backend %s unavailable: %v", b.Name, err)
			continue
		}
		be := b
		e.backend = &be
		log.Printf("[Face] Engine ready. Backend=%s det_size=%dx%d", b.Name, e.detW, e.detH)
		metrics.EngineUp.Set(1)
		return e
	}

	log.Printf("[Face] No inference backend available, engine degraded (detections disabled)")
	metrics.EngineUp.Set(0)
	return e
}

func (e *Engine) probe(b Backend, warmupFrame []byte) error {
	req := detectRequest{
		RequestID: uuid.New().String(),
		Frame:     warmupFrame,
		Width:     e.detW,
		Height:    e.detH,
		Warmup:    true,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg, err := e.nc.Request(b.Subject, payload, probeTimeout)
	if err != nil {
		return err
	}
	var reply detectReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("bad warmup reply: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("backend error: %s", reply.Error)
	}
	return nil
}

// Backend returns the chosen backend name, or "" when degraded.
func (e *Engine) Backend() string {
	if e.backend == nil {
		return ""
	}
	return e.backend.Name
}

// DetectionSize returns the configured detector input size.
func (e *Engine) DetectionSize() (int, int) {
	return e.detW, e.detH
}

// Ready reports whether a backend was initialized.
func (e *Engine) Ready() bool {
	return e.backend != nil
}

// Detect runs face detection on a JPEG-encoded frame. A degraded
// engine and any transport or backend failure yield an empty list;
// detection errors never propagate into the pipeline.
func (e *Engine) Detect(frameJPEG []byte) []Detection {
	if e.backend == nil || len(frameJPEG) == 0 {
		return nil
	}

	req := detectRequest{
		RequestID: uuid.New().String(),
		Frame:     frameJPEG,
		Width:     e.detW,
		Height:    e.detH,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil
	}

	start := time.Now()
	msg, err := e.nc.Request(e.backend.Subject, payload, detectTimeout)
	metrics.InferenceLatency.WithLabelValues(e.backend.Name).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		log.Printf("[Face] Detect request failed on %s: %v", e.backend.Name, err)
		return nil
	}

	var reply detectReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		log.Printf("[Face] Bad detect reply from %s: %v", e.backend.Name, err)
		return nil
	}
	if reply.Error != "" {
		log.Printf("[Face] Backend %s: %s", e.backend.Name, reply.Error)
		return nil
	}

	dets := make([]Detection, 0, len(reply.Faces))
	for _, f := range reply.Faces {
		d := Detection{
			Box: BBox{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3]},
		}
		if d.Box.Width() <= 0 || d.Box.Height() <= 0 {
			continue
		}
		if len(f.Embedding) > 0 {
			d.Embedding = f.Embedding
		}
		dets = append(dets, d)
	}
	return dets
}

func encodeZeroFrame(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	// Encoding a zero frame cannot fail with a valid bounds rect.
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60})
	return buf.Bytes()
}
