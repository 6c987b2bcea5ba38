package face

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	// replies maps subject to a canned reply; missing subjects error.
	replies  map[string]detectReply
	requests []string
}

func (f *fakeRequester) Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	f.requests = append(f.requests, subj)
	reply, ok := f.replies[subj]
	if !ok {
		return nil, errors.New("no responders")
	}
	raw, _ := json.Marshal(reply)
	return &nats.Msg{Subject: subj, Data: raw}, nil
}

var tiers = []Backend{
	{Name: "tensorrt", Subject: "face.infer.trt"},
	{Name: "cuda", Subject: "face.infer.cuda"},
	{Name: "cpu", Subject: "face.infer.cpu"},
}

func TestNewEngineFallsThroughTiers(t *testing.T) {
	nc := &fakeRequester{replies: map[string]detectReply{
		"face.infer.cpu": {},
	}}
	e := NewEngine(nc, tiers, [2]int{320, 320})

	assert.Equal(t, "cpu", e.Backend())
	assert.True(t, e.Ready())
	w, h := e.DetectionSize()
	assert.Equal(t, 320, w)
	assert.Equal(t, 320, h)
	// Probed in preference order.
	assert.Equal(t, []string{"face.infer.trt", "face.infer.cuda", "face.infer.cpu"}, nc.requests)
}

func TestNewEngineDegradesSilently(t *testing.T) {
	nc := &fakeRequester{replies: map[string]detectReply{}}
	e := NewEngine(nc, tiers, [2]int{640, 640})

	assert.False(t, e.Ready())
	assert.Equal(t, "", e.Backend())
	assert.Nil(t, e.Detect([]byte{0xff, 0xd8}))
}

func TestDetectParsesFaces(t *testing.T) {
	nc := &fakeRequester{replies: map[string]detectReply{
		"face.infer.trt": {Faces: []struct {
			BBox      [4]int    `json:"bbox"`
			Embedding []float32 `json:"embedding,omitempty"`
		}{
			{BBox: [4]int{10, 20, 110, 140}, Embedding: []float32{0.6, 0.8}},
			{BBox: [4]int{5, 5, 5, 40}}, // degenerate, dropped
		}},
	}}
	e := NewEngine(nc, tiers, [2]int{640, 640})
	require.True(t, e.Ready())

	dets := e.Detect([]byte{0xff, 0xd8, 0xff})
	require.Len(t, dets, 1)
	assert.Equal(t, BBox{X1: 10, Y1: 20, X2: 110, Y2: 140}, dets[0].Box)

	emb, ok := Embed(dets[0])
	require.True(t, ok)
	assert.Equal(t, []float32{0.6, 0.8}, emb)
}

func TestDetectBackendError(t *testing.T) {
	nc := &fakeRequester{replies: map[string]detectReply{
		"face.infer.trt": {},
	}}
	e := NewEngine(nc, tiers, [2]int{640, 640})
	require.True(t, e.Ready())

	nc.replies["face.infer.trt"] = detectReply{Error: "model not loaded"}
	assert.Nil(t, e.Detect([]byte{0xff, 0xd8}))
}

func TestBBoxIoU(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.InDelta(t, 0.0, a.IoU(BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}), 1e-9)

	// Half overlap: inter 50, union 150.
	b := BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-9)
}
