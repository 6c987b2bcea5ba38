package capture

import (
	"sync"
	"time"
)

// Frame is one JPEG-encoded camera frame.
type Frame struct {
	JPEG []byte
	TS   time.Time
	Seq  uint64
}

// FrameBuffer is the single-slot latest-frame buffer between the
// capture and inference loops: a new frame overwrites any unread one.
type FrameBuffer struct {
	mu    sync.Mutex
	frame *Frame
	seq   uint64
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Put stores f as the latest frame, assigning it the next sequence
// number. The buffer takes ownership of the byte slice.
func (b *FrameBuffer) Put(jpeg []byte, ts time.Time) {
	b.mu.Lock()
	b.seq++
	b.frame = &Frame{JPEG: jpeg, TS: ts, Seq: b.seq}
	b.mu.Unlock()
}

// Latest returns the most recent frame, or nil when none has arrived.
// Frames are immutable once stored; callers must not mutate JPEG.
func (b *FrameBuffer) Latest() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame
}

// LatestAfter returns the most recent frame only if it is newer than
// seq, letting the inference loop skip frames it already processed.
func (b *FrameBuffer) LatestAfter(seq uint64) *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil || b.frame.Seq <= seq {
		return nil
	}
	return b.frame
}
