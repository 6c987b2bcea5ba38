package capture

import (
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/ts-attend/internal/metrics"
)

const (
	// DefaultFailThreshold is how many consecutive bad reads force a
	// source reopen.
	DefaultFailThreshold = 10

	reopenBackoff = 300 * time.Millisecond
	reopenRetry   = 500 * time.Millisecond
)

// stream is one open capture session.
type stream interface {
	io.Reader
	Close() error
}

// openFunc opens the camera source; swapped in tests.
type openFunc func() (stream, error)

// Loop is the per-camera capture worker. It keeps the single-slot
// frame buffer fed and reopens the source after repeated failures.
type Loop struct {
	cameraID      int
	source        Source
	fps           int
	failThreshold int
	buf           *FrameBuffer

	open openFunc

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewLoop(cameraID int, src Source, fps int, buf *FrameBuffer) *Loop {
	l := &Loop{
		cameraID:      cameraID,
		source:        src,
		fps:           fps,
		failThreshold: DefaultFailThreshold,
		buf:           buf,
		quit:          make(chan struct{}),
	}
	l.open = l.openFFmpeg
	return l
}

func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop signals the worker and waits up to 2s for it to exit.
func (l *Loop) Stop() {
	close(l.quit)
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Printf("[Capture] Camera %d worker did not stop in time", l.cameraID)
	}
}

func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case <-l.quit:
			return
		default:
		}

		s, err := l.open()
		if err != nil {
			log.Printf("[Capture] Camera %d open failed: %v", l.cameraID, err)
			metrics.CaptureReconnectsTotal.WithLabelValues(strconv.Itoa(l.cameraID)).Inc()
			if !l.sleep(reopenRetry) {
				return
			}
			continue
		}

		l.consume(s)
		s.Close()

		metrics.CaptureReconnectsTotal.WithLabelValues(strconv.Itoa(l.cameraID)).Inc()
		if !l.sleep(reopenBackoff) {
			return
		}
	}
}

// consume reads frames until the stop signal, a stream error, or the
// fail threshold trips.
func (l *Loop) consume(s stream) {
	scanner := newMJPEGScanner(s)
	failCount := 0
	for {
		select {
		case <-l.quit:
			return
		default:
		}

		frame, err := scanner.Next()
		if err != nil {
			if err != io.EOF {
				log.Printf("[Capture] Camera %d read error: %v", l.cameraID, err)
			}
			return
		}
		if len(frame) == 0 {
			failCount++
			if failCount >= l.failThreshold {
				log.Printf("[Capture] Camera %d hit %d consecutive bad frames, reopening", l.cameraID, failCount)
				return
			}
			continue
		}
		failCount = 0
		l.buf.Put(frame, time.Now())
	}
}

func (l *Loop) sleep(d time.Duration) bool {
	select {
	case <-l.quit:
		return false
	case <-time.After(d):
		return true
	}
}

// ffmpegStream wraps the subprocess so Close reaps it.
type ffmpegStream struct {
	io.Reader
	cmd *exec.Cmd
}

func (f *ffmpegStream) Close() error {
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	return f.cmd.Wait()
}

func (l *Loop) openFFmpeg() (stream, error) {
	cmd := exec.Command("ffmpeg", append([]string{"-hide_banner", "-loglevel", "error"}, l.source.FFmpegArgs(l.fps)...)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	return &ffmpegStream{Reader: stdout, cmd: cmd}, nil
}
