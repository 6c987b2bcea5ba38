package capture

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		in      string
		local   bool
		device  int
		url     string
		wantErr bool
	}{
		{"rtsp://10.0.0.5:554/stream1", false, 0, "rtsp://10.0.0.5:554/stream1", false},
		{"RTSP://cam.local/live", false, 0, "RTSP://cam.local/live", false},
		{"0", true, 0, "", false},
		{"3", true, 3, "", false},
		{"webcam:1", true, 1, "", false},
		{"webcam:-1", true, 0, "", true},
		{"-2", true, 0, "", true},
		{"http://not-supported", false, 0, "", true},
		{"", false, 0, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			src, err := ParseSource(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.local, src.IsLocal)
			if tc.local {
				assert.Equal(t, tc.device, src.Device)
			} else {
				assert.Equal(t, tc.url, src.URL)
			}
		})
	}
}

func TestFFmpegArgsNetworkTransport(t *testing.T) {
	src, err := ParseSource("rtsp://cam/stream")
	require.NoError(t, err)
	args := src.FFmpegArgs(15)

	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "tcp")
	assert.Contains(t, args, "-stimeout")
	assert.Contains(t, args, "mjpeg")
}

func TestFFmpegArgsLocalDevice(t *testing.T) {
	src, err := ParseSource("webcam:2")
	require.NoError(t, err)
	args := src.FFmpegArgs(0) // clamped to 1

	assert.Contains(t, args, "v4l2")
	assert.Contains(t, args, "/dev/video2")
	assert.Contains(t, args, "1")
	assert.NotContains(t, args, "-rtsp_transport")
}

func fakeJPEG(payload byte) []byte {
	return []byte{0xff, 0xd8, 0x00, payload, 0xff, 0xd9}
}

func TestFrameBufferOverwrites(t *testing.T) {
	buf := NewFrameBuffer()
	assert.Nil(t, buf.Latest())

	buf.Put(fakeJPEG(1), time.Now())
	buf.Put(fakeJPEG(2), time.Now())

	f := buf.Latest()
	require.NotNil(t, f)
	assert.Equal(t, uint64(2), f.Seq)
	assert.Equal(t, fakeJPEG(2), f.JPEG)

	// Already-seen frames are not re-delivered.
	assert.Nil(t, buf.LatestAfter(2))
	buf.Put(fakeJPEG(3), time.Now())
	got := buf.LatestAfter(2)
	require.NotNil(t, got)
	assert.Equal(t, uint64(3), got.Seq)
}

func TestMJPEGScannerSplitsFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(fakeJPEG(1))
	stream.Write([]byte{0xaa, 0xbb}) // inter-frame garbage
	stream.Write(fakeJPEG(2))

	s := newMJPEGScanner(&stream)

	f1, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, fakeJPEG(1), f1)

	f2, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, fakeJPEG(2), f2)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestMJPEGScannerPartialReads(t *testing.T) {
	frame := fakeJPEG(7)
	// One byte at a time.
	s := newMJPEGScanner(&trickleReader{data: frame})

	got, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

type trickleReader struct {
	data []byte
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

type scriptedStream struct {
	mu     sync.Mutex
	reads  [][]byte
	closed bool
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reads) == 0 {
		return 0, io.EOF
	}
	chunk := s.reads[0]
	s.reads = s.reads[1:]
	n := copy(p, chunk)
	return n, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestLoopReconnectsAfterStreamEnd(t *testing.T) {
	buf := NewFrameBuffer()
	src, err := ParseSource("rtsp://cam/stream")
	require.NoError(t, err)

	loop := NewLoop(1, src, 10, buf)

	var mu sync.Mutex
	opens := 0
	loop.open = func() (stream, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		return &scriptedStream{reads: [][]byte{fakeJPEG(byte(opens))}}, nil
	}

	loop.Start()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opens >= 2 && buf.Latest() != nil
	}, 2*time.Second, 10*time.Millisecond)
	loop.Stop()
}
