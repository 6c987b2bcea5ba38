package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// maxFrameBytes bounds the scan buffer so a corrupted stream cannot
// grow it without limit.
const maxFrameBytes = 8 << 20

// mjpegScanner splits a concatenated-JPEG byte stream into frames.
type mjpegScanner struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func newMJPEGScanner(r io.Reader) *mjpegScanner {
	return &mjpegScanner{r: bufio.NewReaderSize(r, 256*1024)}
}

// Next returns the next complete JPEG frame. The returned slice is
// owned by the caller.
func (s *mjpegScanner) Next() ([]byte, error) {
	chunk := make([]byte, 64*1024)
	for {
		if frame := s.extract(); frame != nil {
			return frame, nil
		}
		if s.buf.Len() > maxFrameBytes {
			s.buf.Reset()
			return nil, fmt.Errorf("mjpeg frame exceeds %d bytes", maxFrameBytes)
		}
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf.Write(chunk[:n])
		}
		if err != nil {
			if frame := s.extract(); frame != nil {
				return frame, nil
			}
			return nil, err
		}
	}
}

func (s *mjpegScanner) extract() []byte {
	data := s.buf.Bytes()
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		s.buf.Reset()
		return nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if start > 0 {
			s.buf.Next(start)
		}
		return nil
	}
	end += start + 2 + 2 // past the EOI marker

	frame := make([]byte, end-start)
	copy(frame, data[start:end])
	s.buf.Next(end)
	return frame
}
