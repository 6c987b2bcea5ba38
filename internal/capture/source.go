// Package capture runs one FFmpeg-backed reader per camera and keeps
// the most recent frame in a single-slot buffer for the inference
// loop and the snapshot saver.
package capture

import (
	"fmt"
	"strconv"
	"strings"
)

// Source is a parsed camera source URL. Accepted forms are
// "rtsp://...", a bare non-negative device index, and "webcam:<n>".
type Source struct {
	Raw     string
	IsLocal bool
	Device  int    // local device index when IsLocal
	URL     string // network URL otherwise
}

func ParseSource(raw string) (Source, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Source{}, fmt.Errorf("empty camera source")
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "rtsp://"):
		return Source{Raw: raw, URL: s}, nil
	case strings.HasPrefix(lower, "webcam:"):
		idx, err := strconv.Atoi(s[len("webcam:"):])
		if err != nil || idx < 0 {
			return Source{}, fmt.Errorf("invalid webcam index in %q", raw)
		}
		return Source{Raw: raw, IsLocal: true, Device: idx}, nil
	default:
		idx, err := strconv.Atoi(s)
		if err != nil || idx < 0 {
			return Source{}, fmt.Errorf("unsupported camera source %q", raw)
		}
		return Source{Raw: raw, IsLocal: true, Device: idx}, nil
	}
}

// FFmpegArgs renders the capture invocation: MJPEG on stdout at the
// target fps. Network sources force TCP transport with a bounded I/O
// timeout and a minimal receive buffer, local devices go through
// v4l2.
func (s Source) FFmpegArgs(fps int) []string {
	if fps < 1 {
		fps = 1
	}
	var args []string
	if s.IsLocal {
		args = append(args,
			"-f", "v4l2",
			"-i", fmt.Sprintf("/dev/video%d", s.Device),
		)
	} else {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-stimeout", "5000000", // microseconds
			"-buffer_size", "102400",
			"-i", s.URL,
		)
	}
	args = append(args,
		"-an",
		"-r", strconv.Itoa(fps),
		"-f", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	return args
}
