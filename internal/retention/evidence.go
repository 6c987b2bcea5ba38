package retention

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/presence"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

// EvidenceSource is the pipeline surface the evidence writer reads:
// the annotated frame plus the camera roster for meta.json.
type EvidenceSource interface {
	AnnotatedJPEG(cameraID int) ([]byte, time.Time, bool)
	Camera(id int) (config.CameraConfig, bool)
}

// EvidenceWriter persists attendance evidence images under
// attendance_captures/YYYY-MM-DD/<employee_id>/. first_in.jpg is
// write-once per day unless the overwrite override is on; last_out.jpg
// tracks the most recent exit and may be delayed to catch a better
// frame.
type EvidenceWriter struct {
	frames   EvidenceSource
	dir      string
	params   func() config.Params
	requests <-chan presence.Evidence

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewEvidenceWriter(frames EvidenceSource, dir string, params func() config.Params, requests <-chan presence.Evidence) *EvidenceWriter {
	return &EvidenceWriter{
		frames:   frames,
		dir:      dir,
		params:   params,
		requests: requests,
		quit:     make(chan struct{}),
	}
}

func (w *EvidenceWriter) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.quit:
				return
			case ev, ok := <-w.requests:
				if !ok {
					return
				}
				w.Handle(ev)
			}
		}
	}()
}

func (w *EvidenceWriter) Stop() {
	close(w.quit)
	w.wg.Wait()
}

// Handle writes one evidence image.
func (w *EvidenceWriter) Handle(ev presence.Evidence) {
	p := w.params()

	switch ev.Kind {
	case presence.EvidenceFirstIn:
		if err := w.writeFirstIn(ev, p.AttendanceFirstInOverwriteEnabled || ev.Overwrite); err != nil {
			log.Printf("[Retention] first_in evidence for employee %d failed: %v", ev.EmployeeID, err)
		}
	case presence.EvidenceLastOut:
		// The delay lets the camera settle on a frame that still shows
		// the person leaving rather than an empty doorway.
		if delay := time.Duration(p.AttendanceLastOutDelaySec) * time.Second; delay > 0 {
			select {
			case <-w.quit:
				return
			case <-time.After(delay):
			}
		}
		if err := w.writeLastOut(ev); err != nil {
			log.Printf("[Retention] last_out evidence for employee %d failed: %v", ev.EmployeeID, err)
		}
	default:
		log.Printf("[Retention] Unknown evidence kind %q, dropping", ev.Kind)
	}
}

func (w *EvidenceWriter) writeFirstIn(ev presence.Evidence, overwrite bool) error {
	dir := w.employeeDir(ev)
	path := filepath.Join(dir, "first_in.jpg")
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil // already captured today
		}
	}
	if err := w.writeFrame(ev, path); err != nil {
		return err
	}
	return w.mergeMeta(dir, w.metaUpdates(ev, "first_in"))
}

func (w *EvidenceWriter) writeLastOut(ev presence.Evidence) error {
	dir := w.employeeDir(ev)
	if err := w.writeFrame(ev, filepath.Join(dir, "last_out.jpg")); err != nil {
		return err
	}
	return w.mergeMeta(dir, w.metaUpdates(ev, "last_out"))
}

// metaUpdates builds the prefixed meta.json fields for one evidence
// kind, including the camera name and area from the roster.
func (w *EvidenceWriter) metaUpdates(ev presence.Evidence, prefix string) map[string]any {
	updates := map[string]any{
		"employee_id":           ev.EmployeeID,
		"date":                  timeutil.DateString(ev.TS),
		prefix + "_ts":          ev.TS.Format(time.RFC3339),
		prefix + "_camera_id":   ev.CameraID,
		prefix + "_camera_name": "",
		prefix + "_camera_area": "",
	}
	if cam, ok := w.frames.Camera(ev.CameraID); ok {
		updates[prefix+"_camera_name"] = cam.Name
		updates[prefix+"_camera_area"] = cam.Area
	}
	return updates
}

func (w *EvidenceWriter) employeeDir(ev presence.Evidence) string {
	return filepath.Join(w.dir, timeutil.DateString(ev.TS), strconv.Itoa(ev.EmployeeID))
}

func (w *EvidenceWriter) writeFrame(ev presence.Evidence, path string) error {
	raw, _, ok := w.frames.AnnotatedJPEG(ev.CameraID)
	if !ok {
		return fmt.Errorf("no frame available from camera %d", ev.CameraID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// mergeMeta folds updates into meta.json, preserving keys written by
// the other evidence kind. The rewrite is atomic.
func (w *EvidenceWriter) mergeMeta(dir string, updates map[string]any) error {
	path := filepath.Join(dir, "meta.json")
	meta := map[string]any{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			log.Printf("[Retention] Corrupt %s, rewriting: %v", path, err)
			meta = map[string]any{}
		}
	}
	for k, v := range updates {
		meta[k] = v
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return os.Rename(tmp, path)
}
