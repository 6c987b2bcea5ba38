package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Params are the runtime tuning knobs read from
// config/parameter_config.json. Missing keys keep their defaults so a
// partial file is always valid.
type Params struct {
	DetectionSize [2]int `json:"detection_size"`

	// RecognitionThreshold is loaded for operator visibility but the
	// identification gate is EmbeddingSimilarityThreshold only,
	// matching the deployed behavior.
	RecognitionThreshold         float64 `json:"recognition_threshold"`
	EmbeddingSimilarityThreshold float64 `json:"embedding_similarity_threshold"`

	PresenceTimeoutSec float64 `json:"presence_timeout_sec"`

	FPSTarget        int `json:"fps_target"`
	StreamMaxWidth   int `json:"stream_max_width"`
	JPEGQuality      int `json:"jpeg_quality"`
	AnnotationStride int `json:"annotation_stride"`

	SmoothingWindow   int `json:"smoothing_window"`
	SmoothingMinVotes int `json:"smoothing_min_votes"`

	TrackerIoUThreshold float64 `json:"tracker_iou_threshold"`
	TrackerMaxMisses    int     `json:"tracker_max_misses"`

	EventMinIntervalSec float64 `json:"event_min_interval_sec"`
	AlertMinIntervalSec float64 `json:"alert_min_interval_sec"`

	QualityMinBlurVar      float64 `json:"quality_min_blur_var"`
	QualityMinFaceAreaFrac float64 `json:"quality_min_face_area_frac"`
	QualityMinBrightness   float64 `json:"quality_min_brightness"`
	QualityMaxBrightness   float64 `json:"quality_max_brightness"`
	QualityMinScore        float64 `json:"quality_min_score"`

	MarkAbsentEnabled                 bool `json:"mark_absent_enabled"`
	MarkAbsentOffsetMinutesBeforeEnd  int  `json:"mark_absent_offset_minutes_before_end"`
	AttendanceCapturesRetentionDays   int  `json:"attendance_captures_retention_days"`
	AttendanceFirstInOverwriteEnabled bool `json:"attendance_first_in_overwrite_enabled"`
	AttendanceLastOutDelaySec         int  `json:"attendance_last_out_delay_sec"`
}

// DefaultParams mirrors the defaults the tracker ships with.
func DefaultParams() Params {
	return Params{
		DetectionSize:                     [2]int{640, 640},
		RecognitionThreshold:              0.65,
		EmbeddingSimilarityThreshold:      0.45,
		PresenceTimeoutSec:                60,
		FPSTarget:                         15,
		StreamMaxWidth:                    960,
		JPEGQuality:                       70,
		AnnotationStride:                  3,
		SmoothingWindow:                   5,
		SmoothingMinVotes:                 3,
		TrackerIoUThreshold:               0.3,
		TrackerMaxMisses:                  8,
		EventMinIntervalSec:               5,
		AlertMinIntervalSec:               60,
		QualityMinBlurVar:                 50,
		QualityMinFaceAreaFrac:            0.01,
		QualityMinBrightness:              0.15,
		QualityMaxBrightness:              0.9,
		QualityMinScore:                   0.3,
		MarkAbsentEnabled:                 true,
		MarkAbsentOffsetMinutesBeforeEnd:  30,
		AttendanceCapturesRetentionDays:   30,
		AttendanceFirstInOverwriteEnabled: false,
		AttendanceLastOutDelaySec:         0,
	}
}

// PresenceTimeout returns the timeout as a duration.
func (p Params) PresenceTimeout() time.Duration {
	return time.Duration(p.PresenceTimeoutSec * float64(time.Second))
}

// AlertMinInterval returns the alert debounce window as a duration.
func (p Params) AlertMinInterval() time.Duration {
	return time.Duration(p.AlertMinIntervalSec * float64(time.Second))
}

// EventMinInterval returns the event insert rate limit as a duration.
func (p Params) EventMinInterval() time.Duration {
	return time.Duration(p.EventMinIntervalSec * float64(time.Second))
}

// LoadParams reads the parameter file over the defaults. A missing or
// corrupt file yields pure defaults; the tracker never refuses to
// start over tuning knobs.
func LoadParams(path string) Params {
	p := DefaultParams()
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Config] Parameter file unreadable (%v), using defaults", err)
		}
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("[Config] Parameter file corrupt (%v), using defaults", err)
		return DefaultParams()
	}

	// Legacy key: presence_timeout_sec falls back to tracking_timeout.
	var legacy struct {
		PresenceTimeoutSec *float64 `json:"presence_timeout_sec"`
		TrackingTimeout    *float64 `json:"tracking_timeout"`
	}
	if err := json.Unmarshal(raw, &legacy); err == nil {
		if legacy.PresenceTimeoutSec == nil && legacy.TrackingTimeout != nil {
			p.PresenceTimeoutSec = *legacy.TrackingTimeout
		}
	}

	p.sanitize()
	return p
}

func (p *Params) sanitize() {
	if p.FPSTarget < 1 {
		p.FPSTarget = 1
	}
	if p.AnnotationStride < 1 {
		p.AnnotationStride = 1
	}
	if p.SmoothingMinVotes < 1 {
		p.SmoothingMinVotes = 1
	}
	if p.QualityMinBlurVar < 1 {
		p.QualityMinBlurVar = 1
	}
	if p.QualityMinFaceAreaFrac <= 0 {
		p.QualityMinFaceAreaFrac = 1e-6
	}
	if p.AttendanceCapturesRetentionDays < 1 {
		p.AttendanceCapturesRetentionDays = 1
	}
}

// ParamStore serves a consistent Params snapshot to the pipeline and
// reloads it when the file changes on disk.
type ParamStore struct {
	path string

	mu     sync.RWMutex
	params Params
}

func NewParamStore(path string) *ParamStore {
	return &ParamStore{path: path, params: LoadParams(path)}
}

// Current returns the latest snapshot.
func (s *ParamStore) Current() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Reload re-reads the file immediately.
func (s *ParamStore) Reload() {
	p := LoadParams(s.path)
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	log.Printf("[Config] Parameters reloaded from %s", s.path)
}

// Watch reloads on file change. fsnotify when available, with a slow
// polling pass as a safety net; stops when done is closed.
func (s *ParamStore) Watch(done <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[Config] fsnotify unavailable (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(s.path); err != nil {
		log.Printf("[Config] Cannot watch %s (%v), falling back to polling", s.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-done:
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Editors often write in two ops; settle first.
						time.Sleep(100 * time.Millisecond)
						s.Reload()
					}
				case werr, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[Config] Watcher error: %v", werr)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		var lastMod time.Time
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				info, err := os.Stat(s.path)
				if err != nil {
					continue
				}
				if info.ModTime().After(lastMod) {
					if !lastMod.IsZero() {
						s.Reload()
					}
					lastMod = info.ModTime()
				}
			}
		}
	}()
}

// WriteParams persists p to path atomically (used by admin tooling).
func WriteParams(path string, p Params) error {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	return os.Rename(tmp, path)
}
