package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-attend/internal/capture"
	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/presence"
)

const (
	statusCacheSize = 256
	statusCacheTTL  = 5 * time.Second

	snapshotInterval = 2 * time.Second
	snapshotKey      = "attend:presence:state"
	snapshotTTL      = 10 * time.Second
)

// PresenceStates is the monitor's in-memory table.
type PresenceStates interface {
	States() map[int]presence.EmployeeState
}

// StreamPrefs are the encoding preferences handed to the UI stream.
type StreamPrefs struct {
	MaxWidth         int `json:"max_width"`
	JPEGQuality      int `json:"jpeg_quality"`
	AnnotationStride int `json:"annotation_stride"`
	FPS              int `json:"fps"`
}

type cameraRuntime struct {
	cfg config.CameraConfig
	buf *capture.FrameBuffer
	cap *capture.Loop
	inf *InferenceLoop
}

// Manager owns the per-camera capture and inference workers plus the
// read paths (live view, annotated frames, presence snapshot).
type Manager struct {
	detector Detector
	matcher  Matcher
	sink     SeenSink
	gate     TrackingGate
	params   func() config.Params
	states   PresenceStates
	models   data.Models
	rdb      *redis.Client

	statusCache *expirable.LRU[int, string]

	mu      sync.Mutex
	cams    map[int]*cameraRuntime
	running bool

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewManager(detector Detector, matcher Matcher, sink SeenSink, gate TrackingGate,
	params func() config.Params, states PresenceStates, models data.Models, rdb *redis.Client) *Manager {

	return &Manager{
		detector:    detector,
		matcher:     matcher,
		sink:        sink,
		gate:        gate,
		params:      params,
		states:      states,
		models:      models,
		rdb:         rdb,
		statusCache: expirable.NewLRU[int, string](statusCacheSize, nil, statusCacheTTL),
		cams:        make(map[int]*cameraRuntime),
		quit:        make(chan struct{}),
	}
}

// Start brings up every configured camera and the snapshot publisher.
func (m *Manager) Start(cfgs []config.CameraConfig) {
	for _, cfg := range cfgs {
		if err := m.StartCamera(cfg); err != nil {
			log.Printf("[Pipeline] Camera %d not started: %v", cfg.ID, err)
		}
	}

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	if m.rdb != nil {
		m.wg.Add(1)
		go m.publishLoop()
	}
}

// StartCamera registers the camera and, when its AI flag is on, starts
// its capture and inference workers.
func (m *Manager) StartCamera(cfg config.CameraConfig) error {
	src, err := capture.ParseSource(cfg.RTSPURL)
	if err != nil {
		return fmt.Errorf("camera %d source: %w", cfg.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cams[cfg.ID]; exists {
		return fmt.Errorf("camera %d already registered", cfg.ID)
	}

	buf := capture.NewFrameBuffer()
	rt := &cameraRuntime{cfg: cfg, buf: buf}
	if cfg.Enabled {
		rt.cap = capture.NewLoop(cfg.ID, src, m.params().FPSTarget, buf)
		rt.inf = NewInferenceLoop(cfg.ID, cfg.Name, buf, m.detector, m.matcher, m.sink, m.gate, m.params)
		rt.cap.Start()
		rt.inf.Start()
		log.Printf("[Pipeline] Camera %d (%s) started", cfg.ID, cfg.Name)
	} else {
		log.Printf("[Pipeline] Camera %d (%s) registered, AI disabled", cfg.ID, cfg.Name)
	}
	m.cams[cfg.ID] = rt
	return nil
}

// StopCamera tears down one camera's workers.
func (m *Manager) StopCamera(id int) {
	m.mu.Lock()
	rt, ok := m.cams[id]
	if ok {
		delete(m.cams, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if rt.inf != nil {
		rt.inf.Stop()
	}
	if rt.cap != nil {
		rt.cap.Stop()
	}
	log.Printf("[Pipeline] Camera %d stopped", id)
}

// Stop tears everything down.
func (m *Manager) Stop() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.cams))
	for id := range m.cams {
		ids = append(ids, id)
	}
	m.running = false
	m.mu.Unlock()

	for _, id := range ids {
		m.StopCamera(id)
	}
	close(m.quit)
	m.wg.Wait()
}

// Camera returns the registered config for one camera.
func (m *Manager) Camera(id int) (config.CameraConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.cams[id]
	if !ok {
		return config.CameraConfig{}, false
	}
	return rt.cfg, true
}

// Cameras lists every registered camera config.
func (m *Manager) Cameras() []config.CameraConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]config.CameraConfig, 0, len(m.cams))
	for _, rt := range m.cams {
		out = append(out, rt.cfg)
	}
	return out
}

// AnnotatedJPEG is the render path for the stream and the snapshot
// saver.
func (m *Manager) AnnotatedJPEG(cameraID int) ([]byte, time.Time, bool) {
	m.mu.Lock()
	rt, ok := m.cams[cameraID]
	m.mu.Unlock()
	if !ok {
		return nil, time.Time{}, false
	}
	if rt.inf != nil {
		return rt.inf.AnnotatedJPEG()
	}
	if f := rt.buf.Latest(); f != nil {
		return f.JPEG, f.TS, true
	}
	return nil, time.Time{}, false
}

// CameraStatus reports "online" when the camera delivered a frame
// recently. Cached briefly to keep the UI poll cheap.
func (m *Manager) CameraStatus(cameraID int) string {
	if st, ok := m.statusCache.Get(cameraID); ok {
		return st
	}

	m.mu.Lock()
	rt, ok := m.cams[cameraID]
	m.mu.Unlock()

	status := "offline"
	if ok {
		if f := rt.buf.Latest(); f != nil && time.Since(f.TS) <= 10*time.Second {
			status = "online"
		}
	}
	m.statusCache.Add(cameraID, status)
	return status
}

// StreamPrefs exposes the current encode settings.
func (m *Manager) StreamPrefs() StreamPrefs {
	p := m.params()
	return StreamPrefs{
		MaxWidth:         p.StreamMaxWidth,
		JPEGQuality:      p.JPEGQuality,
		AnnotationStride: p.AnnotationStride,
		FPS:              p.FPSTarget,
	}
}

// publishLoop pushes the presence view into Redis so the UI service
// can read it without touching the tracker.
func (m *Manager) publishLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := m.publishSnapshot(ctx); err != nil {
				log.Printf("[Pipeline] Presence snapshot publish failed: %v", err)
			}
			cancel()
		}
	}
}
