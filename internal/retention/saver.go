// Package retention owns the filesystem artifacts and the daily
// cleanup daemons: rolling camera snapshots, attendance evidence
// images, midnight purges and the end-of-day absent marker.
package retention

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/timeutil"
)

const (
	saveInterval = 5 * time.Second
	// keepPerCamera is the rolling window of snapshot files.
	keepPerCamera = 5
)

// FrameSource is the render path exposed by the pipeline manager.
type FrameSource interface {
	AnnotatedJPEG(cameraID int) ([]byte, time.Time, bool)
	Cameras() []config.CameraConfig
}

// Saver periodically writes the latest annotated frame of each
// streaming camera to captures/<camera_id>/ and prunes old files.
type Saver struct {
	frames FrameSource
	dir    string

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewSaver(frames FrameSource, dir string) *Saver {
	return &Saver{frames: frames, dir: dir, quit: make(chan struct{})}
}

func (s *Saver) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				return
			case <-ticker.C:
				s.RunOnce(timeutil.NowLocal())
			}
		}
	}()
}

func (s *Saver) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// RunOnce saves one snapshot per eligible camera.
func (s *Saver) RunOnce(now time.Time) {
	for _, cam := range s.frames.Cameras() {
		if !cam.Enabled && !cam.StreamEnabled {
			continue
		}
		raw, _, ok := s.frames.AnnotatedJPEG(cam.ID)
		if !ok {
			continue
		}
		if err := s.save(cam.ID, raw, now); err != nil {
			log.Printf("[Retention] Snapshot for camera %d failed: %v", cam.ID, err)
			continue
		}
		metrics.SnapshotsSavedTotal.Inc()
	}
}

func (s *Saver) save(cameraID int, raw []byte, now time.Time) error {
	dir := filepath.Join(s.dir, strconv.Itoa(cameraID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	name := now.In(timeutil.Location()).Format("20060102_150405") + ".jpg"
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return pruneOldest(dir, keepPerCamera)
}

// pruneOldest keeps only the newest keep .jpg files in dir. Names sort
// chronologically, so lexical order is enough.
func pruneOldest(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jpg" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.Printf("[Retention] Prune %s failed: %v", name, err)
		}
	}
	return nil
}
