package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// CameraConfig is one camera_configs/<dir>/config.json entry.
type CameraConfig struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	RTSPURL       string `json:"rtsp_url"`
	Enabled       bool   `json:"enabled"`
	StreamEnabled bool   `json:"stream_enabled"`
	Area          string `json:"area"`
}

// LoadCameraConfigs walks the camera_configs directory and returns
// every parseable config, sorted by camera id. Broken entries are
// logged and skipped so one bad camera never takes down the fleet.
func LoadCameraConfigs(root string) ([]CameraConfig, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read camera config dir: %w", err)
	}

	var cams []CameraConfig
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "config.json")
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Printf("[Config] Skipping camera config %s: %v", path, err)
			continue
		}
		var cam CameraConfig
		if err := json.Unmarshal(raw, &cam); err != nil {
			log.Printf("[Config] Skipping camera config %s: %v", path, err)
			continue
		}
		if cam.ID <= 0 {
			log.Printf("[Config] Skipping camera config %s: missing id", path)
			continue
		}
		if cam.Name == "" {
			cam.Name = fmt.Sprintf("CAM %d", cam.ID)
		}
		cams = append(cams, cam)
	}

	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })
	return cams, nil
}
