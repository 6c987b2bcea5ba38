// Package config loads the three configuration surfaces of the
// tracker: the service config (YAML), the runtime parameter file
// (JSON, hot-reloaded) and the per-camera config directory.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Service is the immutable wiring config built once at startup.
type Service struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	NATS struct {
		URL          string `yaml:"url"`
		AlertSubject string `yaml:"alert_subject"`
	} `yaml:"nats"`

	Face struct {
		// Backend tiers probed in order; each entry is a NATS
		// request/reply subject served by an inference worker.
		Backends []FaceBackend `yaml:"backends"`
	} `yaml:"face"`

	Paths struct {
		CameraConfigs      string `yaml:"camera_configs"`
		ParameterConfig    string `yaml:"parameter_config"`
		TrackingMode       string `yaml:"tracking_mode"`
		Captures           string `yaml:"captures"`
		AttendanceCaptures string `yaml:"attendance_captures"`
	} `yaml:"paths"`

	Ops struct {
		Listen string `yaml:"listen"`
	} `yaml:"ops"`
}

// FaceBackend names one inference worker tier.
type FaceBackend struct {
	Name    string `yaml:"name"`    // e.g. "tensorrt", "cuda", "cpu"
	Subject string `yaml:"subject"` // NATS request subject
}

// LoadService reads the YAML service config and applies env overrides
// for the credentials that ship via environment in deployments.
func LoadService(path string) (*Service, error) {
	var cfg Service
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse service config: %w", err)
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Service) applyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.AlertSubject == "" {
		c.NATS.AlertSubject = "attend.alerts"
	}
	if len(c.Face.Backends) == 0 {
		c.Face.Backends = []FaceBackend{
			{Name: "tensorrt", Subject: "face.infer.trt"},
			{Name: "cuda", Subject: "face.infer.cuda"},
			{Name: "cpu", Subject: "face.infer.cpu"},
		}
	}
	if c.Paths.CameraConfigs == "" {
		c.Paths.CameraConfigs = "camera_configs"
	}
	if c.Paths.ParameterConfig == "" {
		c.Paths.ParameterConfig = "config/parameter_config.json"
	}
	if c.Paths.TrackingMode == "" {
		c.Paths.TrackingMode = "config/tracking_mode.json"
	}
	if c.Paths.Captures == "" {
		c.Paths.Captures = "captures"
	}
	if c.Paths.AttendanceCaptures == "" {
		c.Paths.AttendanceCaptures = "attendance_captures"
	}
	if c.Ops.Listen == "" {
		c.Ops.Listen = ":9464"
	}
}

// DSN renders the lib/pq connection string.
func (c *Service) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name, c.Database.SSLMode)
}
