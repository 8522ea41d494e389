// Viewfinder configuration loaded from YAML with defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no -config flag is given
const DefaultPath = "viewfinder.yaml"

type CameraConfig struct {
	Facing         string  `yaml:"facing"`
	BackIndex      int     `yaml:"back_index"`
	FrontIndex     int     `yaml:"front_index"`
	Source         string  `yaml:"source"`
	SensorRotation int     `yaml:"sensor_rotation"`
	MaxZoom        float64 `yaml:"max_zoom"`
}

type DisplayConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	RefreshHz int `yaml:"refresh_hz"`
}

type FilterConfig struct {
	Default string `yaml:"default"`
}

type ZoomConfig struct {
	Duration time.Duration `yaml:"duration"`
}

type FocusConfig struct {
	ManualTimeout   time.Duration `yaml:"manual_timeout"`
	MotionThreshold float64       `yaml:"motion_threshold"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	Accelerometer   string        `yaml:"accelerometer"`
}

type SessionConfig struct {
	SwitchDelay time.Duration `yaml:"switch_delay"`
}

type MetricsConfig struct {
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Config is the full viewfinder configuration
type Config struct {
	Camera  CameraConfig  `yaml:"camera"`
	Display DisplayConfig `yaml:"display"`
	Filter  FilterConfig  `yaml:"filter"`
	Zoom    ZoomConfig    `yaml:"zoom"`
	Focus   FocusConfig   `yaml:"focus"`
	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Facing:         "back",
			BackIndex:      0,
			FrontIndex:     1,
			SensorRotation: 0,
			MaxZoom:        5.0,
		},
		Display: DisplayConfig{
			Width:     720,
			Height:    1280,
			RefreshHz: 60,
		},
		Filter: FilterConfig{
			Default: "none",
		},
		Zoom: ZoomConfig{
			Duration: 250 * time.Millisecond,
		},
		Focus: FocusConfig{
			ManualTimeout:   5 * time.Second,
			MotionThreshold: 0.15,
			SampleInterval:  100 * time.Millisecond,
		},
		Session: SessionConfig{
			SwitchDelay: 300 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			ReportInterval: 10 * time.Second,
		},
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := decode(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error decoding config: %w", err)
	}
	return nil
}

// Validate checks ranges. Filter identifiers are checked by the caller
// against the filter table.
func (c *Config) Validate() error {
	var errs []error

	if c.Camera.Facing != "back" && c.Camera.Facing != "front" {
		errs = append(errs, fmt.Errorf("camera.facing must be front or back, got %q", c.Camera.Facing))
	}
	if c.Camera.SensorRotation%90 != 0 || c.Camera.SensorRotation < 0 || c.Camera.SensorRotation >= 360 {
		errs = append(errs, fmt.Errorf("camera.sensor_rotation must be 0, 90, 180 or 270, got %d", c.Camera.SensorRotation))
	}
	if c.Camera.MaxZoom < 1.0 {
		errs = append(errs, fmt.Errorf("camera.max_zoom must be >= 1.0"))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height))
	}
	if c.Display.RefreshHz <= 0 {
		errs = append(errs, fmt.Errorf("display.refresh_hz must be positive"))
	}
	if c.Zoom.Duration <= 0 {
		errs = append(errs, fmt.Errorf("zoom.duration must be positive"))
	}
	if c.Focus.ManualTimeout <= 0 {
		errs = append(errs, fmt.Errorf("focus.manual_timeout must be positive"))
	}
	if c.Focus.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("focus.sample_interval must be positive"))
	}
	if c.Focus.MotionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("focus.motion_threshold must be positive"))
	}
	if c.Session.SwitchDelay < 0 {
		errs = append(errs, fmt.Errorf("session.switch_delay must not be negative"))
	}
	if c.Metrics.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.report_interval must be positive"))
	}

	return errors.Join(errs...)
}

// RefreshInterval is the period of one display refresh
func (d DisplayConfig) RefreshInterval() time.Duration {
	return time.Second / time.Duration(d.RefreshHz)
}
