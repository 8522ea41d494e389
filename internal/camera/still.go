package camera

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// StillDevice replays one decoded image as a live stream. Zoom is emulated by
// center-cropping and rescaling; the back facing reports a torch whose state
// is recorded only.
type StillDevice struct {
	id       string
	facing   Facing
	maxZoom  float64
	interval time.Duration

	cfgMu sync.Mutex

	mu       sync.Mutex
	image    gocv.Mat
	zoom     float64
	focus    FocusMode
	exposure ExposureMode
	wb       WhiteBalanceMode
	poi      Point
	torch    bool
	closed   bool
	lastRead time.Time
}

// OpenStillDevice decodes path and serves it at the given frame interval
func OpenStillDevice(path string, facing Facing, maxZoom float64, interval time.Duration) (*StillDevice, error) {
	if !isSupportedImageFormat(path) {
		return nil, fmt.Errorf("%w: unsupported image format %s", ErrDeviceUnavailable, path)
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("%w: failed to load image %s", ErrDeviceUnavailable, path)
	}
	return &StillDevice{
		id:       fmt.Sprintf("still:%s:%s", facing, path),
		facing:   facing,
		maxZoom:  maxZoom,
		interval: interval,
		image:    mat,
		zoom:     1.0,
		poi:      Center,
	}, nil
}

func (d *StillDevice) ID() string     { return d.id }
func (d *StillDevice) Facing() Facing { return d.facing }

func (d *StillDevice) LockForConfiguration() error {
	d.cfgMu.Lock()
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.cfgMu.Unlock()
		return fmt.Errorf("%w: %s", ErrLockFailed, ErrDeviceClosed)
	}
	return nil
}

func (d *StillDevice) UnlockForConfiguration() { d.cfgMu.Unlock() }

func (d *StillDevice) ApplyPreset(p Preset) error {
	w, h := p.Resolution()
	if w > d.image.Cols() || h > d.image.Rows() {
		return fmt.Errorf("preset %s exceeds source %dx%d", p, d.image.Cols(), d.image.Rows())
	}
	return nil
}

func (d *StillDevice) MaxZoomFactor() float64 { return d.maxZoom }

func (d *StillDevice) ZoomFactor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom
}

func (d *StillDevice) SetZoomFactor(f float64) {
	d.mu.Lock()
	d.zoom = ClampZoom(f, d.maxZoom)
	d.mu.Unlock()
}

func (d *StillDevice) SupportsFocusMode(FocusMode) bool { return true }

func (d *StillDevice) SetFocusMode(m FocusMode) {
	d.mu.Lock()
	d.focus = m
	d.mu.Unlock()
}

func (d *StillDevice) SupportsFocusPointOfInterest() bool { return true }

func (d *StillDevice) SetFocusPointOfInterest(p Point) {
	d.mu.Lock()
	d.poi = p.Clamp()
	d.mu.Unlock()
}

func (d *StillDevice) SupportsExposureMode(ExposureMode) bool { return true }

func (d *StillDevice) SetExposureMode(m ExposureMode) {
	d.mu.Lock()
	d.exposure = m
	d.mu.Unlock()
}

func (d *StillDevice) SupportsExposurePointOfInterest() bool { return true }
func (d *StillDevice) SetExposurePointOfInterest(Point)      {}

func (d *StillDevice) SupportsWhiteBalanceMode(WhiteBalanceMode) bool { return true }

func (d *StillDevice) SetWhiteBalanceMode(m WhiteBalanceMode) {
	d.mu.Lock()
	d.wb = m
	d.mu.Unlock()
}

func (d *StillDevice) HasTorch() bool { return d.facing == Back }

func (d *StillDevice) SetTorch(on bool) error {
	if !d.HasTorch() {
		return fmt.Errorf("device %s has no torch", d.id)
	}
	d.mu.Lock()
	d.torch = on
	d.mu.Unlock()
	return nil
}

// Torch reports the recorded torch state
func (d *StillDevice) Torch() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torch
}

func (d *StillDevice) Read(dst *gocv.Mat) bool {
	d.mu.Lock()
	wait := d.interval - time.Since(d.lastRead)
	d.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.lastRead = time.Now()

	if d.zoom <= 1.0 {
		d.image.CopyTo(dst)
		return !dst.Empty()
	}

	w, h := d.image.Cols(), d.image.Rows()
	cw, ch := int(float64(w)/d.zoom), int(float64(h)/d.zoom)
	x0, y0 := (w-cw)/2, (h-ch)/2
	region := d.image.Region(image.Rect(x0, y0, x0+cw, y0+ch))
	defer region.Close()
	gocv.Resize(region, dst, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return !dst.Empty()
}

func (d *StillDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.image.Close()
}

// StillDiscovery serves the same image for both facings
type StillDiscovery struct {
	Path     string
	MaxZoom  float64
	Interval time.Duration
}

func (s StillDiscovery) DeviceFor(facing Facing) (Device, error) {
	return OpenStillDevice(s.Path, facing, s.MaxZoom, s.Interval)
}

func isSupportedImageFormat(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp", ".webp":
		return true
	}
	return false
}
