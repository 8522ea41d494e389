// Package cameratest provides an in-memory camera.Device for tests
package cameratest

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"filter-viewfinder/internal/camera"
)

// Device records every configuration call and serves a fixed frame
type Device struct {
	mu sync.Mutex

	id      string
	facing  camera.Facing
	maxZoom float64
	torch   bool

	FailLocks  int  // number of upcoming lock attempts to fail
	NoPOI      bool // hide point-of-interest support
	FrameDelay time.Duration

	zoom        float64
	zoomWrites  []float64
	focusMode   camera.FocusMode
	exposure    camera.ExposureMode
	whiteBal    camera.WhiteBalanceMode
	focusPoint  camera.Point
	exposePoint camera.Point
	torchOn     bool
	preset      camera.Preset
	locks       int
	reads       int
	frame       gocv.Mat
	closed      bool
}

// NewDevice creates a fake whose frames are solid BGR color of size w×h
func NewDevice(facing camera.Facing, maxZoom float64, w, h int, bgr gocv.Scalar) *Device {
	return &Device{
		id:          fmt.Sprintf("fake-%s", facing),
		facing:      facing,
		maxZoom:     maxZoom,
		torch:       facing == camera.Back,
		zoom:        1.0,
		focusPoint:  camera.Center,
		exposePoint: camera.Center,
		focusMode:   camera.FocusLocked,
		exposure:    camera.ExposureLocked,
		whiteBal:    camera.WhiteBalanceLocked,
		frame:       gocv.NewMatWithSizeFromScalar(bgr, h, w, gocv.MatTypeCV8UC3),
	}
}

func (d *Device) ID() string            { return d.id }
func (d *Device) Facing() camera.Facing { return d.facing }

func (d *Device) LockForConfiguration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailLocks > 0 {
		d.FailLocks--
		return camera.ErrLockFailed
	}
	if d.closed {
		return fmt.Errorf("%w: %s", camera.ErrLockFailed, camera.ErrDeviceClosed)
	}
	d.locks++
	return nil
}

func (d *Device) UnlockForConfiguration() {}

// SetFailLocks arms n failing lock attempts
func (d *Device) SetFailLocks(n int) {
	d.mu.Lock()
	d.FailLocks = n
	d.mu.Unlock()
}

func (d *Device) ApplyPreset(p camera.Preset) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p == camera.PresetPhoto {
		return fmt.Errorf("preset %s unsupported", p)
	}
	d.preset = p
	return nil
}

func (d *Device) MaxZoomFactor() float64 { return d.maxZoom }

func (d *Device) ZoomFactor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom
}

func (d *Device) SetZoomFactor(f float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.zoom = f
	d.zoomWrites = append(d.zoomWrites, f)
}

// ZoomWrites returns every value written to the zoom factor
func (d *Device) ZoomWrites() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.zoomWrites...)
}

func (d *Device) SupportsFocusMode(camera.FocusMode) bool { return true }

func (d *Device) SetFocusMode(m camera.FocusMode) {
	d.mu.Lock()
	d.focusMode = m
	d.mu.Unlock()
}

func (d *Device) SupportsFocusPointOfInterest() bool { return !d.NoPOI }

func (d *Device) SetFocusPointOfInterest(p camera.Point) {
	d.mu.Lock()
	d.focusPoint = p
	d.mu.Unlock()
}

func (d *Device) SupportsExposureMode(camera.ExposureMode) bool { return true }

func (d *Device) SetExposureMode(m camera.ExposureMode) {
	d.mu.Lock()
	d.exposure = m
	d.mu.Unlock()
}

func (d *Device) SupportsExposurePointOfInterest() bool { return !d.NoPOI }

func (d *Device) SetExposurePointOfInterest(p camera.Point) {
	d.mu.Lock()
	d.exposePoint = p
	d.mu.Unlock()
}

func (d *Device) SupportsWhiteBalanceMode(camera.WhiteBalanceMode) bool { return true }

func (d *Device) SetWhiteBalanceMode(m camera.WhiteBalanceMode) {
	d.mu.Lock()
	d.whiteBal = m
	d.mu.Unlock()
}

func (d *Device) HasTorch() bool { return d.torch }

func (d *Device) SetTorch(on bool) error {
	if !d.torch {
		return fmt.Errorf("no torch")
	}
	d.mu.Lock()
	d.torchOn = on
	d.mu.Unlock()
	return nil
}

func (d *Device) Read(dst *gocv.Mat) bool {
	if d.FrameDelay > 0 {
		time.Sleep(d.FrameDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.reads++
	d.frame.CopyTo(dst)
	return true
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.frame.Close()
	}
	return nil
}

// Snapshot is a copy of the recorded device state
type Snapshot struct {
	Zoom          float64
	FocusMode     camera.FocusMode
	ExposureMode  camera.ExposureMode
	WhiteBalance  camera.WhiteBalanceMode
	FocusPoint    camera.Point
	ExposurePoint camera.Point
	TorchOn       bool
	Preset        camera.Preset
	Locks         int
	Reads         int
	Closed        bool
}

func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Zoom:          d.zoom,
		FocusMode:     d.focusMode,
		ExposureMode:  d.exposure,
		WhiteBalance:  d.whiteBal,
		FocusPoint:    d.focusPoint,
		ExposurePoint: d.exposePoint,
		TorchOn:       d.torchOn,
		Preset:        d.preset,
		Locks:         d.locks,
		Reads:         d.reads,
		Closed:        d.closed,
	}
}

// Discovery hands out pre-built fakes per facing
type Discovery struct {
	mu      sync.Mutex
	Devices map[camera.Facing]*Device
	Opened  []camera.Facing
}

func (d *Discovery) DeviceFor(facing camera.Facing) (camera.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.Devices[facing]
	if !ok {
		return nil, fmt.Errorf("%w: no %s fake", camera.ErrDeviceUnavailable, facing)
	}
	d.Opened = append(d.Opened, facing)
	return dev, nil
}

// OpenCount reports how many times a device was opened
func (d *Discovery) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Opened)
}
