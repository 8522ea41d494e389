package camera

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// VideoDevice is a Device backed by an OpenCV VideoCapture. UVC cameras expose
// autofocus, autoexposure, auto white balance and zoom as capture properties;
// points of interest and torch are not available through this backend.
//
// A blocking Read holds the capture handle, so property writes are queued and
// applied between reads. Configuration and cached state never wait on a frame.
type VideoDevice struct {
	id      string
	facing  Facing
	maxZoom float64

	cfgMu sync.Mutex // configuration lock scope
	ioMu  sync.Mutex // serializes calls into the capture handle

	capture  *gocv.VideoCapture
	zoomUnit float64

	mu      sync.Mutex
	zoom    float64
	closed  bool
	pending propertyQueue
}

type propertyWrite struct {
	prop  gocv.VideoCaptureProperties
	value float64
}

// propertyQueue holds writes not yet sent to the driver. A later write to
// the same property replaces the earlier value in place.
type propertyQueue struct {
	writes []propertyWrite
}

func (q *propertyQueue) put(prop gocv.VideoCaptureProperties, value float64) {
	for i := range q.writes {
		if q.writes[i].prop == prop {
			q.writes[i].value = value
			return
		}
	}
	q.writes = append(q.writes, propertyWrite{prop: prop, value: value})
}

func (q *propertyQueue) drain() []propertyWrite {
	w := q.writes
	q.writes = nil
	return w
}

func (q *propertyQueue) len() int { return len(q.writes) }

// OpenVideoDevice opens the capture at index for the given facing
func OpenVideoDevice(index int, facing Facing, maxZoom float64) (*VideoDevice, error) {
	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: index %d: %v", ErrDeviceUnavailable, index, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: index %d is not open", ErrDeviceUnavailable, index)
	}

	zoomUnit := capture.Get(gocv.VideoCaptureZoom)
	if zoomUnit <= 0 {
		zoomUnit = 100
	}

	return &VideoDevice{
		id:       fmt.Sprintf("video%d", index),
		facing:   facing,
		maxZoom:  maxZoom,
		capture:  capture,
		zoomUnit: zoomUnit,
		zoom:     1.0,
	}, nil
}

func (d *VideoDevice) ID() string     { return d.id }
func (d *VideoDevice) Facing() Facing { return d.facing }

func (d *VideoDevice) LockForConfiguration() error {
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

func (d *VideoDevice) UnlockForConfiguration() {
	d.cfgMu.Unlock()
}

// set queues a property write and applies it at once unless a read holds
// the capture handle
func (d *VideoDevice) set(prop gocv.VideoCaptureProperties, value float64) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending.put(prop, value)
	d.mu.Unlock()

	if d.ioMu.TryLock() {
		d.flushLocked()
		d.ioMu.Unlock()
	}
}

// flushLocked sends queued writes to the driver. ioMu must be held.
func (d *VideoDevice) flushLocked() {
	d.mu.Lock()
	writes := d.pending.drain()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}
	for _, w := range writes {
		d.capture.Set(w.prop, w.value)
	}
}

func (d *VideoDevice) get(prop gocv.VideoCaptureProperties) float64 {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	d.flushLocked()
	if d.isClosed() {
		return 0
	}
	return d.capture.Get(prop)
}

func (d *VideoDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ApplyPreset requests the preset resolution and reports whether the
// driver accepted it
func (d *VideoDevice) ApplyPreset(p Preset) error {
	w, h := p.Resolution()
	d.set(gocv.VideoCaptureFrameWidth, float64(w))
	d.set(gocv.VideoCaptureFrameHeight, float64(h))

	gotW := int(d.get(gocv.VideoCaptureFrameWidth))
	gotH := int(d.get(gocv.VideoCaptureFrameHeight))
	if gotW != w || gotH != h {
		return fmt.Errorf("preset %s not supported, driver chose %dx%d", p, gotW, gotH)
	}
	return nil
}

func (d *VideoDevice) MaxZoomFactor() float64 { return d.maxZoom }

func (d *VideoDevice) ZoomFactor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom
}

func (d *VideoDevice) SetZoomFactor(f float64) {
	f = ClampZoom(f, d.maxZoom)
	d.mu.Lock()
	d.zoom = f
	d.mu.Unlock()
	d.set(gocv.VideoCaptureZoom, f*d.zoomUnit)
}

func (d *VideoDevice) SupportsFocusMode(m FocusMode) bool {
	return m == FocusContinuous || m == FocusLocked
}

func (d *VideoDevice) SetFocusMode(m FocusMode) {
	if m == FocusContinuous {
		d.set(gocv.VideoCaptureAutoFocus, 1)
		return
	}
	d.set(gocv.VideoCaptureAutoFocus, 0)
}

func (d *VideoDevice) SupportsFocusPointOfInterest() bool { return false }
func (d *VideoDevice) SetFocusPointOfInterest(Point)      {}

func (d *VideoDevice) SupportsExposureMode(m ExposureMode) bool {
	return m == ExposureContinuous || m == ExposureLocked
}

// SetExposureMode uses the V4L2 convention for CAP_PROP_AUTO_EXPOSURE:
// 3 is aperture priority (auto), 1 is manual
func (d *VideoDevice) SetExposureMode(m ExposureMode) {
	if m == ExposureContinuous {
		d.set(gocv.VideoCaptureAutoExposure, 3)
		return
	}
	d.set(gocv.VideoCaptureAutoExposure, 1)
}

func (d *VideoDevice) SupportsExposurePointOfInterest() bool { return false }
func (d *VideoDevice) SetExposurePointOfInterest(Point)      {}

func (d *VideoDevice) SupportsWhiteBalanceMode(WhiteBalanceMode) bool { return true }

func (d *VideoDevice) SetWhiteBalanceMode(m WhiteBalanceMode) {
	if m == WhiteBalanceContinuous {
		d.set(gocv.VideoCaptureAutoWB, 1)
		return
	}
	d.set(gocv.VideoCaptureAutoWB, 0)
}

func (d *VideoDevice) HasTorch() bool { return false }

func (d *VideoDevice) SetTorch(bool) error {
	return fmt.Errorf("device %s has no torch", d.id)
}

// Read applies queued property writes, then blocks for the next frame
func (d *VideoDevice) Read(dst *gocv.Mat) bool {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	d.flushLocked()
	if d.isClosed() {
		return false
	}
	return d.capture.Read(dst) && !dst.Empty()
}

func (d *VideoDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.pending.drain()
	d.mu.Unlock()

	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	if err := d.capture.Close(); err != nil {
		return fmt.Errorf("error closing camera %s: %w", d.id, err)
	}
	return nil
}

// VideoDiscovery maps facings to OpenCV capture indexes
type VideoDiscovery struct {
	BackIndex  int
	FrontIndex int
	MaxZoom    float64
}

func (v VideoDiscovery) DeviceFor(facing Facing) (Device, error) {
	index := v.BackIndex
	if facing == Front {
		index = v.FrontIndex
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: no %s camera configured", ErrDeviceUnavailable, facing)
	}
	return OpenVideoDevice(index, facing, v.MaxZoom)
}
