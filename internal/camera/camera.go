// Package camera abstracts the capture hardware: device selection by facing,
// configuration locking, zoom, focus, exposure, torch and frame reads.
package camera

import (
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

var (
	// ErrDeviceUnavailable is returned when no device exists for a facing
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrLockFailed is returned when a configuration lock cannot be taken
	ErrLockFailed = errors.New("camera configuration lock failed")
	// ErrDeviceClosed is returned for operations on a released device
	ErrDeviceClosed = errors.New("camera device closed")
)

// Facing selects the physical camera
type Facing int

const (
	Back Facing = iota
	Front
)

func (f Facing) String() string {
	if f == Front {
		return "front"
	}
	return "back"
}

// Opposite returns the other facing
func (f Facing) Opposite() Facing {
	if f == Front {
		return Back
	}
	return Front
}

// ParseFacing converts a config or flag value into a Facing
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back":
		return Back, nil
	case "front":
		return Front, nil
	}
	return Back, fmt.Errorf("unknown camera facing: %q", s)
}

// Point is a coordinate. Camera-space points are normalized to [0,1].
type Point struct {
	X, Y float64
}

// Center is the default focus/exposure point of interest
var Center = Point{X: 0.5, Y: 0.5}

// Clamp limits both coordinates to [0,1]
func (p Point) Clamp() Point {
	return Point{X: math.Max(0, math.Min(1, p.X)), Y: math.Max(0, math.Min(1, p.Y))}
}

type FocusMode int

const (
	FocusContinuous FocusMode = iota
	FocusSingleShot
	FocusLocked
)

type ExposureMode int

const (
	ExposureContinuous ExposureMode = iota
	ExposureSingleShot
	ExposureLocked
)

type WhiteBalanceMode int

const (
	WhiteBalanceContinuous WhiteBalanceMode = iota
	WhiteBalanceLocked
)

// Preset is a capture quality level, highest first
type Preset int

const (
	PresetPhoto Preset = iota
	PresetHigh
	PresetMedium
	PresetLow
)

// Presets lists every preset from highest to lowest quality
var Presets = []Preset{PresetPhoto, PresetHigh, PresetMedium, PresetLow}

// Resolution returns the frame size requested for a preset
func (p Preset) Resolution() (width, height int) {
	switch p {
	case PresetPhoto:
		return 3840, 2160
	case PresetHigh:
		return 1920, 1080
	case PresetMedium:
		return 1280, 720
	default:
		return 640, 480
	}
}

func (p Preset) String() string {
	w, h := p.Resolution()
	return fmt.Sprintf("%dx%d", w, h)
}

// Device is a hardware capture handle. Property setters may only be called
// between LockForConfiguration and UnlockForConfiguration; each lock scope is
// atomic with respect to other lock holders.
type Device interface {
	ID() string
	Facing() Facing

	LockForConfiguration() error
	UnlockForConfiguration()

	ApplyPreset(p Preset) error

	MaxZoomFactor() float64
	ZoomFactor() float64
	SetZoomFactor(f float64)

	SupportsFocusMode(m FocusMode) bool
	SetFocusMode(m FocusMode)
	SupportsFocusPointOfInterest() bool
	SetFocusPointOfInterest(p Point)

	SupportsExposureMode(m ExposureMode) bool
	SetExposureMode(m ExposureMode)
	SupportsExposurePointOfInterest() bool
	SetExposurePointOfInterest(p Point)

	SupportsWhiteBalanceMode(m WhiteBalanceMode) bool
	SetWhiteBalanceMode(m WhiteBalanceMode)

	HasTorch() bool
	SetTorch(on bool) error

	// Read blocks until the next frame and writes it into dst
	Read(dst *gocv.Mat) bool
	Close() error
}

// Discovery opens the device for a facing
type Discovery interface {
	DeviceFor(facing Facing) (Device, error)
}

// ClampZoom limits factor to [1, max]
func ClampZoom(factor, max float64) float64 {
	if max < 1 {
		max = 1
	}
	return math.Max(1, math.Min(factor, max))
}
