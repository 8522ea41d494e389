// Package zoom animates the hardware zoom factor toward a target on the
// display refresh, with a cosine ease-in-out curve
package zoom

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/display"
)

// DefaultDuration is the length of one zoom transition
const DefaultDuration = 250 * time.Millisecond

// State is a snapshot of the animation
type State struct {
	Current   float64
	Start     float64
	Target    float64
	StartedAt time.Time
	Duration  time.Duration
	Animating bool
}

// Animator owns the zoom transition. A new target replaces the animation in
// flight and restarts from the live hardware value.
type Animator struct {
	logger   *logrus.Entry
	device   func() camera.Device
	clock    clockwork.Clock
	link     display.Link
	duration time.Duration

	mu        sync.Mutex
	start     float64
	target    float64
	startedAt time.Time
	stopLink  func()
	current   float64
}

func New(device func() camera.Device, link display.Link, clk clockwork.Clock, duration time.Duration, logger *logrus.Logger) *Animator {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Animator{
		logger:   logger.WithField("component", "zoom"),
		device:   device,
		clock:    clk,
		link:     link,
		duration: duration,
		start:    1,
		target:   1,
		current:  1,
	}
}

// Ease maps linear progress in [0,1] onto the cosine ease-in-out curve
func Ease(progress float64) float64 {
	return 0.5 * (1 - math.Cos(math.Pi*progress))
}

// SetTarget clamps factor to [1, device max] and starts a transition from
// the device's current zoom
func (a *Animator) SetTarget(factor float64) {
	dev := a.device()
	if dev == nil {
		a.logger.WithField("factor", factor).Debug("No active device for zoom")
		return
	}
	target := camera.ClampZoom(factor, dev.MaxZoomFactor())

	a.mu.Lock()
	defer a.mu.Unlock()

	a.start = dev.ZoomFactor()
	a.current = a.start
	a.target = target
	a.startedAt = a.clock.Now()

	a.logger.WithFields(logrus.Fields{
		"from": a.start,
		"to":   target,
	}).Debug("Zoom animation started")

	if a.stopLink == nil {
		a.stopLink = a.link.Start(a.Tick)
	}
}

// Tick advances the animation to now. It is the display link callback.
func (a *Animator) Tick(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopLink == nil {
		return
	}

	progress := float64(now.Sub(a.startedAt)) / float64(a.duration)
	progress = math.Max(0, math.Min(1, progress))
	value := a.start + (a.target-a.start)*Ease(progress)

	dev := a.device()
	if dev == nil {
		a.stopLocked()
		return
	}

	if err := dev.LockForConfiguration(); err != nil {
		a.logger.WithError(err).WithField("progress", progress).Warn("Zoom tick skipped")
		return
	}
	dev.SetZoomFactor(camera.ClampZoom(value, dev.MaxZoomFactor()))
	dev.UnlockForConfiguration()
	a.current = value

	if progress >= 1 {
		a.stopLocked()
	}
}

func (a *Animator) stopLocked() {
	if a.stopLink != nil {
		a.stopLink()
		a.stopLink = nil
	}
}

// Stop cancels any animation in flight
func (a *Animator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Animator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Current:   a.current,
		Start:     a.start,
		Target:    a.target,
		StartedAt: a.startedAt,
		Duration:  a.duration,
		Animating: a.stopLink != nil,
	}
}
