// Package focus drives the focus and exposure point of interest from taps
// and device motion
package focus

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/motion"
)

// Mode of the controller
type Mode int

const (
	Continuous Mode = iota
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "continuous"
}

const (
	DefaultTimeout        = 5 * time.Second
	DefaultThreshold      = 0.15
	DefaultSampleInterval = 100 * time.Millisecond
)

type Options struct {
	// Timeout is how long a tapped point holds before returning to
	// Continuous. It is also the quiet window of the idle-motion fallback.
	Timeout time.Duration
	// Threshold is the user acceleration magnitude, in g, counted as motion
	Threshold float64
}

// Controller is the focus/exposure state machine
type Controller struct {
	logger    *logrus.Entry
	device    func() camera.Device
	clock     clockwork.Clock
	timeout   time.Duration
	threshold float64

	mu         sync.Mutex
	mode       Mode
	point      camera.Point
	timer      clockwork.Timer
	timerGen   uint64
	quietSince time.Time
	indicator  func(camera.Point)
}

func New(device func() camera.Device, clk clockwork.Clock, opts Options, logger *logrus.Logger) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Controller{
		logger:    logger.WithField("component", "focus"),
		device:    device,
		clock:     clk,
		timeout:   opts.Timeout,
		threshold: opts.Threshold,
		mode:      Continuous,
		point:     camera.Center,
	}
}

// MapTap converts a display-space tap into a normalized camera-space point.
// The sensor is mounted rotated against the display, so axes are transposed.
func MapTap(x, y, width, height float64) camera.Point {
	if width <= 0 || height <= 0 {
		return camera.Center
	}
	return camera.Point{X: y / height, Y: 1 - x/width}.Clamp()
}

// OnIndicator registers fn to be raised with the display-space tap point
// whenever a tap enters Manual mode
func (c *Controller) OnIndicator(fn func(camera.Point)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indicator = fn
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Point is the current camera-space point of interest
func (c *Controller) Point() camera.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.point
}

// Tap focuses and exposes at the tapped point and arms the return timer.
// A configuration lock failure leaves mode and point as they were.
func (c *Controller) Tap(x, y, width, height float64) {
	p := MapTap(x, y, width, height)
	dev := c.device()
	if dev == nil {
		c.logger.Debug("Tap ignored without an active device")
		return
	}

	c.mu.Lock()
	if err := apply(dev, p, camera.FocusSingleShot, camera.ExposureSingleShot); err != nil {
		c.mu.Unlock()
		c.logger.WithError(err).WithFields(logrus.Fields{"x": p.X, "y": p.Y}).Warn("Could not set point of interest")
		return
	}

	c.mode = Manual
	c.point = p
	c.quietSince = c.clock.Now()
	c.armLocked()
	indicator := c.indicator
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"x": p.X, "y": p.Y}).Debug("Manual focus")
	if indicator != nil {
		indicator(camera.Point{X: x, Y: y})
	}
}

// armLocked replaces any pending timer. A stale timer that already started
// running sees a different generation and does nothing.
func (c *Controller) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(gen) })
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.timerGen || c.timer == nil {
		return
	}
	c.timer = nil
	c.continuousLocked("timeout")
}

// continuousLocked returns to Continuous at the center. On lock failure the
// mode stays Manual with no timer, so the idle-motion fallback retries.
func (c *Controller) continuousLocked(reason string) {
	dev := c.device()
	if dev == nil {
		return
	}
	if err := apply(dev, camera.Center, camera.FocusContinuous, camera.ExposureContinuous); err != nil {
		c.logger.WithError(err).WithField("reason", reason).Warn("Could not return to continuous focus")
		return
	}
	c.mode = Continuous
	c.point = camera.Center
	c.logger.WithField("reason", reason).Debug("Continuous focus")
}

// HandleMotion consumes one accelerometer sample taken at now
func (c *Controller) HandleMotion(v motion.Vector, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v.Norm() > c.threshold {
		c.quietSince = now
		if c.mode != Continuous {
			return
		}
		dev := c.device()
		if dev == nil {
			return
		}
		if err := apply(dev, camera.Center, camera.FocusContinuous, camera.ExposureContinuous); err != nil {
			c.logger.WithError(err).Warn("Could not refocus after motion")
			return
		}
		c.point = camera.Center
		return
	}

	if c.quietSince.IsZero() {
		c.quietSince = now
	}
	if c.mode == Manual && c.timer == nil && now.Sub(c.quietSince) > c.timeout {
		c.continuousLocked("idle")
	}
}

// Run samples sensor at interval until ctx is done
func (c *Controller) Run(ctx context.Context, sensor motion.Sensor, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	motion.Run(ctx, sensor, interval, c.HandleMotion, c.logger)
}

// Stop cancels the pending return timer
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Reset cancels the return timer and forgets the tapped point without
// touching the device. A newly attached device starts in Continuous at the
// center, so the controller must agree with it.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.mode = Continuous
	c.point = camera.Center
	c.quietSince = time.Time{}
}

func (c *Controller) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

// apply writes point and modes in one configuration transaction
func apply(dev camera.Device, p camera.Point, fm camera.FocusMode, em camera.ExposureMode) error {
	if err := dev.LockForConfiguration(); err != nil {
		return err
	}
	defer dev.UnlockForConfiguration()

	if dev.SupportsFocusPointOfInterest() {
		dev.SetFocusPointOfInterest(p)
	}
	if dev.SupportsFocusMode(fm) {
		dev.SetFocusMode(fm)
	}
	if dev.SupportsExposurePointOfInterest() {
		dev.SetExposurePointOfInterest(p)
	}
	if dev.SupportsExposureMode(em) {
		dev.SetExposureMode(em)
	}
	return nil
}
