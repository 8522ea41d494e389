// Package viewfinder is the live viewfinder core. It owns the capture
// session, the renderer, the zoom animator and the focus controller, and
// exposes the settings surface the UI drives.
package viewfinder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/config"
	"filter-viewfinder/internal/display"
	"filter-viewfinder/internal/filter"
	"filter-viewfinder/internal/focus"
	"filter-viewfinder/internal/metrics"
	"filter-viewfinder/internal/motion"
	"filter-viewfinder/internal/render"
	"filter-viewfinder/internal/session"
	"filter-viewfinder/internal/zoom"
)

// Options tune the core. Zero values fall back to component defaults.
type Options struct {
	Facing          camera.Facing
	Filter          filter.ID
	SensorRotation  int
	SwitchDelay     time.Duration
	ZoomDuration    time.Duration
	FocusTimeout    time.Duration
	MotionThreshold float64
	SampleInterval  time.Duration
	ReportInterval  time.Duration
}

// OptionsFromConfig maps a validated configuration onto Options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	facing, err := camera.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return Options{}, err
	}
	id := filter.ID(cfg.Filter.Default)
	if !filter.IsValid(id) {
		return Options{}, fmt.Errorf("%w: %q", filter.ErrUnknownFilter, cfg.Filter.Default)
	}
	return Options{
		Facing:          facing,
		Filter:          id,
		SensorRotation:  cfg.Camera.SensorRotation,
		SwitchDelay:     cfg.Session.SwitchDelay,
		ZoomDuration:    cfg.Zoom.Duration,
		FocusTimeout:    cfg.Focus.ManualTimeout,
		MotionThreshold: cfg.Focus.MotionThreshold,
		SampleInterval:  cfg.Focus.SampleInterval,
		ReportInterval:  cfg.Metrics.ReportInterval,
	}, nil
}

// Deps are the collaborators injected into the core
type Deps struct {
	Discovery camera.Discovery
	Surface   render.Surface
	Link      display.Link
	Clock     clockwork.Clock
	Sensor    motion.Sensor
}

// State is a snapshot of the whole core
type State struct {
	Facing     camera.Facing
	Configured bool
	Frozen     bool
	Switching  bool
	Flashlight bool
	Filter     filter.ID
	Zoom       float64
	FocusMode  focus.Mode
}

type Viewfinder struct {
	logger  *logrus.Entry
	opts    Options
	surface render.Surface
	sensor  motion.Sensor

	stats    *metrics.FrameStats
	session  *session.Manager
	renderer *render.Renderer
	zoom     *zoom.Animator
	focus    *focus.Controller

	mu       sync.RWMutex
	selected filter.ID

	// requested is the facing last asked for, reported while unconfigured
	requested camera.Facing

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New assembles the core. A missing surface means there is no GPU to render
// to and fails with display.ErrNoGPU.
func New(deps Deps, opts Options, logger *logrus.Logger) (*Viewfinder, error) {
	if deps.Surface == nil {
		return nil, display.ErrNoGPU
	}
	if deps.Discovery == nil {
		return nil, fmt.Errorf("%w: no camera discovery", camera.ErrDeviceUnavailable)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Sensor == nil {
		deps.Sensor = motion.Nop{}
	}
	if deps.Link == nil {
		deps.Link = display.TickerLink{Interval: time.Second / 60}
	}
	if opts.Filter == "" {
		opts.Filter = filter.None
	}
	if !filter.IsValid(opts.Filter) {
		return nil, fmt.Errorf("%w: %q", filter.ErrUnknownFilter, opts.Filter)
	}

	v := &Viewfinder{
		logger:   logger.WithField("component", "viewfinder"),
		opts:     opts,
		surface:  deps.Surface,
		sensor:   deps.Sensor,
		stats:     metrics.NewFrameStats(),
		selected:  opts.Filter,
		requested: opts.Facing,
	}

	v.session = session.New(deps.Discovery, session.Options{SwitchDelay: opts.SwitchDelay}, v.stats, logger)

	r, err := render.New(deps.Surface, v.session, v.SelectedFilter, opts.SensorRotation, v.stats, logger)
	if err != nil {
		v.session.Close()
		return nil, err
	}
	v.renderer = r
	v.session.SetFrameHandler(r)

	v.zoom = zoom.New(v.session.ActiveDevice, deps.Link, deps.Clock, opts.ZoomDuration, logger)
	v.focus = focus.New(v.session.ActiveDevice, deps.Clock, focus.Options{
		Timeout:   opts.FocusTimeout,
		Threshold: opts.MotionThreshold,
	}, logger)

	return v, nil
}

// Start configures the camera and starts the motion and statistics loops.
// A camera that cannot be opened is reported but leaves the core usable so
// a later SetCameraFacing can recover.
func (v *Viewfinder) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.cancel != nil || v.closed {
		v.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.focus.Run(ctx, v.sensor, v.opts.SampleInterval)
	}()

	if v.opts.ReportInterval > 0 {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			v.stats.Report(ctx, v.opts.ReportInterval, v.logger)
		}()
	}

	if err := v.session.Configure(v.opts.Facing); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	v.logger.WithFields(logrus.Fields{
		"facing": v.opts.Facing.String(),
		"filter": string(v.SelectedFilter()),
	}).Info("Viewfinder started")
	return nil
}

// SelectedFilter is read by the renderer on every frame
func (v *Viewfinder) SelectedFilter() filter.ID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.selected
}

// SetSelectedFilter takes effect from the next frame
func (v *Viewfinder) SetSelectedFilter(id filter.ID) error {
	if !filter.IsValid(id) {
		return fmt.Errorf("%w: %q", filter.ErrUnknownFilter, id)
	}
	v.mu.Lock()
	v.selected = id
	v.mu.Unlock()
	v.logger.WithField("filter", string(id)).Debug("Filter selected")
	return nil
}

// SetZoomTarget retargets the zoom animation
func (v *Viewfinder) SetZoomTarget(factor float64) {
	v.zoom.SetTarget(factor)
}

// SetFlashlightEnabled toggles the torch on the active device
func (v *Viewfinder) SetFlashlightEnabled(on bool) {
	v.session.SetFlashlight(on)
}

// SetCameraFacing starts a camera switch and reports whether one started.
// While no camera is configured, for instance after Start failed to open
// one, it configures facing directly instead.
func (v *Viewfinder) SetCameraFacing(facing camera.Facing) bool {
	v.mu.RLock()
	closed := v.closed
	v.mu.RUnlock()
	if closed {
		return false
	}

	if !v.session.State().Configured {
		v.mu.Lock()
		v.requested = facing
		v.mu.Unlock()
		if err := v.session.Configure(facing); err != nil {
			v.logger.WithError(err).WithField("facing", facing.String()).Warn("Camera still unavailable")
			return false
		}
		v.zoom.Stop()
		v.focus.Reset()
		return true
	}

	if !v.session.SwitchFacing(facing) {
		return false
	}
	v.zoom.Stop()
	v.focus.Reset()
	return true
}

// SetFrozen pauses or resumes frame delivery
func (v *Viewfinder) SetFrozen(frozen bool) {
	v.session.SetFrozen(frozen)
}

// OnSwitchingStateChanged registers fn for switching window transitions.
// The returned function unregisters it.
func (v *Viewfinder) OnSwitchingStateChanged(fn func(bool)) func() {
	return v.session.OnSwitchingChanged(fn)
}

// OnFocusIndicator registers fn to be raised with the display point of each
// tap that sets manual focus
func (v *Viewfinder) OnFocusIndicator(fn func(camera.Point)) {
	v.focus.OnIndicator(fn)
}

// Tap focuses at a point in surface pixel coordinates
func (v *Viewfinder) Tap(x, y float64) {
	size := v.surface.Size()
	v.focus.Tap(x, y, float64(size.X), float64(size.Y))
}

func (v *Viewfinder) State() State {
	ss := v.session.State()
	st := State{
		Facing:     ss.Facing,
		Configured: ss.Configured,
		Frozen:     ss.Frozen,
		Switching:  ss.Switching,
		Flashlight: ss.Flashlight,
		Filter:     v.SelectedFilter(),
		Zoom:       1,
		FocusMode:  v.focus.Mode(),
	}
	if !ss.Configured {
		v.mu.RLock()
		st.Facing = v.requested
		v.mu.RUnlock()
	}
	if dev := v.session.ActiveDevice(); dev != nil {
		st.Zoom = dev.ZoomFactor()
	}
	return st
}

func (v *Viewfinder) Stats() metrics.Snapshot {
	return v.stats.Snapshot()
}

// Close tears down every timing domain and releases the camera
func (v *Viewfinder) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	cancel := v.cancel
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	v.wg.Wait()
	v.zoom.Stop()
	v.focus.Stop()
	return v.session.Close()
}
