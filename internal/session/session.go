// Package session owns the capture stream: device selection per facing,
// frame delivery, freeze/resume and the camera switch transition.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/metrics"
)

// Frame is one delivered video frame. Image is owned by the session and is
// released after HandleFrame returns.
type Frame struct {
	Image    gocv.Mat
	Facing   camera.Facing
	Captured time.Time
}

// FrameHandler consumes delivered frames on the delivery worker. HandleFrame
// runs inside the session's read transaction and must not call ActiveDevice
// or BeginConfiguration.
type FrameHandler interface {
	HandleFrame(frame Frame)
}

// State is a snapshot of the session
type State struct {
	Facing     camera.Facing
	Configured bool
	Frozen     bool
	Switching  bool
	Flashlight bool
	Running    bool
}

type Options struct {
	// SwitchDelay masks hardware settle time before the input swap
	SwitchDelay time.Duration
	// RetryDelay paces reads after the device returns no frame
	RetryDelay time.Duration
}

type queuedFrame struct {
	frame Frame
	gen   uint64
}

// Manager is the capture session. Session-level reconfiguration happens in a
// BeginConfiguration/CommitConfiguration transaction which excludes frame
// reads from the current input.
type Manager struct {
	id        string
	logger    *logrus.Entry
	discovery camera.Discovery
	opts      Options
	stats     *metrics.FrameStats

	tx    sync.RWMutex
	input camera.Device
	gen   atomic.Uint64

	mu         sync.Mutex
	facing     camera.Facing
	configured bool
	frozen     bool
	flashlight bool
	closed     bool
	stopRun    context.CancelFunc
	runDone    chan struct{}

	switching atomic.Bool
	switchWG  sync.WaitGroup

	handlerMu sync.RWMutex
	handler   FrameHandler

	listenerMu sync.Mutex
	listeners  map[int]func(bool)
	nextID     int

	frames   chan queuedFrame
	closing  chan struct{}
	workerWG sync.WaitGroup
}

func New(discovery camera.Discovery, opts Options, stats *metrics.FrameStats, logger *logrus.Logger) *Manager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	id := uuid.NewString()
	m := &Manager{
		id:        id,
		logger:    logger.WithFields(logrus.Fields{"component": "session", "session": id}),
		discovery: discovery,
		opts:      opts,
		stats:     stats,
		listeners: make(map[int]func(bool)),
		frames:    make(chan queuedFrame, 1),
		closing:   make(chan struct{}),
	}

	m.workerWG.Add(1)
	go m.deliverLoop()
	return m
}

// ID identifies this session in log output
func (m *Manager) ID() string {
	return m.id
}

// SetFrameHandler installs the consumer of delivered frames
func (m *Manager) SetFrameHandler(h FrameHandler) {
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

// BeginConfiguration opens a session transaction. It waits for any frame read
// from the current input to finish.
func (m *Manager) BeginConfiguration() {
	m.tx.Lock()
}

// CommitConfiguration closes the transaction opened by BeginConfiguration
func (m *Manager) CommitConfiguration() {
	m.tx.Unlock()
}

// ActiveDevice returns the attached input, or nil
func (m *Manager) ActiveDevice() camera.Device {
	m.tx.RLock()
	defer m.tx.RUnlock()
	return m.input
}

// IsSwitching reports whether a camera switch window is open
func (m *Manager) IsSwitching() bool {
	return m.switching.Load()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Facing:     m.facing,
		Configured: m.configured,
		Frozen:     m.frozen,
		Switching:  m.switching.Load(),
		Flashlight: m.flashlight,
		Running:    m.stopRun != nil,
	}
}

// Configure opens the device for facing, negotiates the best preset, applies
// continuous focus/exposure/white balance and starts frame delivery. If no
// device can be opened the previous state is kept.
func (m *Manager) Configure(facing camera.Facing) error {
	log := m.logger.WithField("facing", facing.String())

	dev, err := m.discovery.DeviceFor(facing)
	if err != nil {
		log.WithError(err).Error("Capture session configuration aborted")
		return fmt.Errorf("configure %s camera: %w", facing, err)
	}

	m.negotiatePreset(dev)
	m.applyDefaultModes(dev)

	old := m.attach(dev)
	if old != nil && old != dev {
		if err := old.Close(); err != nil {
			log.WithError(err).Warn("Failed to release previous input")
		}
	}

	m.mu.Lock()
	m.facing = facing
	m.configured = true
	m.mu.Unlock()

	log.WithField("device", dev.ID()).Info("Capture session configured")
	m.startCapture()
	return nil
}

// attach swaps the input inside a transaction and returns the previous one
func (m *Manager) attach(dev camera.Device) camera.Device {
	m.BeginConfiguration()
	defer m.CommitConfiguration()

	old := m.input
	m.input = dev
	m.gen.Add(1)
	return old
}

func (m *Manager) negotiatePreset(dev camera.Device) {
	for _, p := range camera.Presets {
		if err := dev.ApplyPreset(p); err == nil {
			m.logger.WithFields(logrus.Fields{
				"device": dev.ID(),
				"preset": p.String(),
			}).Debug("Capture preset negotiated")
			return
		}
	}
	m.logger.WithField("device", dev.ID()).Warn("No capture preset accepted, using device default")
}

// applyDefaultModes puts dev in continuous auto focus, exposure and white
// balance. A lock failure is logged and leaves the device as it was.
func (m *Manager) applyDefaultModes(dev camera.Device) {
	if err := dev.LockForConfiguration(); err != nil {
		m.logger.WithError(err).WithField("device", dev.ID()).Warn("Could not lock device for default modes")
		return
	}
	defer dev.UnlockForConfiguration()

	if dev.SupportsFocusPointOfInterest() {
		dev.SetFocusPointOfInterest(camera.Center)
	}
	if dev.SupportsFocusMode(camera.FocusContinuous) {
		dev.SetFocusMode(camera.FocusContinuous)
	}
	if dev.SupportsExposurePointOfInterest() {
		dev.SetExposurePointOfInterest(camera.Center)
	}
	if dev.SupportsExposureMode(camera.ExposureContinuous) {
		dev.SetExposureMode(camera.ExposureContinuous)
	}
	if dev.SupportsWhiteBalanceMode(camera.WhiteBalanceContinuous) {
		dev.SetWhiteBalanceMode(camera.WhiteBalanceContinuous)
	}
}

// SetFrozen pauses (true) or resumes (false) hardware frame production.
// Resuming happens off the calling goroutine and does not reconfigure the
// device.
func (m *Manager) SetFrozen(frozen bool) {
	m.mu.Lock()
	if m.frozen == frozen || m.closed {
		m.mu.Unlock()
		return
	}
	m.frozen = frozen
	m.mu.Unlock()

	m.logger.WithField("frozen", frozen).Info("Capture frozen state changed")

	if frozen {
		m.stopCapture()
		return
	}
	go m.startCapture()
}

func (m *Manager) startCapture() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.configured || m.frozen || m.closed || m.stopRun != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopRun = cancel
	m.runDone = done
	go m.captureLoop(ctx, done)
}

func (m *Manager) stopCapture() {
	m.mu.Lock()
	cancel, done := m.stopRun, m.runDone
	m.stopRun, m.runDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// captureLoop reads frames from the current input and hands them to the
// delivery worker, discarding frames that arrive while it is busy
func (m *Manager) captureLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		img := gocv.NewMat()

		m.tx.RLock()
		dev := m.input
		gen := m.gen.Load()
		ok := dev != nil && dev.Read(&img)
		m.tx.RUnlock()

		if !ok || img.Empty() {
			img.Close()
			m.stats.Missing()
			select {
			case <-ctx.Done():
			case <-time.After(m.opts.RetryDelay):
			}
			continue
		}

		qf := queuedFrame{
			frame: Frame{Image: img, Facing: dev.Facing(), Captured: time.Now()},
			gen:   gen,
		}
		select {
		case m.frames <- qf:
		default:
			img.Close()
			m.stats.Late()
		}
	}
}

func (m *Manager) deliverLoop() {
	defer m.workerWG.Done()

	for {
		select {
		case <-m.closing:
			for {
				select {
				case qf := <-m.frames:
					qf.frame.Image.Close()
				default:
					return
				}
			}
		case qf := <-m.frames:
			m.deliver(qf)
		}
	}
}

// deliver runs the handler inside the read side of the configuration
// transaction, so an input swap waits for the frame in hand and frames read
// from a replaced input never reach the pipeline.
func (m *Manager) deliver(qf queuedFrame) {
	defer qf.frame.Image.Close()

	m.mu.Lock()
	frozen := m.frozen
	m.mu.Unlock()
	if frozen {
		return
	}

	m.handlerMu.RLock()
	h := m.handler
	m.handlerMu.RUnlock()
	if h == nil {
		return
	}

	m.tx.RLock()
	defer m.tx.RUnlock()
	if qf.gen != m.gen.Load() {
		return
	}
	m.stats.Delivered()
	h.HandleFrame(qf.frame)
}

// OnSwitchingChanged registers fn for switching window transitions and
// returns a function that removes it
func (m *Manager) OnSwitchingChanged(fn func(bool)) func() {
	if fn == nil {
		return func() {}
	}
	m.listenerMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

func (m *Manager) setSwitching(on bool) {
	if m.switching.Swap(on) == on {
		return
	}

	m.listenerMu.Lock()
	snapshot := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		snapshot = append(snapshot, fn)
	}
	m.listenerMu.Unlock()

	for _, fn := range snapshot {
		func(cb func(bool)) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithField("panic", r).Error("Switching listener panicked")
				}
			}()
			cb(on)
		}(fn)
	}
}

// SwitchFacing starts the camera switch sequence and returns immediately.
// The switching window opens before this returns; the input swap happens
// after SwitchDelay. It reports false when no switch was started.
func (m *Manager) SwitchFacing(facing camera.Facing) bool {
	m.mu.Lock()
	if !m.configured || m.closed || m.facing == facing || m.switching.Load() {
		m.mu.Unlock()
		return false
	}
	m.switchWG.Add(1)
	m.mu.Unlock()

	m.setSwitching(true)
	m.logger.WithField("facing", facing.String()).Info("Camera switch started")

	go func() {
		defer m.switchWG.Done()
		if m.opts.SwitchDelay > 0 {
			timer := time.NewTimer(m.opts.SwitchDelay)
			select {
			case <-timer.C:
			case <-m.closing:
				timer.Stop()
				m.setSwitching(false)
				return
			}
		}
		m.completeSwitch(facing)
	}()
	return true
}

func (m *Manager) completeSwitch(facing camera.Facing) {
	defer m.setSwitching(false)
	log := m.logger.WithField("facing", facing.String())

	dev, err := m.discovery.DeviceFor(facing)
	if err != nil {
		log.WithError(err).Error("Camera switch aborted, keeping current input")
		return
	}
	m.negotiatePreset(dev)

	m.mu.Lock()
	torchOff := m.flashlight && (facing != camera.Back || !dev.HasTorch())
	m.mu.Unlock()

	old := m.ActiveDevice()
	if torchOff && old != nil {
		m.setTorch(old, false)
	}

	old = m.attach(dev)
	if old != nil && old != dev {
		if err := old.Close(); err != nil {
			log.WithError(err).Warn("Failed to release previous input")
		}
	}

	m.applyDefaultModes(dev)

	m.mu.Lock()
	m.facing = facing
	if torchOff {
		m.flashlight = false
	}
	m.mu.Unlock()

	log.WithField("device", dev.ID()).Info("Camera switch completed")
}

// SetFlashlight toggles the torch. Only the back facing with a torch-capable
// device is affected; anything else is a logged no-op.
func (m *Manager) SetFlashlight(on bool) {
	m.mu.Lock()
	facing := m.facing
	m.mu.Unlock()

	dev := m.ActiveDevice()
	if dev == nil || facing != camera.Back || !dev.HasTorch() {
		m.logger.WithFields(logrus.Fields{
			"on":     on,
			"facing": facing.String(),
		}).Debug("Flashlight unavailable for current input")
		return
	}

	if !m.setTorch(dev, on) {
		return
	}

	m.mu.Lock()
	m.flashlight = on
	m.mu.Unlock()
}

func (m *Manager) setTorch(dev camera.Device, on bool) bool {
	if err := dev.LockForConfiguration(); err != nil {
		m.logger.WithError(err).Warn("Could not lock device for torch")
		return false
	}
	defer dev.UnlockForConfiguration()

	if err := dev.SetTorch(on); err != nil {
		m.logger.WithError(err).WithField("on", on).Warn("Torch change failed")
		return false
	}
	return true
}

// Close stops capture, waits for any switch in flight and releases the input
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stopCapture()
	close(m.closing)
	m.switchWG.Wait()
	m.workerWG.Wait()

	m.BeginConfiguration()
	dev := m.input
	m.input = nil
	m.gen.Add(1)
	m.CommitConfiguration()

	if dev != nil {
		if err := dev.Close(); err != nil {
			return fmt.Errorf("error closing input: %w", err)
		}
	}
	m.logger.Info("Capture session closed")
	return nil
}
