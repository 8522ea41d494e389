package gui

import (
	"image"
	"sync"
	"testing"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/test"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/filter"
	"filter-viewfinder/internal/viewfinder"
)

type fakeCore struct {
	mu       sync.Mutex
	state    viewfinder.State
	zooms    []float64
	switches []camera.Facing
	taps     [][2]float64
}

func newFakeCore() *fakeCore {
	return &fakeCore{state: viewfinder.State{Facing: camera.Back, Filter: filter.None, Zoom: 1}}
}

func (c *fakeCore) SetSelectedFilter(id filter.ID) error {
	if !filter.IsValid(id) {
		return filter.ErrUnknownFilter
	}
	c.mu.Lock()
	c.state.Filter = id
	c.mu.Unlock()
	return nil
}

func (c *fakeCore) SelectedFilter() filter.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Filter
}

func (c *fakeCore) SetZoomTarget(f float64) {
	c.mu.Lock()
	c.zooms = append(c.zooms, f)
	c.mu.Unlock()
}

func (c *fakeCore) SetFlashlightEnabled(on bool) {
	c.mu.Lock()
	c.state.Flashlight = on
	c.mu.Unlock()
}

func (c *fakeCore) SetCameraFacing(f camera.Facing) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switches = append(c.switches, f)
	return true
}

func (c *fakeCore) SetFrozen(on bool) {
	c.mu.Lock()
	c.state.Frozen = on
	c.mu.Unlock()
}

func (c *fakeCore) OnSwitchingStateChanged(func(bool)) func() { return func() {} }
func (c *fakeCore) OnFocusIndicator(func(camera.Point))        {}

func (c *fakeCore) Tap(x, y float64) {
	c.mu.Lock()
	c.taps = append(c.taps, [2]float64{x, y})
	c.mu.Unlock()
}

func (c *fakeCore) State() viewfinder.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

type fakeSurface struct {
	img  *canvas.Image
	size image.Point
}

func (s *fakeSurface) CanvasObject() *canvas.Image { return s.img }
func (s *fakeSurface) Size() image.Point           { return s.size }

func newTestApplication(t *testing.T) (*Application, *fakeCore) {
	t.Helper()
	app := test.NewApp()
	t.Cleanup(app.Quit)
	logger, _ := logtest.NewNullLogger()

	surface := &fakeSurface{
		img:  canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 100, 100))),
		size: image.Pt(100, 100),
	}
	core := newFakeCore()
	return NewApplication(app, core, surface, logger), core
}

func TestToSurface(t *testing.T) {
	widgetSize := fyne.NewSize(200, 400)
	surface := image.Pt(100, 100)

	x, y, ok := toSurface(fyne.NewPos(100, 200), widgetSize, surface)
	require.True(t, ok)
	assert.InDelta(t, 50, x, 1e-6)
	assert.InDelta(t, 50, y, 1e-6)

	_, _, ok = toSurface(fyne.NewPos(100, 50), widgetSize, surface)
	assert.False(t, ok, "letterbox bar")

	_, _, ok = toSurface(fyne.NewPos(1, 1), fyne.NewSize(0, 0), surface)
	assert.False(t, ok)
}

func TestFromSurfaceInvertsToSurface(t *testing.T) {
	widgetSize := fyne.NewSize(300, 200)
	surface := image.Pt(720, 1280)

	pos, ok := fromSurface(360, 320, widgetSize, surface)
	require.True(t, ok)
	x, y, ok := toSurface(pos, widgetSize, surface)
	require.True(t, ok)
	assert.InDelta(t, 360, x, 1e-3)
	assert.InDelta(t, 320, y, 1e-3)
}

func TestPreviewForwardsTaps(t *testing.T) {
	a, core := newTestApplication(t)
	a.preview.Resize(fyne.NewSize(200, 400))

	a.preview.Tapped(&fyne.PointEvent{Position: fyne.NewPos(100, 200)})
	a.preview.Tapped(&fyne.PointEvent{Position: fyne.NewPos(100, 10)})

	require.Len(t, core.taps, 1)
	assert.InDelta(t, 50, core.taps[0][0], 1e-6)
	assert.InDelta(t, 50, core.taps[0][1], 1e-6)
}

func TestPreviewIndicator(t *testing.T) {
	a, _ := newTestApplication(t)
	a.preview.Resize(fyne.NewSize(200, 200))
	assert.False(t, a.preview.IndicatorVisible())

	a.preview.ShowIndicator(camera.Point{X: 50, Y: 50})
	assert.True(t, a.preview.IndicatorVisible())
	assert.Equal(t, fyne.NewPos(100-indicatorRadius, 100-indicatorRadius), a.preview.ring.Position())

	a.preview.mu.Lock()
	a.preview.ringTimer.Stop()
	a.preview.mu.Unlock()
	a.preview.hideIndicator()
	assert.False(t, a.preview.IndicatorVisible())
}

func TestKeyboardShortcuts(t *testing.T) {
	a, core := newTestApplication(t)

	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyF})
	assert.Equal(t, filter.Next(filter.None), core.SelectedFilter())

	a.handleKey(&fyne.KeyEvent{Name: fyne.KeySpace})
	assert.True(t, core.State().Frozen)
	a.handleKey(&fyne.KeyEvent{Name: fyne.KeySpace})
	assert.False(t, core.State().Frozen)

	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyT})
	assert.True(t, core.State().Flashlight)

	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyEqual})
	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyEqual})
	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyMinus})
	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyMinus})
	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyMinus})
	assert.Equal(t, []float64{1.5, 2, 1.5, 1, 1}, core.zooms)

	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyC})
	assert.Equal(t, []camera.Facing{camera.Front}, core.switches)
}

func TestSwitchingDisablesControls(t *testing.T) {
	a, _ := newTestApplication(t)

	a.setSwitching(true)
	assert.True(t, a.switchBtn.Disabled())
	assert.True(t, a.torchCheck.Disabled())

	a.handleKey(&fyne.KeyEvent{Name: fyne.KeyT})
	assert.False(t, a.torchCheck.Checked, "torch shortcut ignored while switching")

	a.setSwitching(false)
	assert.False(t, a.switchBtn.Disabled())
}
