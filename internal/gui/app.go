// Viewfinder window: preview, capture controls and keyboard shortcuts
package gui

import (
	"fmt"
	"image"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/filter"
	"filter-viewfinder/internal/viewfinder"
)

const zoomStep = 0.5

// Core is the settings surface the window drives
type Core interface {
	SetSelectedFilter(id filter.ID) error
	SelectedFilter() filter.ID
	SetZoomTarget(factor float64)
	SetFlashlightEnabled(on bool)
	SetCameraFacing(facing camera.Facing) bool
	SetFrozen(frozen bool)
	OnSwitchingStateChanged(fn func(bool)) func()
	OnFocusIndicator(fn func(camera.Point))
	Tap(x, y float64)
	State() viewfinder.State
}

// Surface is the presentation target shown in the preview
type Surface interface {
	CanvasObject() *canvas.Image
	Size() image.Point
}

// Application is the main window
type Application struct {
	window fyne.Window
	core   Core
	logger *logrus.Entry

	preview    *Preview
	filterSel  *widget.Select
	zoomSlider *widget.Slider
	torchCheck *widget.Check
	freezeChk  *widget.Check
	switchBtn  *widget.Button
	status     *widget.Label

	zoom       float64
	unregister func()
}

func NewApplication(app fyne.App, core Core, surface Surface, logger *logrus.Logger) *Application {
	window := app.NewWindow("Filter Viewfinder")

	a := &Application{
		window: window,
		core:   core,
		logger: logger.WithField("component", "gui"),
		zoom:   1,
	}

	a.preview = NewPreview(surface.CanvasObject(), surface.Size, core.Tap, logger)
	a.initializeControls()
	a.setupLayout()
	a.setupCallbacks()

	size := surface.Size()
	window.Resize(fyne.NewSize(float32(size.X)/2+40, float32(size.Y)/2+120))
	return a
}

func (a *Application) initializeControls() {
	ids := filter.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	a.filterSel = widget.NewSelect(names, func(s string) {
		if err := a.core.SetSelectedFilter(filter.ID(s)); err != nil {
			a.logger.WithError(err).Warn("Filter rejected")
		}
		a.updateStatus()
	})
	a.filterSel.SetSelected(string(a.core.SelectedFilter()))

	a.zoomSlider = widget.NewSlider(1, 10)
	a.zoomSlider.Step = 0.1
	a.zoomSlider.OnChangeEnded = func(v float64) {
		a.setZoom(v)
	}

	a.torchCheck = widget.NewCheck("Flashlight", func(on bool) {
		a.core.SetFlashlightEnabled(on)
		a.updateStatus()
	})
	a.freezeChk = widget.NewCheck("Freeze", func(on bool) {
		a.core.SetFrozen(on)
		a.updateStatus()
	})
	a.switchBtn = widget.NewButton("Switch camera", a.switchCamera)
	a.status = widget.NewLabel("")
	a.updateStatus()
}

func (a *Application) setupLayout() {
	controls := container.NewVBox(
		container.NewGridWithColumns(2, a.filterSel, a.switchBtn),
		container.NewBorder(nil, nil, widget.NewLabel("Zoom"), nil, a.zoomSlider),
		container.NewHBox(a.torchCheck, a.freezeChk),
		a.status,
	)
	a.window.SetContent(container.NewBorder(nil, controls, nil, nil, a.preview))
}

func (a *Application) setupCallbacks() {
	a.unregister = a.core.OnSwitchingStateChanged(func(on bool) {
		fyne.Do(func() { a.setSwitching(on) })
	})
	a.core.OnFocusIndicator(func(p camera.Point) {
		fyne.Do(func() { a.preview.ShowIndicator(p) })
	})
	a.window.Canvas().SetOnTypedKey(a.handleKey)
	a.window.SetOnClosed(func() {
		if a.unregister != nil {
			a.unregister()
		}
	})
}

// setSwitching disables the camera controls while the switching window is
// open
func (a *Application) setSwitching(on bool) {
	if on {
		a.switchBtn.Disable()
		a.torchCheck.Disable()
	} else {
		a.switchBtn.Enable()
		a.torchCheck.Enable()
		a.torchCheck.SetChecked(a.core.State().Flashlight)
	}
	a.updateStatus()
}

func (a *Application) switchCamera() {
	next := a.core.State().Facing.Opposite()
	if !a.core.SetCameraFacing(next) {
		a.logger.WithField("facing", next.String()).Debug("Camera switch not started")
		return
	}
	a.zoom = 1
	a.zoomSlider.SetValue(1)
}

func (a *Application) setZoom(v float64) {
	a.zoom = v
	a.core.SetZoomTarget(v)
	a.updateStatus()
}

// handleKey implements the keyboard shortcuts
func (a *Application) handleKey(ev *fyne.KeyEvent) {
	switch ev.Name {
	case fyne.KeyF:
		a.filterSel.SetSelected(string(filter.Next(a.core.SelectedFilter())))
	case fyne.KeySpace:
		a.freezeChk.SetChecked(!a.freezeChk.Checked)
	case fyne.KeyC:
		a.switchCamera()
	case fyne.KeyT:
		if !a.torchCheck.Disabled() {
			a.torchCheck.SetChecked(!a.torchCheck.Checked)
		}
	case fyne.KeyEqual, fyne.KeyUp:
		a.setZoom(min(a.zoom+zoomStep, a.zoomSlider.Max))
		a.zoomSlider.SetValue(a.zoom)
	case fyne.KeyMinus, fyne.KeyDown:
		a.setZoom(max(a.zoom-zoomStep, 1))
		a.zoomSlider.SetValue(a.zoom)
	}
}

func (a *Application) updateStatus() {
	st := a.core.State()
	text := fmt.Sprintf("%s camera  %s  zoom %.1fx", st.Facing, st.Filter, st.Zoom)
	if st.Switching {
		text += "  switching"
	}
	if st.Frozen {
		text += "  frozen"
	}
	a.status.SetText(text)
}

func (a *Application) Window() fyne.Window {
	return a.window
}

// ShowAndRun shows the window and runs the event loop until it closes
func (a *Application) ShowAndRun() {
	a.window.ShowAndRun()
}
