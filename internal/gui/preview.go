// Viewfinder preview widget with tap-to-focus
package gui

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"filter-viewfinder/internal/camera"
)

const indicatorRadius = 36

// indicatorLinger is how long the focus ring stays on screen
var indicatorLinger = 900 * time.Millisecond

// Preview shows the surface image and forwards taps to the core
type Preview struct {
	widget.BaseWidget

	logger  *logrus.Entry
	image   *canvas.Image
	surface func() image.Point
	onTap   func(x, y float64)

	mu        sync.Mutex
	ring      *canvas.Circle
	ringTimer *time.Timer
}

// NewPreview wraps img, whose pixel size is reported by surface
func NewPreview(img *canvas.Image, surface func() image.Point, onTap func(x, y float64), logger *logrus.Logger) *Preview {
	ring := canvas.NewCircle(color.Transparent)
	ring.StrokeColor = color.NRGBA{R: 255, G: 204, B: 0, A: 255}
	ring.StrokeWidth = 2
	ring.Hide()

	p := &Preview{
		logger:  logger.WithField("component", "gui"),
		image:   img,
		surface: surface,
		onTap:   onTap,
		ring:    ring,
	}
	p.ExtendBaseWidget(p)
	return p
}

func (p *Preview) CreateRenderer() fyne.WidgetRenderer {
	return &previewRenderer{preview: p}
}

// Tapped maps the widget position into surface pixels and forwards it
func (p *Preview) Tapped(ev *fyne.PointEvent) {
	x, y, ok := toSurface(ev.Position, p.Size(), p.surface())
	if !ok {
		return
	}
	p.logger.WithFields(logrus.Fields{"x": x, "y": y}).Debug("Tap on preview")
	if p.onTap != nil {
		p.onTap(x, y)
	}
}

// ShowIndicator draws the focus ring around a surface point for a moment
func (p *Preview) ShowIndicator(at camera.Point) {
	pos, ok := fromSurface(at.X, at.Y, p.Size(), p.surface())
	if !ok {
		return
	}

	p.mu.Lock()
	if p.ringTimer != nil {
		p.ringTimer.Stop()
	}
	p.ring.Resize(fyne.NewSize(2*indicatorRadius, 2*indicatorRadius))
	p.ring.Move(fyne.NewPos(pos.X-indicatorRadius, pos.Y-indicatorRadius))
	p.ring.Show()
	p.ringTimer = time.AfterFunc(indicatorLinger, func() {
		fyne.Do(p.hideIndicator)
	})
	p.mu.Unlock()

	p.ring.Refresh()
}

func (p *Preview) hideIndicator() {
	p.mu.Lock()
	p.ringTimer = nil
	p.mu.Unlock()
	p.ring.Hide()
}

// IndicatorVisible reports whether the focus ring is on screen
func (p *Preview) IndicatorVisible() bool {
	return p.ring.Visible()
}

// fit is the placement of a contained image of size src inside dst
func fit(dst fyne.Size, src image.Point) (scale float64, offset fyne.Position, ok bool) {
	if src.X <= 0 || src.Y <= 0 || dst.Width <= 0 || dst.Height <= 0 {
		return 0, fyne.Position{}, false
	}
	scale = math.Min(float64(dst.Width)/float64(src.X), float64(dst.Height)/float64(src.Y))
	offset = fyne.NewPos(
		(dst.Width-float32(float64(src.X)*scale))/2,
		(dst.Height-float32(float64(src.Y)*scale))/2,
	)
	return scale, offset, true
}

// toSurface converts a widget position into surface pixel coordinates.
// Positions on the letterbox bars are rejected.
func toSurface(pos fyne.Position, widgetSize fyne.Size, surface image.Point) (x, y float64, ok bool) {
	scale, offset, ok := fit(widgetSize, surface)
	if !ok {
		return 0, 0, false
	}
	x = float64(pos.X-offset.X) / scale
	y = float64(pos.Y-offset.Y) / scale
	if x < 0 || y < 0 || x > float64(surface.X) || y > float64(surface.Y) {
		return 0, 0, false
	}
	return x, y, true
}

func fromSurface(x, y float64, widgetSize fyne.Size, surface image.Point) (fyne.Position, bool) {
	scale, offset, ok := fit(widgetSize, surface)
	if !ok {
		return fyne.Position{}, false
	}
	return fyne.NewPos(offset.X+float32(x*scale), offset.Y+float32(y*scale)), true
}

type previewRenderer struct {
	preview *Preview
}

func (r *previewRenderer) Layout(size fyne.Size) {
	r.preview.image.Resize(size)
	r.preview.image.Move(fyne.NewPos(0, 0))
}

func (r *previewRenderer) MinSize() fyne.Size {
	return fyne.NewSize(180, 320)
}

func (r *previewRenderer) Refresh() {
	r.preview.image.Refresh()
	r.preview.ring.Refresh()
}

func (r *previewRenderer) Objects() []fyne.CanvasObject {
	return []fyne.CanvasObject{r.preview.image, r.preview.ring}
}

func (r *previewRenderer) Destroy() {}
