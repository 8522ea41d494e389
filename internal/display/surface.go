package display

import (
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"gocv.io/x/gocv"
)

// ErrNoGPU means no rendering driver is available for the surface
var ErrNoGPU = errors.New("no GPU rendering device available")

// Surface presents frames through a fyne canvas image. Fyne renders through
// OpenGL, and the image is redrawn only when Present refreshes it.
type Surface struct {
	mu     sync.RWMutex
	size   image.Point
	image  *canvas.Image
	frames uint64
}

// NewSurface creates a surface of width×height pixels on app's driver. A
// desktop driver renders through an OpenGL context on a window server, so a
// Unix host without one has nothing to render to.
func NewSurface(app fyne.App, width, height int) (*Surface, error) {
	if app == nil || app.Driver() == nil {
		return nil, ErrNoGPU
	}
	if _, ok := app.Driver().(desktop.Driver); ok && !displayAvailable() {
		return nil, fmt.Errorf("%w: no X11 or Wayland display", ErrNoGPU)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", width, height)
	}

	img := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, width, height)))
	img.FillMode = canvas.ImageFillContain
	img.ScaleMode = canvas.ImageScaleFastest

	return &Surface{
		size:  image.Pt(width, height),
		image: img,
	}, nil
}

// displayAvailable reports whether a window server is reachable. Only X11
// and Wayland hosts can lack one; other platforms always have a compositor.
func displayAvailable() bool {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd", "dragonfly":
		return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
	}
	return true
}

// CanvasObject is the widget tree node showing the surface
func (s *Surface) CanvasObject() *canvas.Image {
	return s.image
}

func (s *Surface) Size() image.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// SetSize changes the pixel size frames are composed to
func (s *Surface) SetSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.mu.Lock()
	s.size = image.Pt(width, height)
	s.mu.Unlock()
}

// Present converts frame and schedules a redraw on the UI thread
func (s *Surface) Present(frame gocv.Mat) error {
	img, err := frame.ToImage()
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}

	s.mu.Lock()
	s.frames++
	s.mu.Unlock()

	fyne.Do(func() {
		s.image.Image = img
		s.image.Refresh()
	})
	return nil
}

// Frames reports how many frames were presented
func (s *Surface) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}
