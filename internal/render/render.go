// Package render turns delivered frames into presented surface frames:
// blank substitution while switching cameras, filtering, orientation,
// front-camera mirroring, cover scaling and center cropping.
package render

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/display"
	"filter-viewfinder/internal/filter"
	"filter-viewfinder/internal/metrics"
	"filter-viewfinder/internal/session"
)

// Surface is a render target that is redrawn only when a frame is presented
type Surface interface {
	Size() image.Point
	Present(frame gocv.Mat) error
}

// SwitchState reports whether a camera switch window is open
type SwitchState interface {
	IsSwitching() bool
}

// Renderer is the session's frame handler
type Renderer struct {
	logger    *logrus.Entry
	surface   Surface
	switching SwitchState
	selected  func() filter.ID
	rotation  int
	stats     *metrics.FrameStats
}

// New builds a renderer. Without a surface there is nothing to render to,
// which is reported as display.ErrNoGPU.
func New(surface Surface, switching SwitchState, selected func() filter.ID, rotation int, stats *metrics.FrameStats, logger *logrus.Logger) (*Renderer, error) {
	if surface == nil {
		return nil, display.ErrNoGPU
	}
	if rotation%90 != 0 {
		return nil, fmt.Errorf("sensor rotation must be a multiple of 90, got %d", rotation)
	}
	return &Renderer{
		logger:    logger.WithField("component", "render"),
		surface:   surface,
		switching: switching,
		selected:  selected,
		rotation:  rotation,
		stats:     stats,
	}, nil
}

var _ session.FrameHandler = (*Renderer)(nil)

func (r *Renderer) HandleFrame(f session.Frame) {
	start := time.Now()
	size := r.surface.Size()

	if r.switching != nil && r.switching.IsSwitching() {
		blank := Blank(size)
		defer blank.Close()
		if err := r.surface.Present(blank); err != nil {
			r.logger.WithError(err).Debug("Failed to present blank frame")
			return
		}
		r.stats.Blank()
		return
	}

	id := r.selected()
	out, err := Process(f.Image, id, f.Facing, r.rotation, size)
	if err != nil {
		r.stats.Dropped()
		r.logger.WithError(err).WithField("filter", string(id)).Debug("Frame dropped")
		return
	}
	defer out.Close()

	if err := r.surface.Present(out); err != nil {
		r.stats.Dropped()
		r.logger.WithError(err).Debug("Failed to present frame")
		return
	}
	r.stats.Presented(time.Since(start))
}

// Blank is an opaque black frame of the given size
func Blank(size image.Point) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
}

// Process is the pure per-frame transform. It depends only on its arguments.
func Process(input gocv.Mat, id filter.ID, facing camera.Facing, rotation int, size image.Point) (gocv.Mat, error) {
	if size.X <= 0 || size.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid surface size %v", size)
	}

	filtered, err := filter.Apply(id, input)
	if err != nil {
		return gocv.NewMat(), err
	}

	oriented, err := Orient(filtered, rotation, facing == camera.Front)
	filtered.Close()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer oriented.Close()

	return CoverCrop(oriented, size)
}

// Orient rotates clockwise by rotation degrees and then, for mirrored
// output, flips around the vertical axis
func Orient(input gocv.Mat, rotation int, mirror bool) (gocv.Mat, error) {
	rotated := gocv.NewMat()
	switch ((rotation % 360) + 360) % 360 {
	case 0:
		input.CopyTo(&rotated)
	case 90:
		gocv.Rotate(input, &rotated, gocv.Rotate90Clockwise)
	case 180:
		gocv.Rotate(input, &rotated, gocv.Rotate180Clockwise)
	case 270:
		gocv.Rotate(input, &rotated, gocv.Rotate90CounterClockwise)
	default:
		rotated.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported rotation %d", rotation)
	}
	if rotated.Empty() {
		rotated.Close()
		return gocv.NewMat(), fmt.Errorf("rotation produced no image")
	}
	if !mirror {
		return rotated, nil
	}
	defer rotated.Close()

	mirrored := gocv.NewMat()
	gocv.Flip(rotated, &mirrored, 1)
	if mirrored.Empty() {
		mirrored.Close()
		return gocv.NewMat(), fmt.Errorf("mirror produced no image")
	}
	return mirrored, nil
}

// CoverScale is the uniform factor that makes src cover dst completely
func CoverScale(src, dst image.Point) float64 {
	return math.Max(float64(dst.X)/float64(src.X), float64(dst.Y)/float64(src.Y))
}

// CoverCrop scales input uniformly to cover size and crops the center
func CoverCrop(input gocv.Mat, size image.Point) (gocv.Mat, error) {
	src := image.Pt(input.Cols(), input.Rows())
	if src.X <= 0 || src.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("cannot scale empty image")
	}

	scale := CoverScale(src, size)
	scaled := image.Pt(
		max(size.X, int(math.Ceil(float64(src.X)*scale))),
		max(size.Y, int(math.Ceil(float64(src.Y)*scale))),
	)

	resized := gocv.NewMat()
	defer resized.Close()
	if scaled == src {
		input.CopyTo(&resized)
	} else {
		gocv.Resize(input, &resized, scaled, 0, 0, gocv.InterpolationLinear)
	}
	if resized.Empty() {
		return gocv.NewMat(), fmt.Errorf("resize produced no image")
	}

	x0 := (scaled.X - size.X) / 2
	y0 := (scaled.Y - size.Y) / 2
	region := resized.Region(image.Rect(x0, y0, x0+size.X, y0+size.Y))
	defer region.Close()
	return region.Clone(), nil
}
