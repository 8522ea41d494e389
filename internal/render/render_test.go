package render

import (
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"filter-viewfinder/internal/camera"
	"filter-viewfinder/internal/display"
	"filter-viewfinder/internal/filter"
	"filter-viewfinder/internal/metrics"
	"filter-viewfinder/internal/session"
)

type fakeSurface struct {
	mu     sync.Mutex
	size   image.Point
	frames []gocv.Mat
}

func (s *fakeSurface) Size() image.Point { return s.size }

func (s *fakeSurface) Present(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame.Clone())
	return nil
}

func (s *fakeSurface) last() gocv.Mat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func (s *fakeSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSurface) Close() {
	for _, f := range s.frames {
		f.Close()
	}
}

type switchFlag struct{ atomic.Bool }

func (f *switchFlag) IsSwitching() bool { return f.Load() }

func bgr(m gocv.Mat, x, y int) [3]uint8 {
	v := m.GetVecbAt(y, x)
	return [3]uint8{v[0], v[1], v[2]}
}

// halves builds a frame whose left half is red and right half is blue
func halves(w, h int) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 0), h, w, gocv.MatTypeCV8UC3)
	right := m.Region(image.Rect(w/2, 0, w, h))
	right.SetTo(gocv.NewScalar(255, 0, 0, 0))
	right.Close()
	return m
}

var (
	red  = [3]uint8{0, 0, 255}
	blue = [3]uint8{255, 0, 0}
)

func newRenderer(t *testing.T, size image.Point, id filter.ID) (*Renderer, *fakeSurface, *switchFlag, *metrics.FrameStats) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	surface := &fakeSurface{size: size}
	t.Cleanup(surface.Close)
	flag := &switchFlag{}
	stats := metrics.NewFrameStats()

	var selected atomic.Value
	selected.Store(id)
	r, err := New(surface, flag, func() filter.ID { return selected.Load().(filter.ID) }, 0, stats, logger)
	require.NoError(t, err)
	return r, surface, flag, stats
}

func TestNewWithoutSurface(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New(nil, nil, func() filter.ID { return filter.None }, 0, nil, logger)
	assert.ErrorIs(t, err, display.ErrNoGPU)
}

func TestSwitchingPresentsOnlyBlankFrames(t *testing.T) {
	r, surface, flag, stats := newRenderer(t, image.Pt(20, 10), filter.None)
	in := halves(40, 20)
	defer in.Close()

	flag.Store(true)
	for i := 0; i < 3; i++ {
		r.HandleFrame(session.Frame{Image: in, Facing: camera.Back})
	}

	require.Equal(t, 3, surface.count())
	for _, f := range surface.frames {
		assert.Equal(t, 20, f.Cols())
		assert.Equal(t, 10, f.Rows())
		assert.Equal(t, [3]uint8{0, 0, 0}, bgr(f, 0, 0))
		assert.Equal(t, [3]uint8{0, 0, 0}, bgr(f, 19, 9))
	}
	assert.Equal(t, uint64(3), stats.Snapshot().Blank)
	assert.Zero(t, stats.Snapshot().Presented)
}

func TestMirroringFollowsFacing(t *testing.T) {
	r, surface, _, _ := newRenderer(t, image.Pt(20, 10), filter.None)
	in := halves(20, 10)
	defer in.Close()

	r.HandleFrame(session.Frame{Image: in, Facing: camera.Back})
	back := surface.last()
	assert.Equal(t, red, bgr(back, 1, 5))
	assert.Equal(t, blue, bgr(back, 18, 5))

	r.HandleFrame(session.Frame{Image: in, Facing: camera.Front})
	front := surface.last()
	assert.Equal(t, blue, bgr(front, 1, 5), "front camera shows a mirror image")
	assert.Equal(t, red, bgr(front, 18, 5))
}

func TestStageFailureDropsOnlyThatFrame(t *testing.T) {
	logger, _ := test.NewNullLogger()
	surface := &fakeSurface{size: image.Pt(4, 4)}
	defer surface.Close()
	stats := metrics.NewFrameStats()

	current := filter.ID("missing")
	r, err := New(surface, &switchFlag{}, func() filter.ID { return current }, 0, stats, logger)
	require.NoError(t, err)

	in := halves(8, 8)
	defer in.Close()

	r.HandleFrame(session.Frame{Image: in})
	assert.Equal(t, 0, surface.count())
	assert.Equal(t, uint64(1), stats.Snapshot().Dropped)

	current = filter.Monochrome
	r.HandleFrame(session.Frame{Image: in})
	assert.Equal(t, 1, surface.count())
	assert.Equal(t, uint64(1), stats.Snapshot().Presented)
}

func TestOrientRotatesBeforeMirroring(t *testing.T) {
	in := halves(4, 2)
	defer in.Close()

	rotated, err := Orient(in, 90, false)
	require.NoError(t, err)
	defer rotated.Close()
	assert.Equal(t, 2, rotated.Cols())
	assert.Equal(t, 4, rotated.Rows())
	// clockwise: the left (red) half ends up on top
	assert.Equal(t, red, bgr(rotated, 0, 0))
	assert.Equal(t, blue, bgr(rotated, 0, 3))

	mirrored, err := Orient(in, 0, true)
	require.NoError(t, err)
	defer mirrored.Close()
	assert.Equal(t, blue, bgr(mirrored, 0, 0))
	assert.Equal(t, red, bgr(mirrored, 3, 0))

	_, err = Orient(in, 45, false)
	assert.Error(t, err)
}

func TestCoverScale(t *testing.T) {
	assert.Equal(t, 0.8, CoverScale(image.Pt(100, 50), image.Pt(40, 40)))
	assert.Equal(t, 2.0, CoverScale(image.Pt(10, 20), image.Pt(20, 10)))
}

func TestCoverCropFillsSurfaceExactly(t *testing.T) {
	cases := []struct {
		src, dst image.Point
	}{
		{image.Pt(100, 50), image.Pt(40, 40)},
		{image.Pt(30, 40), image.Pt(90, 60)},
		{image.Pt(16, 9), image.Pt(16, 9)},
		{image.Pt(7, 13), image.Pt(10, 3)},
	}
	for _, tc := range cases {
		in := halves(tc.src.X, tc.src.Y)
		out, err := CoverCrop(in, tc.dst)
		require.NoError(t, err)
		assert.Equal(t, tc.dst.X, out.Cols(), "%v -> %v", tc.src, tc.dst)
		assert.Equal(t, tc.dst.Y, out.Rows(), "%v -> %v", tc.src, tc.dst)
		out.Close()
		in.Close()
	}
}

func TestCoverCropKeepsCenter(t *testing.T) {
	// wide input into a square surface crops both sides equally, so the
	// red/blue boundary stays in the middle
	in := halves(100, 50)
	defer in.Close()
	out, err := CoverCrop(in, image.Pt(40, 40))
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, red, bgr(out, 10, 20))
	assert.Equal(t, blue, bgr(out, 30, 20))
}

func TestProcessIsPure(t *testing.T) {
	in := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer in.Close()

	for _, id := range filter.IDs() {
		a, err := Process(in, id, camera.Front, 90, image.Pt(30, 20))
		require.NoError(t, err)
		b, err := Process(in, id, camera.Front, 90, image.Pt(30, 20))
		require.NoError(t, err)
		assert.Equal(t, a.ToBytes(), b.ToBytes(), string(id))
		a.Close()
		b.Close()
	}

	_, err := Process(in, filter.None, camera.Back, 0, image.Pt(0, 10))
	assert.Error(t, err)
}
