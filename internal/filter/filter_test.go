package filter

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solid(b, g, r float64, w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), h, w, gocv.MatTypeCV8UC3)
}

func pixel(m gocv.Mat, x, y int) [3]uint8 {
	v := m.GetVecbAt(y, x)
	return [3]uint8{v[0], v[1], v[2]}
}

func TestEveryFilterIsDeterministicOnMidGray(t *testing.T) {
	for _, id := range IDs() {
		t.Run(string(id), func(t *testing.T) {
			in := solid(128, 128, 128, 16, 12)
			defer in.Close()

			first, err := Apply(id, in)
			require.NoError(t, err)
			defer first.Close()
			second, err := Apply(id, in)
			require.NoError(t, err)
			defer second.Close()

			assert.Equal(t, 16, first.Cols())
			assert.Equal(t, 12, first.Rows())
			assert.Equal(t, first.ToBytes(), second.ToBytes())
			assert.Equal(t, [3]uint8{128, 128, 128}, pixel(in, 0, 0), "input must not be modified")

			// a uniform gray frame has no edges and no hue, so every
			// pipeline keeps it uniform and gray
			p := pixel(first, 5, 5)
			assert.Equal(t, p[0], p[1])
			assert.Equal(t, p[1], p[2])
			assert.Equal(t, p, pixel(first, 0, 0))
		})
	}
}

func TestIdentityPassesThrough(t *testing.T) {
	p, err := Lookup(None)
	require.NoError(t, err)
	assert.True(t, p.IsIdentity())

	in := solid(10, 200, 90, 4, 4)
	defer in.Close()
	out, err := p.Apply(in)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, in.ToBytes(), out.ToBytes())
}

func TestOnlyOneIdentityPipeline(t *testing.T) {
	identities := 0
	for _, id := range IDs() {
		p, err := Lookup(id)
		require.NoError(t, err)
		if p.IsIdentity() {
			identities++
		}
	}
	assert.Equal(t, 1, identities)
}

func TestStageOrderFollowsTemplate(t *testing.T) {
	p, err := Lookup(XRay)
	require.NoError(t, err)
	assert.Equal(t, []string{"invert", "exposure", "color_controls", "tone_curve"}, p.Stages())

	p, err = Lookup(Outline)
	require.NoError(t, err)
	assert.Equal(t, []string{"color_controls", "edge_composite"}, p.Stages())
}

func TestInvertStage(t *testing.T) {
	in := solid(128, 0, 255, 2, 2)
	defer in.Close()
	out, err := invertStage{}.Apply(in)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, [3]uint8{127, 255, 0}, pixel(out, 1, 1))
}

func TestExposureStageDoublesPerStop(t *testing.T) {
	in := solid(64, 100, 200, 2, 2)
	defer in.Close()
	out, err := exposureStage{ev: 1}.Apply(in)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, [3]uint8{128, 200, 255}, pixel(out, 0, 0), "saturates at full scale")
}

func TestColorControlsZeroSaturationIsGray(t *testing.T) {
	in := solid(10, 120, 240, 2, 2)
	defer in.Close()
	out, err := colorControlsStage{controls: ColorControls{Contrast: 1, Saturation: 0}}.Apply(in)
	require.NoError(t, err)
	defer out.Close()

	p := pixel(out, 0, 0)
	assert.Equal(t, p[0], p[1])
	assert.Equal(t, p[1], p[2])
}

func TestColorControlsContrastPivotsOnMidGray(t *testing.T) {
	in := solid(128, 64, 192, 2, 2)
	defer in.Close()
	out, err := colorControlsStage{controls: ColorControls{Contrast: 2, Saturation: 1}}.Apply(in)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, [3]uint8{128, 0, 255}, pixel(out, 0, 0))
}

func TestToneCurveTable(t *testing.T) {
	linear := []CurvePoint{{0, 0}, {0.25, 0.25}, {0.5, 0.5}, {0.75, 0.75}, {1, 1}}
	table, err := ToneCurveTable(linear)
	require.NoError(t, err)
	for i, v := range table {
		require.Equal(t, byte(i), v)
	}

	lifted, err := ToneCurveTable([]CurvePoint{{1, 1}, {0, 0.2}})
	require.NoError(t, err)
	assert.Equal(t, byte(51), lifted[0])
	assert.Equal(t, byte(255), lifted[255])
	for i := 1; i < len(lifted); i++ {
		assert.GreaterOrEqual(t, lifted[i], lifted[i-1])
	}

	_, err = ToneCurveTable([]CurvePoint{{0.5, 0.5}})
	assert.Error(t, err)
	_, err = ToneCurveTable([]CurvePoint{{0.5, 0.1}, {0.5, 0.9}})
	assert.Error(t, err)
}

func TestEdgeCompositeDrawsOverSource(t *testing.T) {
	in := solid(0, 0, 0, 20, 20)
	defer in.Close()
	right := in.Region(image.Rect(10, 0, 20, 20))
	right.SetTo(gocv.NewScalar(200, 200, 200, 0))
	right.Close()

	out, err := edgeCompositeStage{edges: EdgeComposite{LowThreshold: 50, HighThreshold: 150, Intensity: 1}}.Apply(in)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, [3]uint8{0, 0, 0}, pixel(out, 2, 10), "flat regions unchanged")
	edge := pixel(out, 9, 10)[0] > 0 || pixel(out, 10, 10)[0] == 255
	assert.True(t, edge, "boundary is highlighted")
}

type failingStage struct{}

func (failingStage) Name() string { return "broken" }
func (failingStage) Apply(gocv.Mat) (gocv.Mat, error) {
	return gocv.NewMat(), errors.New("no output")
}

type emptyStage struct{}

func (emptyStage) Name() string { return "empty" }
func (emptyStage) Apply(gocv.Mat) (gocv.Mat, error) {
	return gocv.NewMat(), nil
}

func TestFailingStageDropsFrame(t *testing.T) {
	in := solid(1, 2, 3, 4, 4)
	defer in.Close()

	for _, stage := range []Stage{failingStage{}, emptyStage{}} {
		p := &Pipeline{ID: "test", stages: []Stage{invertStage{}, stage, invertStage{}}}
		out, err := p.Apply(in)
		assert.ErrorIs(t, err, ErrStageFailed)
		assert.True(t, out.Empty())
		out.Close()
	}
}

func TestEmptyInputFails(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := Apply(Monochrome, empty)
	assert.ErrorIs(t, err, ErrStageFailed)
}

func TestCatalogue(t *testing.T) {
	ids := IDs()
	require.NotEmpty(t, ids)
	assert.Equal(t, None, ids[0])
	assert.Equal(t, ids[1], Next(None))
	assert.Equal(t, None, Next(ids[len(ids)-1]))
	assert.Equal(t, None, Next("missing"))
	assert.True(t, IsValid(Outline))
	assert.False(t, IsValid("sepia"))

	_, err := Lookup("sepia")
	assert.ErrorIs(t, err, ErrUnknownFilter)
}