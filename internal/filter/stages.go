package filter

import (
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

type invertStage struct{}

func (invertStage) Name() string { return "invert" }

func (invertStage) Apply(input gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	gocv.BitwiseNot(input, &out)
	return out, nil
}

// exposureStage scales intensities by 2^ev
type exposureStage struct {
	ev float64
}

func (exposureStage) Name() string { return "exposure" }

func (s exposureStage) Apply(input gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	input.ConvertToWithParams(&out, input.Type(), float32(math.Exp2(s.ev)), 0)
	return out, nil
}

type colorControlsStage struct {
	controls ColorControls
}

func (colorControlsStage) Name() string { return "color_controls" }

func (s colorControlsStage) Apply(input gocv.Mat) (gocv.Mat, error) {
	saturated := input.Clone()

	if s.controls.Saturation != 1 {
		if input.Channels() != 3 {
			saturated.Close()
			return gocv.NewMat(), fmt.Errorf("saturation needs 3 channels, got %d", input.Channels())
		}

		gray := gocv.NewMat()
		defer gray.Close()
		if err := gocv.CvtColor(input, &gray, gocv.ColorBGRToGray); err != nil {
			saturated.Close()
			return gocv.NewMat(), err
		}
		grayBGR := gocv.NewMat()
		defer grayBGR.Close()
		if err := gocv.CvtColor(gray, &grayBGR, gocv.ColorGrayToBGR); err != nil {
			saturated.Close()
			return gocv.NewMat(), err
		}

		mixed := gocv.NewMat()
		gocv.AddWeighted(input, s.controls.Saturation, grayBGR, 1-s.controls.Saturation, 0, &mixed)
		saturated.Close()
		saturated = mixed
	}
	defer saturated.Close()

	// out = (x - 128) * contrast + 128 + brightness * 255
	alpha := s.controls.Contrast
	beta := 128*(1-alpha) + s.controls.Brightness*255

	out := gocv.NewMat()
	saturated.ConvertToWithParams(&out, saturated.Type(), float32(alpha), float32(beta))
	return out, nil
}

type toneCurveStage struct {
	lut gocv.Mat
}

func newToneCurveStage(points []CurvePoint) (toneCurveStage, error) {
	table, err := ToneCurveTable(points)
	if err != nil {
		return toneCurveStage{}, err
	}
	lut, err := gocv.NewMatFromBytes(1, 256, gocv.MatTypeCV8UC1, table)
	if err != nil {
		return toneCurveStage{}, fmt.Errorf("tone curve lookup table: %w", err)
	}
	return toneCurveStage{lut: lut}, nil
}

func (toneCurveStage) Name() string { return "tone_curve" }

func (s toneCurveStage) Apply(input gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	gocv.LUT(input, s.lut, &out)
	return out, nil
}

// ToneCurveTable expands control points into a 256-entry lookup table by
// piecewise-linear interpolation. Inputs outside the first and last point
// hold the end values.
func ToneCurveTable(points []CurvePoint) ([]byte, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("tone curve needs at least 2 points, got %d", len(points))
	}

	sorted := append([]CurvePoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].X == sorted[i-1].X {
			return nil, fmt.Errorf("tone curve has duplicate x %.3f", sorted[i].X)
		}
	}

	table := make([]byte, 256)
	for i := range table {
		x := float64(i) / 255
		table[i] = toByte(interpolate(sorted, x))
	}
	return table, nil
}

func interpolate(points []CurvePoint, x float64) float64 {
	if x <= points[0].X {
		return points[0].Y
	}
	last := points[len(points)-1]
	if x >= last.X {
		return last.Y
	}
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		if x <= b.X {
			t := (x - a.X) / (b.X - a.X)
			return a.Y + (b.Y-a.Y)*t
		}
	}
	return last.Y
}

func toByte(v float64) byte {
	return byte(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

type edgeCompositeStage struct {
	edges EdgeComposite
}

func (edgeCompositeStage) Name() string { return "edge_composite" }

func (s edgeCompositeStage) Apply(input gocv.Mat) (gocv.Mat, error) {
	if input.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("edge composite needs 3 channels, got %d", input.Channels())
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(input, &gray, gocv.ColorBGRToGray); err != nil {
		return gocv.NewMat(), err
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(s.edges.LowThreshold), float32(s.edges.HighThreshold))

	edgesBGR := gocv.NewMat()
	defer edgesBGR.Close()
	if err := gocv.CvtColor(edges, &edgesBGR, gocv.ColorGrayToBGR); err != nil {
		return gocv.NewMat(), err
	}

	out := gocv.NewMat()
	gocv.AddWeighted(input, 1, edgesBGR, s.edges.Intensity, 0, &out)
	return out, nil
}
