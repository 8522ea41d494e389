// Package filter holds the named color-processing pipelines. Every pipeline
// follows one template (invert, exposure, color controls, then a tone curve
// or an edge composite); the filters differ only in their parameter sets.
package filter

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	// ErrUnknownFilter is returned for identifiers missing from the table
	ErrUnknownFilter = errors.New("unknown filter")
	// ErrStageFailed wraps any stage that produced no image
	ErrStageFailed = errors.New("filter stage failed")
)

// ID identifies a filter pipeline
type ID string

const (
	None         ID = "none"
	Invert       ID = "invert"
	HighContrast ID = "high_contrast"
	NightVision  ID = "night_vision"
	Monochrome   ID = "monochrome"
	XRay         ID = "xray"
	Outline      ID = "outline"
)

// CurvePoint is a tone-curve control point, both axes in [0,1]
type CurvePoint struct {
	X, Y float64
}

// ColorControls adjusts contrast around mid-gray, adds brightness (in units
// of full scale) and interpolates saturation between gray (0) and the
// original (1)
type ColorControls struct {
	Contrast   float64
	Brightness float64
	Saturation float64
}

// EdgeComposite detects edges and adds them over the source image
type EdgeComposite struct {
	LowThreshold  float64
	HighThreshold float64
	Intensity     float64
}

// Params is the per-filter data driving the shared template
type Params struct {
	Invert   bool
	Exposure float64 // EV stops
	Color    ColorControls
	Curve    []CurvePoint
	Edges    *EdgeComposite
}

// Stage is a single image transform. Apply never modifies input.
type Stage interface {
	Name() string
	Apply(input gocv.Mat) (gocv.Mat, error)
}

// Pipeline is an immutable named stage sequence
type Pipeline struct {
	ID     ID
	Name   string
	Params Params
	stages []Stage
}

// IsIdentity reports whether the pipeline passes frames through untouched
func (p *Pipeline) IsIdentity() bool {
	return len(p.stages) == 0
}

// Stages returns the stage names in execution order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Apply runs every stage in order. The result is a new Mat owned by the
// caller. If any stage yields no image the whole frame fails.
func (p *Pipeline) Apply(input gocv.Mat) (gocv.Mat, error) {
	if input.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: input image is empty", ErrStageFailed)
	}

	current := input.Clone()
	for _, stage := range p.stages {
		out, err := stage.Apply(current)
		current.Close()

		if err == nil && out.Empty() {
			err = errors.New("empty output")
		}
		if err != nil {
			out.Close()
			return gocv.NewMat(), fmt.Errorf("%w: %s/%s: %v", ErrStageFailed, p.ID, stage.Name(), err)
		}
		current = out
	}
	return current, nil
}

func newPipeline(id ID, name string, params Params) (*Pipeline, error) {
	p := &Pipeline{ID: id, Name: name, Params: params}

	if params.Invert {
		p.stages = append(p.stages, invertStage{})
	}
	if params.Exposure != 0 {
		p.stages = append(p.stages, exposureStage{ev: params.Exposure})
	}
	if params.Color != (ColorControls{Contrast: 1, Saturation: 1}) && params.Color != (ColorControls{}) {
		p.stages = append(p.stages, colorControlsStage{controls: params.Color})
	}
	switch {
	case params.Edges != nil:
		p.stages = append(p.stages, edgeCompositeStage{edges: *params.Edges})
	case len(params.Curve) > 0:
		stage, err := newToneCurveStage(params.Curve)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", id, err)
		}
		p.stages = append(p.stages, stage)
	}
	return p, nil
}
