package filter

import (
	"fmt"

	"gocv.io/x/gocv"
)

type definition struct {
	id     ID
	name   string
	params Params
}

var definitions = []definition{
	{
		id:   None,
		name: "Original",
	},
	{
		id:   Invert,
		name: "Inverted",
		params: Params{
			Invert: true,
			Color:  ColorControls{Contrast: 1.05, Brightness: 0, Saturation: 1.0},
			Curve:  []CurvePoint{{0, 0}, {0.25, 0.2}, {0.5, 0.5}, {0.75, 0.8}, {1, 1}},
		},
	},
	{
		id:   HighContrast,
		name: "High Contrast",
		params: Params{
			Exposure: 0.3,
			Color:    ColorControls{Contrast: 1.4, Brightness: 0, Saturation: 1.2},
			Curve:    []CurvePoint{{0, 0}, {0.25, 0.15}, {0.5, 0.5}, {0.75, 0.85}, {1, 1}},
		},
	},
	{
		id:   NightVision,
		name: "Night Vision",
		params: Params{
			Exposure: 1.0,
			Color:    ColorControls{Contrast: 1.1, Brightness: 0.05, Saturation: 0},
			Curve:    []CurvePoint{{0, 0.05}, {0.25, 0.4}, {0.5, 0.65}, {0.75, 0.85}, {1, 1}},
		},
	},
	{
		id:   Monochrome,
		name: "Monochrome",
		params: Params{
			Color: ColorControls{Contrast: 1.2, Brightness: 0, Saturation: 0},
			Curve: []CurvePoint{{0, 0}, {0.25, 0.22}, {0.5, 0.5}, {0.75, 0.78}, {1, 1}},
		},
	},
	{
		id:   XRay,
		name: "X-Ray",
		params: Params{
			Invert:   true,
			Exposure: 0.5,
			Color:    ColorControls{Contrast: 1.3, Brightness: -0.05, Saturation: 0},
			Curve:    []CurvePoint{{0, 0}, {0.25, 0.1}, {0.5, 0.45}, {0.75, 0.85}, {1, 1}},
		},
	},
	{
		id:   Outline,
		name: "Outline",
		params: Params{
			Color: ColorControls{Contrast: 1.0, Brightness: 0, Saturation: 0.8},
			Edges: &EdgeComposite{LowThreshold: 50, HighThreshold: 150, Intensity: 1.0},
		},
	},
}

var (
	pipelines = make(map[ID]*Pipeline, len(definitions))
	order     = make([]ID, 0, len(definitions))
)

func init() {
	for _, d := range definitions {
		p, err := newPipeline(d.id, d.name, d.params)
		if err != nil {
			panic(fmt.Sprintf("invalid filter table: %v", err))
		}
		pipelines[d.id] = p
		order = append(order, d.id)
	}
}

// Lookup returns the pipeline registered under id
func Lookup(id ID) (*Pipeline, error) {
	p, ok := pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, id)
	}
	return p, nil
}

// IsValid reports whether id names a pipeline
func IsValid(id ID) bool {
	_, ok := pipelines[id]
	return ok
}

// IDs lists every filter in display order
func IDs() []ID {
	return append([]ID(nil), order...)
}

// Next returns the filter after id in display order, wrapping around
func Next(id ID) ID {
	for i, candidate := range order {
		if candidate == id {
			return order[(i+1)%len(order)]
		}
	}
	return order[0]
}

// Apply runs the pipeline for id over input
func Apply(id ID, input gocv.Mat) (gocv.Mat, error) {
	p, err := Lookup(id)
	if err != nil {
		return gocv.NewMat(), err
	}
	return p.Apply(input)
}
