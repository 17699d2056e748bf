package timeseries

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/interp"
)

// Strategy selects the interpolation kernel.
type Strategy string

const (
	Linear  Strategy = "Linear"
	Spline  Strategy = "Spline"
	PChip   Strategy = "PChip"
	Akima1D Strategy = "Akima1D"
)

// Strategies lists every supported kernel.
var Strategies = []Strategy{Linear, Spline, PChip, Akima1D}

// ParseStrategy matches a strategy name case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown interpolation strategy %q", s)
}

// fitter is the part of gonum's interpolators the engine relies on.
type fitter interface {
	Fit(xs, ys []float64) error
	Predict(x float64) float64
}

// minSmoothPoints is the smallest control set the cubic kernels are fitted on.
// Shorter series fall back to linear.
const minSmoothPoints = 4

func newFitter(s Strategy, n int) fitter {
	if n < minSmoothPoints {
		return &interp.PiecewiseLinear{}
	}
	switch s {
	case Spline:
		return &interp.NotAKnotCubic{}
	case PChip:
		return &interp.FritschButland{}
	case Akima1D:
		return &interp.AkimaSpline{}
	default:
		return &interp.PiecewiseLinear{}
	}
}

// Interpolator completes raw meter readings onto the 15-minute grid.
type Interpolator struct {
	strategy Strategy
}

// NewInterpolator creates an interpolator for the given strategy.
func NewInterpolator(strategy Strategy) *Interpolator {
	return &Interpolator{strategy: strategy}
}

// Strategy returns the configured kernel.
func (i *Interpolator) Strategy() Strategy {
	return i.strategy
}

// Complete evaluates the chosen interpolant at every point of Grid. Points
// outside the raw span get the kernel's own extrapolation.
func (i *Interpolator) Complete(raw Series) (Series, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	origin := raw[0].Time
	xs := make([]float64, len(raw))
	ys := make([]float64, len(raw))
	for k, p := range raw {
		xs[k] = seconds(p.Time, origin)
		ys[k] = p.Value
	}

	f := newFitter(i.strategy, len(raw))
	if err := f.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fit %s interpolant: %w", i.strategy, err)
	}

	grid := Grid(raw[0].Time, raw[len(raw)-1].Time)
	out := make(Series, len(grid))
	for k, t := range grid {
		v := f.Predict(seconds(t, origin))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[k] = Point{Time: t, Value: v}
	}
	return out, nil
}

func seconds(t, origin time.Time) float64 {
	return t.Sub(origin).Seconds()
}
