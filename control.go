package engine

import (
	"math"
	"sort"

	"pipelined.dev/engine/beat"
)

// ParamID identifies a plugin parameter.
type ParamID uint32

// ControlEvent sets a parameter value for a block.
type ControlEvent struct {
	Param ParamID
	Value float64
}

// MergeControls applies injected events on top of dst. An injected event
// replaces the value of the same parameter, later injected events win.
func MergeControls(dst, injected []ControlEvent) []ControlEvent {
	for _, ev := range injected {
		found := false
		for i := range dst {
			if dst[i].Param == ev.Param {
				dst[i].Value = ev.Value
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, ev)
		}
	}
	return dst
}

// CurveType shapes the interpolation towards a point.
type CurveType uint8

// Supported curves.
const (
	Linear CurveType = iota
	Fast
	Slow
)

// CurveRateScale is the curve rate that doubles the curve exponent.
const CurveRateScale = 256

// Point is an automation breakpoint in clip time.
type Point struct {
	Beat      beat.Beat
	Curve     CurveType
	CurveRate int16
	Value     float64
}

func (p Point) shape(t float64) float64 {
	k := 1 + math.Abs(float64(p.CurveRate))/CurveRateScale
	switch p.Curve {
	case Fast:
		return math.Pow(t, 1/k)
	case Slow:
		return math.Pow(t, k)
	}
	return t
}

// Instance places a clip on the timeline: clip position Offset plays at
// Range.From and the clip is cut at Range.To.
type Instance struct {
	Range  beat.Range
	Offset beat.Beat
}

func (i Instance) clip(b beat.Beat) beat.Beat {
	return b - i.Range.From + i.Offset
}

func (i Instance) timeline(b beat.Beat) beat.Beat {
	return b + i.Range.From - i.Offset
}

// Automation drives a parameter with a curve of points. Points must be
// sorted by beat.
type Automation struct {
	Param     ParamID
	Points    []Point
	Instances []Instance
	Muted     bool
}

// Value interpolates the curve at clip position b. Positions outside of the
// points hold the nearest point value.
func (a *Automation) Value(b beat.Beat) float64 {
	if len(a.Points) == 0 {
		return 0
	}
	i := sort.Search(len(a.Points), func(i int) bool {
		return a.Points[i].Beat > b
	})
	switch {
	case i == 0:
		return a.Points[0].Value
	case i == len(a.Points):
		return a.Points[i-1].Value
	}
	left, right := a.Points[i-1], a.Points[i]
	t := float64(b-left.Beat) / float64(right.Beat-left.Beat)
	return left.Value + (right.Value-left.Value)*right.shape(t)
}

// Collect appends the value of the automation at the start of r for the
// first instance that overlaps r.
func (a *Automation) Collect(r beat.Range, dst []ControlEvent) []ControlEvent {
	if a.Muted || len(a.Points) == 0 {
		return dst
	}
	for _, inst := range a.Instances {
		if !inst.Range.Overlaps(r) {
			continue
		}
		at := max(r.From, inst.Range.From)
		return append(dst, ControlEvent{Param: a.Param, Value: a.Value(inst.clip(at))})
	}
	return dst
}
