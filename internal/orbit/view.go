package orbit

import "math"

// Zoom bounds in pixels per AU.
const (
	MinZoom     = 20.0
	MaxZoom     = 500.0
	DefaultZoom = 100.0
)

// View is the render configuration every projection call receives explicitly.
// It is a value: zooming returns a new View and never touches shared state.
type View struct {
	Zoom   float64 `json:"zoom"`
	Center Point   `json:"center"`
}

// DefaultView returns a View at the default zoom centred on the origin.
func DefaultView() View {
	return View{Zoom: DefaultZoom}
}

// NewView returns a View with zoom clamped into [MinZoom, MaxZoom].
// A non-finite or non-positive zoom falls back to DefaultZoom.
func NewView(zoom float64, center Point) View {
	if !(zoom > 0) || math.IsInf(zoom, 0) {
		zoom = DefaultZoom
	}
	return View{Zoom: ClampZoom(zoom), Center: center}
}

// ClampZoom bounds z to [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	return math.Max(MinZoom, math.Min(z, MaxZoom))
}

// Zoomed returns v with its zoom multiplied by factor and clamped.
// Non-finite or non-positive factors leave the zoom unchanged.
func (v View) Zoomed(factor float64) View {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return v
	}
	v.Zoom = ClampZoom(v.Zoom * factor)
	return v
}

// Project returns the screen position of b under v:
//
//	x = a·Z·cos φ,  y = a·Z·√(1−e²)·sin φ
//
// offset by v.Center. φ is treated as a parametric ellipse angle, not solved
// through Kepler's equation, so eccentric bodies do not sweep equal areas.
func Project(b Body, v View) Point {
	if b.Kind == KindSun {
		return v.Center
	}
	r := b.SemiMajorAU * v.Zoom
	return Point{
		X: v.Center.X + r*math.Cos(b.Phase),
		Y: v.Center.Y + r*math.Sqrt(1-b.Eccentricity*b.Eccentricity)*math.Sin(b.Phase),
	}
}

// Ellipse samples the full orbit path of b under v, independent of phase.
// The returned path is closed: the last point repeats the first.
func Ellipse(b Body, v View, segments int) []Point {
	if b.Kind == KindSun {
		return nil
	}
	if segments < 8 {
		segments = 8
	}
	rx := b.SemiMajorAU * v.Zoom
	ry := b.SemiMinorAU() * v.Zoom

	pts := make([]Point, segments+1)
	for i := 0; i < segments; i++ {
		t := 2 * math.Pi * float64(i) / float64(segments)
		pts[i] = Point{X: v.Center.X + rx*math.Cos(t), Y: v.Center.Y + ry*math.Sin(t)}
	}
	pts[segments] = pts[0]
	return pts
}

func positionOf(b Body, v View) Position {
	p := Project(b, v)
	return Position{
		ID:        b.ID,
		Name:      b.Name,
		Kind:      b.Kind,
		X:         p.X,
		Y:         p.Y,
		Radius:    b.Radius,
		Color:     b.Color,
		Hazardous: b.Hazardous,
	}
}
