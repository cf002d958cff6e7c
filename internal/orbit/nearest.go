package orbit

// hitOrder ranks kinds for pointer lookups: small bodies first, the sun last.
func hitOrder(k Kind) int {
	switch k {
	case KindAsteroid, KindComet:
		return 0
	case KindPlanet:
		return 1
	default:
		return 2
	}
}

// FindNearest returns the first body in f whose hit circle contains pointer.
// The hit circle has twice the display radius. Bodies are visited asteroids
// and comets first, then planets, then the sun, each group in registry order,
// so identical inputs always select the same body.
func FindNearest(f *Frame, v View, pointer Point) (Summary, bool) {
	if f == nil {
		return Summary{}, false
	}
	for rank := 0; rank <= 2; rank++ {
		for _, b := range f.Bodies {
			if hitOrder(b.Kind) != rank {
				continue
			}
			p := Project(b, v)
			dx := pointer.X - p.X
			dy := pointer.Y - p.Y
			if dx*dx+dy*dy < 4*b.Radius*b.Radius {
				return summarize(b), true
			}
		}
	}
	return Summary{}, false
}
