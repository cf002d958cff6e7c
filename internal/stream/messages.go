package stream

import (
	"time"

	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/sim"
)

// Message payload types shared by the SSE and WebSocket surfaces.

type metadataMessage struct {
	Type             string  `json:"type"`
	CatalogSource    string  `json:"catalog_source,omitempty"`
	CatalogFetchedAt string  `json:"catalog_fetched_at,omitempty"`
	CatalogAge       int     `json:"catalog_age_seconds"`
	FrameRate        int     `json:"frame_rate"`
	Zoom             float64 `json:"zoom"`
	Session          string  `json:"session,omitempty"`
}

type rosterMessage struct {
	Type   string          `json:"type"`
	Bodies []rosterPayload `json:"bodies"`
}

type rosterPayload struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      orbit.Kind `json:"kind"`
	Color     string     `json:"color"`
	Radius    float64    `json:"radius"`
	Hazardous bool       `json:"hazardous,omitempty"`
}

type frameMessage struct {
	Type   string        `json:"type"`
	Seq    uint64        `json:"seq"`
	T      string        `json:"t"`
	Zoom   float64       `json:"zoom"`
	Bodies []bodyPayload `json:"bodies"`
}

type bodyPayload struct {
	ID string       `json:"id"`
	P  [2]float64   `json:"p"`
	Tr [][2]float64 `json:"tr,omitempty"`
}

type viewMessage struct {
	Type   string      `json:"type"`
	Zoom   float64     `json:"zoom"`
	Center orbit.Point `json:"center"`
}

type nearestMessage struct {
	Type    string         `json:"type"`
	Found   bool           `json:"found"`
	Summary *orbit.Summary `json:"summary,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func buildMetadata(st sim.Stats, v orbit.View) metadataMessage {
	m := metadataMessage{
		Type:       "metadata",
		CatalogAge: -1,
		FrameRate:  st.FrameRate,
		Zoom:       v.Zoom,
	}
	if !st.CatalogFetchedAt.IsZero() {
		m.CatalogSource = st.CatalogSource
		m.CatalogFetchedAt = st.CatalogFetchedAt.UTC().Format(time.RFC3339)
		m.CatalogAge = int(time.Since(st.CatalogFetchedAt).Seconds())
	}
	return m
}

func buildRoster(f *orbit.Frame) rosterMessage {
	bodies := make([]rosterPayload, 0, len(f.Bodies))
	for _, b := range f.Bodies {
		bodies = append(bodies, rosterPayload{
			ID:        b.ID,
			Name:      b.Name,
			Kind:      b.Kind,
			Color:     b.Color,
			Radius:    b.Radius,
			Hazardous: b.Hazardous,
		})
	}
	return rosterMessage{Type: "roster", Bodies: bodies}
}

// buildFrameMessage projects f under v. If trail is non-empty, each body
// includes its past projected positions (oldest first).
func buildFrameMessage(f *orbit.Frame, trail []*orbit.Frame, v orbit.View) frameMessage {
	var trailIndex map[string][][2]float64
	if len(trail) > 0 {
		trailIndex = make(map[string][][2]float64, len(f.Bodies))
		for _, tf := range trail {
			for _, b := range tf.Bodies {
				if b.Kind == orbit.KindSun {
					continue
				}
				p := orbit.Project(b, v)
				trailIndex[b.ID] = append(trailIndex[b.ID], [2]float64{p.X, p.Y})
			}
		}
	}

	bodies := make([]bodyPayload, len(f.Bodies))
	for i, b := range f.Bodies {
		p := orbit.Project(b, v)
		bodies[i] = bodyPayload{ID: b.ID, P: [2]float64{p.X, p.Y}}
		if trailIndex != nil {
			if tr, ok := trailIndex[b.ID]; ok {
				bodies[i].Tr = tr
			}
		}
	}
	return frameMessage{
		Type:   "frame",
		Seq:    f.Seq,
		T:      f.At.UTC().Format(time.RFC3339Nano),
		Zoom:   v.Zoom,
		Bodies: bodies,
	}
}

// rosterKey identifies the body set a client last saw.
type rosterKey struct {
	cutovers int64
	bodies   int
}

func keyOf(st sim.Stats, f *orbit.Frame) rosterKey {
	return rosterKey{cutovers: st.Cutovers, bodies: len(f.Bodies)}
}
