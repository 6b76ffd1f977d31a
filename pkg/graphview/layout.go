package graphview

import (
	"hash/fnv"
	"math"
)

// Layout names a node-positioning strategy.
type Layout string

const (
	// LayoutCircle spaces nodes evenly on a circle, in insertion order.
	LayoutCircle Layout = "circle"
	// LayoutForce runs a force simulation (repulsion plus edge springs),
	// removes residual overlaps, and scales the result to the viewport.
	LayoutForce Layout = "force"
	// LayoutScatter places each node deterministically from a hash of its
	// identity key, so the same graph always scatters the same way.
	LayoutScatter Layout = "scatter"
)

// Viewport is the drawable area layouts fit into.
type Viewport struct {
	Width, Height float64
}

const (
	forceIterations = 120
	springLength    = 80.0
	repulsion       = 4000.0
	layoutMargin    = 30.0
)

// ApplyLayout recomputes node positions with the chosen strategy. Manual
// repositioning pins the graph; a pinned graph keeps its positions until
// ClearPinned, and ApplyLayout reports whether it ran.
func (m *Model) ApplyLayout(layout Layout, vp Viewport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinned {
		return false
	}
	if len(m.nodeOrder) == 0 {
		return true
	}
	if vp.Width <= 0 {
		vp.Width = 800
	}
	if vp.Height <= 0 {
		vp.Height = 600
	}

	switch layout {
	case LayoutForce:
		m.forceLocked(vp)
	case LayoutScatter:
		m.scatterLocked(vp)
	default:
		m.circleLocked(vp)
	}
	return true
}

func (m *Model) circleLocked(vp Viewport) {
	cx, cy := vp.Width/2, vp.Height/2
	r := math.Min(vp.Width, vp.Height)/2 - layoutMargin
	if r < 1 {
		r = 1
	}
	n := float64(len(m.nodeOrder))
	for i, id := range m.nodeOrder {
		angle := 2 * math.Pi * float64(i) / n
		node := m.nodes[id]
		node.X = cx + r*math.Cos(angle)
		node.Y = cy + r*math.Sin(angle)
	}
}

// scatterLocked derives each position from the node id alone, so layout is
// stable across rebuilds containing the same twins.
func (m *Model) scatterLocked(vp Viewport) {
	for _, id := range m.nodeOrder {
		hx := hash32(id)
		hy := hash32(id + "\x00y")
		node := m.nodes[id]
		node.X = layoutMargin + float64(hx%10000)/10000*(vp.Width-2*layoutMargin)
		node.Y = layoutMargin + float64(hy%10000)/10000*(vp.Height-2*layoutMargin)
	}
}

func (m *Model) forceLocked(vp Viewport) {
	// Deterministic seed positions; the simulation itself is deterministic
	// given identical inputs.
	m.scatterLocked(vp)

	ids := m.nodeOrder
	n := len(ids)
	if n == 1 {
		m.nodes[ids[0]].X = vp.Width / 2
		m.nodes[ids[0]].Y = vp.Height / 2
		return
	}

	for iter := 0; iter < forceIterations; iter++ {
		cooling := 1 - float64(iter)/forceIterations
		dx := make([]float64, n)
		dy := make([]float64, n)

		for i := 0; i < n; i++ {
			a := m.nodes[ids[i]]
			for j := i + 1; j < n; j++ {
				b := m.nodes[ids[j]]
				vx, vy := a.X-b.X, a.Y-b.Y
				distSq := vx*vx + vy*vy
				if distSq < 0.01 {
					distSq = 0.01
					vx = 0.1
				}
				f := repulsion / distSq
				dist := math.Sqrt(distSq)
				dx[i] += f * vx / dist
				dy[i] += f * vy / dist
				dx[j] -= f * vx / dist
				dy[j] -= f * vy / dist
			}
		}

		for _, eid := range m.edgeOrder {
			e := m.edges[eid]
			si, ti := indexOf(ids, e.Source), indexOf(ids, e.Target)
			if si < 0 || ti < 0 {
				continue
			}
			a, b := m.nodes[e.Source], m.nodes[e.Target]
			vx, vy := b.X-a.X, b.Y-a.Y
			dist := math.Hypot(vx, vy)
			if dist < 0.1 {
				dist = 0.1
			}
			f := (dist - springLength) / dist * 0.2
			dx[si] += f * vx
			dy[si] += f * vy
			dx[ti] -= f * vx
			dy[ti] -= f * vy
		}

		for i, id := range ids {
			node := m.nodes[id]
			node.X += dx[i] * cooling * 0.1
			node.Y += dy[i] * cooling * 0.1
		}
	}

	m.removeOverlapsLocked()
	m.fitLocked(vp)
}

// removeOverlapsLocked nudges apart node pairs closer than their combined
// sizes, a few sweeps in insertion order so the result stays deterministic.
func (m *Model) removeOverlapsLocked() {
	ids := m.nodeOrder
	for sweep := 0; sweep < 8; sweep++ {
		moved := false
		for i := 0; i < len(ids); i++ {
			a := m.nodes[ids[i]]
			for j := i + 1; j < len(ids); j++ {
				b := m.nodes[ids[j]]
				minDist := a.Size + b.Size + 4
				vx, vy := b.X-a.X, b.Y-a.Y
				dist := math.Hypot(vx, vy)
				if dist >= minDist {
					continue
				}
				if dist < 0.01 {
					vx, vy, dist = 1, 0, 1
				}
				push := (minDist - dist) / 2
				a.X -= vx / dist * push
				a.Y -= vy / dist * push
				b.X += vx / dist * push
				b.Y += vy / dist * push
				moved = true
			}
		}
		if !moved {
			break
		}
	}
}

// fitLocked scales and centers positions into the viewport.
func (m *Model) fitLocked(vp Viewport) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, id := range m.nodeOrder {
		n := m.nodes[id]
		minX, maxX = math.Min(minX, n.X), math.Max(maxX, n.X)
		minY, maxY = math.Min(minY, n.Y), math.Max(maxY, n.Y)
	}
	spanX, spanY := maxX-minX, maxY-minY
	if spanX < 1 {
		spanX = 1
	}
	if spanY < 1 {
		spanY = 1
	}
	scale := math.Min((vp.Width-2*layoutMargin)/spanX, (vp.Height-2*layoutMargin)/spanY)
	for _, id := range m.nodeOrder {
		n := m.nodes[id]
		n.X = layoutMargin + (n.X-minX)*scale
		n.Y = layoutMargin + (n.Y-minY)*scale
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// palette is the fixed node color set; a model id always maps to the same
// entry so twins of one model share a color across sessions.
var palette = [12]string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2",
	"#59a14f", "#edc948", "#b07aa1", "#ff9da7",
	"#9c755f", "#bab0ac", "#86bcb6", "#d37295",
}

// ColorFor maps a model id onto the palette via FNV-1a.
func ColorFor(modelID string) string {
	return palette[hash32(modelID)%uint32(len(palette))]
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
