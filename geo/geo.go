// Package geo provides the axis-aligned 2D primitives shared by the
// spatial index and the session domain.
package geo

// Point is a position in the 2D plane. Its value semantics make it
// usable as a map key.
type Point struct {
	X float32
	Y float32
}

func NewPoint(x, y float32) Point {
	return Point{X: x, Y: y}
}

func (p Point) Add(o Point) Point {
	return Point{X: p.X + o.X, Y: p.Y + o.Y}
}

func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

// Dist2 returns the squared Euclidean distance between p and o.
func (p Point) Dist2(o Point) float32 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	return dx*dx + dy*dy
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
// The right and bottom edges are exclusive: a point lying on either
// belongs to the neighboring rectangle on that side.
type Rect struct {
	Left   float32
	Top    float32
	Width  float32
	Height float32
}

func NewRect(left, top, width, height float32) Rect {
	return Rect{Left: left, Top: top, Width: width, Height: height}
}

// CenteredRect returns the square of the given size centered on the
// origin.
func CenteredRect(size float32) Rect {
	return Rect{Left: -size / 2, Top: -size / 2, Width: size, Height: size}
}

func (r Rect) Right() float32 {
	return r.Left + r.Width
}

func (r Rect) Bottom() float32 {
	return r.Top + r.Height
}

func (r Rect) Center() Point {
	return Point{X: r.Left + r.Width/2, Y: r.Top + r.Height/2}
}

// Contains reports whether p lies within r, inclusive on the left and
// top edges, exclusive on the right and bottom ones.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X < r.Right() &&
		p.Y >= r.Top && p.Y < r.Bottom()
}

// ContainsRect reports whether o lies entirely within r.
func (r Rect) ContainsRect(o Rect) bool {
	return o.Left >= r.Left && o.Right() <= r.Right() &&
		o.Top >= r.Top && o.Bottom() <= r.Bottom()
}

// Intersects reports whether r and o overlap. Rectangles that only
// share an edge do not, consistent with the exclusive right/bottom
// convention.
func (r Rect) Intersects(o Rect) bool {
	return r.Left < o.Right() && o.Left < r.Right() &&
		r.Top < o.Bottom() && o.Top < r.Bottom()
}

// Quadrant returns the quarter of r at index i, ordered top-left,
// top-right, bottom-left, bottom-right.
func (r Rect) Quadrant(i int) Rect {
	w := r.Width / 2
	h := r.Height / 2
	q := Rect{Left: r.Left, Top: r.Top, Width: w, Height: h}
	if i&1 != 0 {
		q.Left += w
	}
	if i&2 != 0 {
		q.Top += h
	}
	return q
}
