// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// Rectangle describes an axis-aligned region in framebuffer coordinates.
// X and Y are the top-left corner; Width and Height extend right and down
// from there. A Rectangle with negative Width or Height is invalid and
// IsEmpty reports it as empty.
type Rectangle struct {
	X      int
	Y      int
	Width  int
	Height int
}

// NewRectangle constructs a Rectangle from its four components.
func NewRectangle(x, y, width, height int) Rectangle {
	return Rectangle{X: x, Y: y, Width: width, Height: height}
}

// IsEmpty reports whether r covers no area, including the invalid case of
// a negative width or height.
func (r Rectangle) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Area returns the number of pixels covered by r, or 0 if r is empty.
func (r Rectangle) Area() int {
	if r.IsEmpty() {
		return 0
	}
	return r.Width * r.Height
}

// Right returns the X coordinate immediately past r's right edge.
func (r Rectangle) Right() int {
	return r.X + r.Width
}

// Bottom returns the Y coordinate immediately past r's bottom edge.
func (r Rectangle) Bottom() int {
	return r.Y + r.Height
}

// Intersect returns the largest Rectangle contained in both r and other.
// If the two do not overlap, the result IsEmpty.
func (r Rectangle) Intersect(other Rectangle) Rectangle {
	if r.IsEmpty() || other.IsEmpty() {
		return Rectangle{}
	}

	x0 := max(r.X, other.X)
	y0 := max(r.Y, other.Y)
	x1 := min(r.Right(), other.Right())
	y1 := min(r.Bottom(), other.Bottom())

	if x1 <= x0 || y1 <= y0 {
		return Rectangle{}
	}

	return Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Union returns the smallest Rectangle containing both r and other. If one
// operand is empty, the other is returned unchanged.
func (r Rectangle) Union(other Rectangle) Rectangle {
	if r.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return r
	}

	x0 := min(r.X, other.X)
	y0 := min(r.Y, other.Y)
	x1 := max(r.Right(), other.Right())
	y1 := max(r.Bottom(), other.Bottom())

	return Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// ClipTo intersects r with the bounding rectangle (0, 0, width, height),
// the common case of clamping a requested region to framebuffer bounds.
func (r Rectangle) ClipTo(width, height int) Rectangle {
	return r.Intersect(Rectangle{X: 0, Y: 0, Width: width, Height: height})
}
