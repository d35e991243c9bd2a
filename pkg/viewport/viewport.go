// Package viewport owns the zoom/pan transform applied to the geographic
// visualization and classifies pointer gestures as clicks or pans.
package viewport

import (
	"math"
	"sync"
)

const (
	// MinZoom and MaxZoom bound the zoom scalar.
	MinZoom = 1.0
	MaxZoom = 5.0

	// ZoomStep is the zoom change applied per wheel event.
	ZoomStep = 0.2

	// ClickThreshold is the maximum total pointer displacement, in screen
	// units, for a press/release sequence to count as a click. Anything
	// larger is a pan.
	ClickThreshold = 5.0
)

// Point is a 2D coordinate, in screen space unless stated otherwise.
type Point struct {
	X float64
	Y float64
}

// Projector maps a map-space coordinate to a geographic region code.
// The controller only supplies the inverse-transformed coordinate; actual
// geometry hit-testing lives with the projection.
type Projector interface {
	Locate(p Point) (code string, ok bool)
}

// Controller holds the viewport transform. It is owned by a single event
// loop; the mutex only guarantees that each input event applies its full
// update atomically before the next read.
type Controller struct {
	mu   sync.Mutex
	zoom float64
	pan  Point

	projector Projector
	onSelect  func(code string)

	pressed       bool
	last          Point
	travel        float64
	suppressClick bool
}

// NewController creates a controller at zoom 1 with no pan. onSelect fires
// when a click lands on a region resolvable by the projector; either
// argument may be nil.
func NewController(projector Projector, onSelect func(code string)) *Controller {
	return &Controller{
		zoom:      MinZoom,
		projector: projector,
		onSelect:  onSelect,
	}
}

// Transform returns the current zoom and pan as one consistent pair.
func (c *Controller) Transform() (zoom float64, pan Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom, c.pan
}

// Zoom returns the current zoom scalar.
func (c *Controller) Zoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

// Pan returns the current pan offset.
func (c *Controller) Pan() Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pan
}

// Wheel applies one wheel event: dir > 0 zooms in by ZoomStep, dir < 0 zooms
// out. The result is clamped to [MinZoom, MaxZoom]; whenever it settles at
// MinZoom the pan resets to the origin.
func (c *Controller) Wheel(dir int) {
	if dir == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	step := ZoomStep
	if dir < 0 {
		step = -ZoomStep
	}
	// Keep zoom on exact step multiples so repeated events cannot drift.
	z := math.Round((c.zoom+step)*10) / 10
	if z > MaxZoom {
		z = MaxZoom
	}
	if z <= MinZoom {
		z = MinZoom
		c.pan = Point{}
	}
	c.zoom = z
}

// Press begins a pointer gesture at p.
func (c *Controller) Press(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressed = true
	c.last = p
	c.travel = 0
}

// Move accumulates pointer motion. Pan only follows the pointer while zoomed
// in; displacement is tracked regardless so release can classify the gesture.
func (c *Controller) Move(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pressed {
		return
	}
	dx := p.X - c.last.X
	dy := p.Y - c.last.Y
	c.travel += math.Hypot(dx, dy)
	if c.zoom > MinZoom {
		c.pan.X += dx
		c.pan.Y += dy
	}
	c.last = p
}

// Release ends the gesture at p and classifies it. A total displacement
// above ClickThreshold is a pan: the region-select callback is suppressed,
// and the suppression is consumed by the very next would-be click. At or
// below the threshold the gesture is a click and the callback fires with the
// projector's hit-test result for the inverse-transformed coordinate.
func (c *Controller) Release(p Point) {
	c.mu.Lock()
	if !c.pressed {
		c.mu.Unlock()
		return
	}
	c.pressed = false

	if c.travel > ClickThreshold {
		c.suppressClick = true
		c.mu.Unlock()
		return
	}
	if c.suppressClick {
		c.suppressClick = false
		c.mu.Unlock()
		return
	}

	projector := c.projector
	onSelect := c.onSelect
	mp := c.toMapLocked(p)
	c.mu.Unlock()

	if projector == nil || onSelect == nil {
		return
	}
	if code, ok := projector.Locate(mp); ok {
		onSelect(code)
	}
}

// Reset returns the viewport to zoom 1 at the origin unconditionally and
// abandons any gesture in progress.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoom = MinZoom
	c.pan = Point{}
	c.pressed = false
	c.travel = 0
}

// ToMap converts a screen coordinate to map space under the current
// transform.
func (c *Controller) ToMap(p Point) Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toMapLocked(p)
}

func (c *Controller) toMapLocked(p Point) Point {
	return Point{
		X: (p.X - c.pan.X) / c.zoom,
		Y: (p.Y - c.pan.Y) / c.zoom,
	}
}
