package viewport

import (
	"math"
	"testing"
)

// fakeProjector resolves every coordinate to a fixed country code and
// records the last coordinate it was asked about.
type fakeProjector struct {
	code string
	ok   bool
	last Point
}

func (p *fakeProjector) Locate(pt Point) (string, bool) {
	p.last = pt
	return p.code, p.ok
}

func TestWheelClampsZoom(t *testing.T) {
	c := NewController(nil, nil)

	for i := 0; i < 100; i++ {
		c.Wheel(1)
	}
	if got := c.Zoom(); got != MaxZoom {
		t.Errorf("zoom after 100 zoom-ins = %v, want %v", got, MaxZoom)
	}

	for i := 0; i < 100; i++ {
		c.Wheel(-1)
	}
	if got := c.Zoom(); got != MinZoom {
		t.Errorf("zoom after 100 zoom-outs = %v, want %v", got, MinZoom)
	}
}

func TestWheelStepIsExact(t *testing.T) {
	c := NewController(nil, nil)
	c.Wheel(1)
	c.Wheel(1)
	c.Wheel(1)
	if got := c.Zoom(); math.Abs(got-1.6) > 1e-9 {
		t.Errorf("zoom after 3 steps = %v, want 1.6", got)
	}
	c.Wheel(-1)
	c.Wheel(-1)
	c.Wheel(-1)
	if got := c.Zoom(); got != MinZoom {
		t.Errorf("zoom after symmetric zoom-out = %v, want %v", got, MinZoom)
	}
}

func TestZoomOutToMinResetsPan(t *testing.T) {
	c := NewController(nil, nil)
	c.Wheel(1)
	c.Wheel(1)

	c.Press(Point{X: 0, Y: 0})
	c.Move(Point{X: 30, Y: 40})
	c.Release(Point{X: 30, Y: 40})

	if pan := c.Pan(); pan.X != 30 || pan.Y != 40 {
		t.Fatalf("pan after drag = %+v, want {30 40}", pan)
	}

	c.Wheel(-1)
	c.Wheel(-1)

	if got := c.Zoom(); got != MinZoom {
		t.Fatalf("zoom = %v, want %v", got, MinZoom)
	}
	if pan := c.Pan(); pan.X != 0 || pan.Y != 0 {
		t.Errorf("pan after settling at min zoom = %+v, want origin", pan)
	}
}

func TestDragBelowThresholdIsClick(t *testing.T) {
	proj := &fakeProjector{code: "US", ok: true}
	var selected []string
	c := NewController(proj, func(code string) { selected = append(selected, code) })

	c.Wheel(1)
	c.Press(Point{X: 100, Y: 100})
	c.Move(Point{X: 102, Y: 101})
	c.Release(Point{X: 102, Y: 101})

	if len(selected) != 1 || selected[0] != "US" {
		t.Fatalf("selected = %v, want exactly one US", selected)
	}
}

func TestDragAboveThresholdSuppressesClickOnce(t *testing.T) {
	proj := &fakeProjector{code: "DE", ok: true}
	var selected []string
	c := NewController(proj, func(code string) { selected = append(selected, code) })

	c.Wheel(1)

	// Pan of displacement 20: no selection on this release.
	c.Press(Point{X: 0, Y: 0})
	c.Move(Point{X: 20, Y: 0})
	c.Release(Point{X: 20, Y: 0})
	if len(selected) != 0 {
		t.Fatalf("pan release fired region select: %v", selected)
	}

	// The suppression is consumed by the next would-be click...
	c.Press(Point{X: 20, Y: 0})
	c.Release(Point{X: 20, Y: 0})
	if len(selected) != 0 {
		t.Fatalf("suppressed click fired region select: %v", selected)
	}

	// ...and the one after that fires normally.
	c.Press(Point{X: 20, Y: 0})
	c.Release(Point{X: 20, Y: 0})
	if len(selected) != 1 || selected[0] != "DE" {
		t.Fatalf("selected = %v, want exactly one DE", selected)
	}
}

func TestClickUsesInverseTransformedCoordinate(t *testing.T) {
	proj := &fakeProjector{code: "FR", ok: true}
	c := NewController(proj, func(string) {})

	// zoom 1.4, pan (14, 0) via drag.
	c.Wheel(1)
	c.Wheel(1)
	c.Press(Point{X: 0, Y: 0})
	c.Move(Point{X: 14, Y: 0})
	c.Release(Point{X: 14, Y: 0})

	// Consume the post-pan click suppression.
	c.Press(Point{X: 0, Y: 0})
	c.Release(Point{X: 0, Y: 0})

	c.Press(Point{X: 70, Y: 28})
	c.Release(Point{X: 70, Y: 28})

	wantX := (70.0 - 14.0) / 1.4
	wantY := 28.0 / 1.4
	if math.Abs(proj.last.X-wantX) > 1e-9 || math.Abs(proj.last.Y-wantY) > 1e-9 {
		t.Errorf("hit-test coordinate = %+v, want {%v %v}", proj.last, wantX, wantY)
	}
}

func TestClickMissesWhenProjectorFindsNothing(t *testing.T) {
	proj := &fakeProjector{ok: false}
	fired := 0
	c := NewController(proj, func(string) { fired++ })

	c.Press(Point{X: 5, Y: 5})
	c.Release(Point{X: 5, Y: 5})

	if fired != 0 {
		t.Errorf("region select fired %d times over empty ocean, want 0", fired)
	}
}

func TestNoPanAtMinZoom(t *testing.T) {
	c := NewController(nil, nil)

	c.Press(Point{X: 0, Y: 0})
	c.Move(Point{X: 50, Y: 50})
	c.Release(Point{X: 50, Y: 50})

	if pan := c.Pan(); pan.X != 0 || pan.Y != 0 {
		t.Errorf("pan at min zoom = %+v, want origin", pan)
	}
}

func TestMoveWithoutPressIsIgnored(t *testing.T) {
	c := NewController(nil, nil)
	c.Wheel(1)
	c.Move(Point{X: 100, Y: 100})

	if pan := c.Pan(); pan.X != 0 || pan.Y != 0 {
		t.Errorf("pan moved without a press: %+v", pan)
	}
}

func TestReleaseWithoutPressIsIgnored(t *testing.T) {
	fired := 0
	c := NewController(&fakeProjector{code: "US", ok: true}, func(string) { fired++ })
	c.Release(Point{X: 1, Y: 1})
	if fired != 0 {
		t.Errorf("release without press fired region select %d times", fired)
	}
}

func TestTravelAccumulatesAcrossMoves(t *testing.T) {
	// Zig-zag whose net displacement is small but whose accumulated travel
	// is large must classify as a pan.
	proj := &fakeProjector{code: "US", ok: true}
	fired := 0
	c := NewController(proj, func(string) { fired++ })

	c.Wheel(1)
	c.Press(Point{X: 0, Y: 0})
	c.Move(Point{X: 4, Y: 0})
	c.Move(Point{X: 0, Y: 0})
	c.Move(Point{X: 4, Y: 0})
	c.Release(Point{X: 4, Y: 0})

	if fired != 0 {
		t.Errorf("zig-zag drag fired region select %d times, want 0", fired)
	}
}

func TestReset(t *testing.T) {
	c := NewController(nil, nil)
	c.Wheel(1)
	c.Wheel(1)
	c.Press(Point{X: 0, Y: 0})
	c.Move(Point{X: 25, Y: 25})
	c.Release(Point{X: 25, Y: 25})

	c.Reset()

	zoom, pan := c.Transform()
	if zoom != MinZoom || pan.X != 0 || pan.Y != 0 {
		t.Errorf("Transform() after Reset = %v, %+v, want %v at origin", zoom, pan, MinZoom)
	}
}
