package geo

import (
	"math"
	"testing"

	"github.com/MythicalCow/lifelink/prng"
	"github.com/stretchr/testify/assert"
)

func TestHaversineZeroDistance(t *testing.T) {
	p := LatLon{Lat: 10, Lon: 20}
	assert.InDelta(t, 0.0, Haversine(p, p), 1e-9)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Roughly 111.32 km per degree of latitude at the equator.
	a := LatLon{Lat: 0, Lon: 0}
	b := LatLon{Lat: 1, Lon: 0}
	d := Haversine(a, b)
	assert.InDelta(t, 111320.0, d, 1000.0)
}

func TestFTMMeasureClampedNonNegative(t *testing.T) {
	rng := prng.NewXorshift32(1)
	for i := 0; i < 1000; i++ {
		d := FTMMeasure(0, rng)
		assert.True(t, d >= 0)
	}
}

func TestTrilaterateRecoversKnownPoint(t *testing.T) {
	// Anchors around origin, target at (0.1, 0.1).
	target := struct{ x, y float64 }{0.1, 0.1}
	anchors := []Anchor{
		{X: 0, Y: 0, Distance: dist(0, 0, target.x, target.y)},
		{X: 1, Y: 0, Distance: dist(1, 0, target.x, target.y)},
		{X: 0, Y: 1, Distance: dist(0, 1, target.x, target.y)},
	}
	x, y, ok := Trilaterate(anchors)
	assert.True(t, ok)
	assert.InDelta(t, target.x, x, 1e-6)
	assert.InDelta(t, target.y, y, 1e-6)
}

func TestTrilaterateRequiresThreeAnchors(t *testing.T) {
	_, _, ok := Trilaterate([]Anchor{{X: 0, Y: 0, Distance: 1}, {X: 1, Y: 0, Distance: 1}})
	assert.False(t, ok)
}

func TestTrilaterateFailsOnColinearAnchors(t *testing.T) {
	anchors := []Anchor{
		{X: 0, Y: 0, Distance: 1},
		{X: 1, Y: 0, Distance: 1},
		{X: 2, Y: 0, Distance: 1},
	}
	_, _, ok := Trilaterate(anchors)
	assert.False(t, ok)
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
