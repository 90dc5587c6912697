// Package geo provides the positioning math the mesh engine needs:
// great-circle distance, FTM ranging noise, and least-squares
// trilateration from a set of ranged anchors.
package geo

import (
	"math"

	"github.com/MythicalCow/lifelink/prng"
)

const earthRadiusM = 6371000.0

// LatLon is a WGS84 coordinate pair, degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// Haversine returns the great-circle distance between a and b, in meters.
func Haversine(a, b LatLon) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// FTMMeasure simulates a fine-timing-measurement ranging sample: the true
// distance perturbed by Gaussian noise (sigma approx 1.0m), clamped to
// never go negative.
func FTMMeasure(trueDistance float64, rng *prng.Xorshift32) float64 {
	d := trueDistance + rng.Gaussian(0, 1.0)
	if d < 0 {
		d = 0
	}
	return d
}

// Anchor is a ranging reference point: a known planar position and a
// measured distance to the point being located.
type Anchor struct {
	X, Y     float64
	Distance float64
}

// Trilaterate estimates a 2-D position from 3+ ranged anchors by
// linearizing the circle-intersection equations against the first anchor
// and solving the resulting normal equations by Cramer's rule. Returns
// ok=false if fewer than 3 anchors are given or the linear system is
// singular (anchors colinear or coincident).
func Trilaterate(anchors []Anchor) (x, y float64, ok bool) {
	if len(anchors) < 3 {
		return 0, 0, false
	}

	a0 := anchors[0]
	// Build the normal equations for (A^T A) [x y]^T = A^T b from the
	// linearized circle-difference system, accumulating over every
	// anchor pair (0, i).
	var sxx, sxy, syy, sxb, syb float64
	for i := 1; i < len(anchors); i++ {
		ai := anchors[i]
		ax := 2 * (ai.X - a0.X)
		ay := 2 * (ai.Y - a0.Y)
		b := ai.Distance*ai.Distance - a0.Distance*a0.Distance -
			ai.X*ai.X + a0.X*a0.X - ai.Y*ai.Y + a0.Y*a0.Y
		b = -b

		sxx += ax * ax
		sxy += ax * ay
		syy += ay * ay
		sxb += ax * b
		syb += ay * b
	}

	det := sxx*syy - sxy*sxy
	if math.Abs(det) < 1e-9 {
		return 0, 0, false
	}

	x = (sxb*syy - syb*sxy) / det
	y = (sxx*syb - sxy*sxb) / det
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, false
	}
	return x, y, true
}

// ResidualError returns the RMS residual of an estimated position against
// the anchors' measured distances, used by callers to reject a fix whose
// residual is too large.
func ResidualError(x, y float64, anchors []Anchor) float64 {
	if len(anchors) == 0 {
		return 0
	}
	var sum float64
	for _, a := range anchors {
		dx := x - a.X
		dy := y - a.Y
		d := math.Sqrt(dx*dx + dy*dy)
		diff := d - a.Distance
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(anchors)))
}
