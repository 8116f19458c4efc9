package geometry

import (
	iface "NoteDetClient/interface"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const eps = 1e-9

func TestViewingAngles(t *testing.T) {
	c := DefaultCamera()

	h, v := c.ViewingAngles(320, 240)
	assert.InDelta(t, 0, h, eps)
	assert.InDelta(t, -35, Degrees(v), 1e-9)

	h, _ = c.ViewingAngles(640, 240)
	assert.InDelta(t, 30, Degrees(h), 1e-9)
	h, _ = c.ViewingAngles(0, 240)
	assert.InDelta(t, -30, Degrees(h), 1e-9)
}

func TestDirectionAndRotation(t *testing.T) {
	c := DefaultCamera()
	d := c.Direction(320, 240)
	assert.InDelta(t, 0, d.X, eps)
	assert.InDelta(t, math.Sin(Radians(35)), d.Y, eps)
	assert.InDelta(t, math.Cos(Radians(35)), d.Z, eps)
	assert.InDelta(t, 1, d.Norm(), eps)

	assert.InDelta(t, 35, Degrees(c.RotationAngle(320, 240)), 1e-9)
}

func TestPosition(t *testing.T) {
	c := DefaultCamera()
	p := c.Position(320, 240, 10)
	assert.InDelta(t, 8, p.X, eps)
	assert.InDelta(t, 10.5+10*math.Sin(Radians(35)), p.Y, eps)
	assert.InDelta(t, 24+10*math.Cos(Radians(35)), p.Z, eps)

	assert.Equal(t, Vec3{X: 8, Y: 10.5, Z: 24}, c.Position(100, 100, 0))
}

func TestEstimateTorus_HeadOn(t *testing.T) {
	c := DefaultCamera()
	est := c.EstimateTorus(DefaultTorus(), 64, 64, 0)

	half := math.Tan(Radians(3))
	assert.InDelta(t, 0, est.Orientation, eps)
	assert.InDelta(t, 10/(2*half), est.Distance, 1e-9)
	assert.InDelta(t, 0.2, est.Confidence, 1e-9)
}

func TestEstimateTorus_OffAxisIsFarther(t *testing.T) {
	c := DefaultCamera()
	straight := c.EstimateTorus(DefaultTorus(), 64, 32, 0)
	side := c.EstimateTorus(DefaultTorus(), 64, 32, Radians(20))
	assert.Greater(t, side.Distance, straight.Distance)
	assert.Greater(t, straight.Orientation, 0.0)

	assert.Equal(t, Estimate{}, c.EstimateTorus(DefaultTorus(), 0, 10, 0))
}

func TestAnalyze(t *testing.T) {
	c := DefaultCamera()
	a := c.Analyze(DefaultTorus(), iface.Detection{XMin: 288, YMin: 208, XMax: 352, YMax: 272, Confidence: 0.9, Label: "note"})

	assert.InDelta(t, 320, a.CenterX, eps)
	assert.InDelta(t, 240, a.CenterY, eps)
	assert.InDelta(t, 35, Degrees(a.RotationAngle), 1e-9)
	assert.InDelta(t, c.Position(320, 240, a.Estimate.Distance).Z, a.Position.Z, eps)
	assert.Greater(t, a.Estimate.Distance, 0.0)
}
