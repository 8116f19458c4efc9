// Package geometry turns a detection box into angles, distance and a field
// position for a fixed, pitched camera.
package geometry

import (
	iface "NoteDetClient/interface"
	"math"
)

// Camera describes the image and the mounting of the lens. Angles are radians.
type Camera struct {
	ImageWidth  float64 `yaml:"imageWidth"`
	ImageHeight float64 `yaml:"imageHeight"`
	FovX        float64 `yaml:"fovX"`
	FovY        float64 `yaml:"fovY"`
	X           float64 `yaml:"x"`
	Y           float64 `yaml:"y"`
	Z           float64 `yaml:"z"`
	Pitch       float64 `yaml:"pitch"`
}

// Torus is the size of the target ring.
type Torus struct {
	MajorRadius float64 `yaml:"majorRadius"`
	MinorRadius float64 `yaml:"minorRadius"`
}

func Radians(deg float64) float64 { return deg * math.Pi / 180 }
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// DefaultCamera is a 640x480 image, 60x45 degree field of view, mounted at
// (8, 10.5, 24) and pitched 35 degrees down.
func DefaultCamera() Camera {
	return Camera{
		ImageWidth:  640,
		ImageHeight: 480,
		FovX:        Radians(60),
		FovY:        Radians(45),
		X:           8,
		Y:           10.5,
		Z:           24,
		Pitch:       Radians(-35),
	}
}

func DefaultTorus() Torus {
	return Torus{MajorRadius: 5, MinorRadius: 1}
}

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return Vec3{v.X / n, v.Y / n, v.Z / n}
}

// normalize maps a pixel to [-1, 1] on both axes.
func (c Camera) normalize(px, py float64) (float64, float64) {
	return px/c.ImageWidth*2 - 1, py/c.ImageHeight*2 - 1
}

// ViewingAngles returns the horizontal angle off the optical axis and the
// vertical angle including the camera pitch.
func (c Camera) ViewingAngles(px, py float64) (horizontal, vertical float64) {
	nx, ny := c.normalize(px, py)
	horizontal = math.Atan(nx * math.Tan(c.FovX/2))
	vertical = math.Atan(ny*math.Tan(c.FovY/2)) + c.Pitch
	return horizontal, vertical
}

// Direction is the unit ray from the camera through pixel (px, py), rotated
// by the pitch into field coordinates.
func (c Camera) Direction(px, py float64) Vec3 {
	nx, ny := c.normalize(px, py)
	dx := math.Tan(nx * c.FovX / 2)
	dy := math.Tan(ny * c.FovY / 2)
	dz := 1.0
	cos, sin := math.Cos(c.Pitch), math.Sin(c.Pitch)
	return Vec3{
		X: dx,
		Y: cos*dy - sin*dz,
		Z: sin*dy + cos*dz,
	}.Unit()
}

// RotationAngle is the angle between the ray through (px, py) and the field
// Z axis.
func (c Camera) RotationAngle(px, py float64) float64 {
	return math.Acos(c.Direction(px, py).Z)
}

// Position places a point at distance along the ray through (px, py).
func (c Camera) Position(px, py, distance float64) Vec3 {
	d := c.Direction(px, py)
	return Vec3{
		X: c.X + d.X*distance,
		Y: c.Y + d.Y*distance,
		Z: c.Z + d.Z*distance,
	}
}

// Estimate is a distance and tilt guess for a torus. Confidence is 1 when the
// width and height based distances agree and falls to 0 as they diverge.
type Estimate struct {
	Distance    float64
	Orientation float64
	Confidence  float64
}

// EstimateTorus infers distance and tilt from the apparent box size.
// horizontal is the viewing angle from ViewingAngles.
func (c Camera) EstimateTorus(t Torus, width, height, horizontal float64) Estimate {
	if width <= 0 || height <= 0 {
		return Estimate{}
	}
	aspect := width / height
	minAspect := 2 * t.MinorRadius / (2 * (t.MajorRadius + t.MinorRadius))
	maxAspect := 1.0
	norm := (aspect - minAspect) / (maxAspect - minAspect)
	norm = math.Max(0, math.Min(1, norm))
	orientation := math.Acos(norm)

	effectiveDiameter := 2*t.MajorRadius*math.Cos(orientation) + 2*t.MinorRadius*math.Sin(orientation)
	widthAngle := width / c.ImageWidth * c.FovX
	base := effectiveDiameter / (2 * math.Tan(widthAngle/2))
	distance := base / math.Cos(horizontal)

	expectedHeight := 2*(t.MajorRadius+t.MinorRadius)*math.Sin(orientation) + 2*t.MinorRadius*math.Cos(orientation)
	heightAngle := height / c.ImageHeight * c.FovY
	heightDistance := expectedHeight / (2 * math.Tan(heightAngle/2))

	confidence := 1 - math.Min(1, math.Abs(distance-heightDistance)/distance)
	return Estimate{Distance: distance, Orientation: orientation, Confidence: confidence}
}

// Analysis is everything derived from one detection.
type Analysis struct {
	Detection     iface.Detection
	CenterX       float64
	CenterY       float64
	Horizontal    float64
	Vertical      float64
	RotationAngle float64
	Estimate      Estimate
	Position      Vec3
}

func (c Camera) Analyze(t Torus, d iface.Detection) Analysis {
	cx, cy := d.Center()
	x, y := float64(cx), float64(cy)
	h, v := c.ViewingAngles(x, y)
	est := c.EstimateTorus(t, float64(d.XMax-d.XMin), float64(d.YMax-d.YMin), h)
	return Analysis{
		Detection:     d,
		CenterX:       x,
		CenterY:       y,
		Horizontal:    h,
		Vertical:      v,
		RotationAngle: c.RotationAngle(x, y),
		Estimate:      est,
		Position:      c.Position(x, y, est.Distance),
	}
}
