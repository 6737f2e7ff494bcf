package types

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is one bone's local translation, rotation and scale.
type Transform struct {
	Translation r3.Vec
	Rotation    quat.Number
	Scale       r3.Vec
}

// IdentityTransform has zero translation, identity rotation and unit scale.
func IdentityTransform() Transform {
	return Transform{
		Rotation: quat.Number{Real: 1},
		Scale:    r3.Vec{X: 1, Y: 1, Z: 1},
	}
}

// NewTransform builds a transform with unit scale.
func NewTransform(translation r3.Vec, rotation quat.Number) Transform {
	return Transform{
		Translation: translation,
		Rotation:    rotation,
		Scale:       r3.Vec{X: 1, Y: 1, Z: 1},
	}
}

// NormalizeRotation returns q scaled to unit length. A zero quaternion
// normalises to identity.
func NormalizeRotation(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

func rotationDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// Blend returns the weighted blend of t towards o: translation and scale are
// linear, rotation accumulates along the shortest arc and is renormalised.
// weight 0 yields t, weight 1 yields o.
func (t Transform) Blend(o Transform, weight float64) Transform {
	a := 1 - weight

	rotB := o.Rotation
	// q and -q are the same rotation; pick the one on t's hemisphere.
	if rotationDot(t.Rotation, rotB) < 0 {
		rotB = quat.Scale(-1, rotB)
	}

	return Transform{
		Translation: r3.Add(r3.Scale(a, t.Translation), r3.Scale(weight, o.Translation)),
		Rotation:    NormalizeRotation(quat.Add(quat.Scale(a, t.Rotation), quat.Scale(weight, rotB))),
		Scale:       r3.Add(r3.Scale(a, t.Scale), r3.Scale(weight, o.Scale)),
	}
}

// BlendTransforms blends two equally sized transform arrays element-wise.
// Callers guarantee len(a) == len(b).
func BlendTransforms(a, b []Transform, weight float64) []Transform {
	out := make([]Transform, len(a))
	for i := range a {
		out[i] = a[i].Blend(b[i], weight)
	}
	return out
}
