// Package lorentz provides a minimal energy-momentum four-vector.
package lorentz

import (
	"math"

	"github.com/ecmcheck/ecmcheck/internal/model"
)

// Vector is an energy-momentum four-vector (px, py, pz, E) in GeV.
// The zero value is the additive identity.
type Vector struct {
	Px float64
	Py float64
	Pz float64
	E  float64
}

// New builds a vector from its components.
func New(px, py, pz, e float64) Vector {
	return Vector{Px: px, Py: py, Pz: pz, E: e}
}

// FromParticle builds a vector from a particle's momentum and energy.
func FromParticle(p model.Particle) Vector {
	return Vector{Px: p.Momentum[0], Py: p.Momentum[1], Pz: p.Momentum[2], E: p.Energy}
}

// Beam returns the nominal beam four-momentum (0, 0, 0, ecm).
func Beam(ecm float64) Vector {
	return Vector{E: ecm}
}

// Add returns the componentwise sum a + b.
func Add(a, b Vector) Vector {
	return Vector{Px: a.Px + b.Px, Py: a.Py + b.Py, Pz: a.Pz + b.Pz, E: a.E + b.E}
}

// Add returns v + w.
func (v Vector) Add(w Vector) Vector {
	return Add(v, w)
}

// Sum adds all vectors, returning the zero vector for no arguments.
func Sum(vs ...Vector) Vector {
	var s Vector
	for _, v := range vs {
		s = Add(s, v)
	}
	return s
}

// IsZero reports whether all components are zero.
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// P returns the magnitude of the three-momentum.
func (v Vector) P() float64 {
	return math.Sqrt(v.Px*v.Px + v.Py*v.Py + v.Pz*v.Pz)
}

// Pt returns the transverse momentum.
func (v Vector) Pt() float64 {
	return math.Hypot(v.Px, v.Py)
}

// M2 returns the squared invariant mass E^2 - p^2.
func (v Vector) M2() float64 {
	return v.E*v.E - (v.Px*v.Px + v.Py*v.Py + v.Pz*v.Pz)
}

// M returns the invariant mass. Spacelike vectors give -sqrt(-M2).
func (v Vector) M() float64 {
	m2 := v.M2()
	if m2 < 0 {
		return -math.Sqrt(-m2)
	}
	return math.Sqrt(m2)
}

// Components returns (px, py, pz, E).
func (v Vector) Components() [4]float64 {
	return [4]float64{v.Px, v.Py, v.Pz, v.E}
}
