package lorentz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecmcheck/ecmcheck/internal/model"
)

func TestAddIsComponentwise(t *testing.T) {
	a := New(1, 2, 3, 10)
	b := New(-1, 0.5, 4, 2)

	assert.Equal(t, New(0, 2.5, 7, 12), Add(a, b))
	assert.Equal(t, Add(a, b), a.Add(b))
	assert.Equal(t, Add(a, b), Add(b, a))
}

func TestZeroIsIdentity(t *testing.T) {
	v := New(1.5, -2, 3, 9)
	assert.Equal(t, v, Add(v, Vector{}))
	assert.True(t, Vector{}.IsZero())
	assert.False(t, v.IsZero())
}

func TestSum(t *testing.T) {
	assert.Equal(t, Vector{}, Sum())
	assert.Equal(t, New(3, 3, 3, 3), Sum(New(1, 1, 1, 1), New(1, 1, 1, 1), New(1, 1, 1, 1)))
}

func TestBeam(t *testing.T) {
	v := Beam(500)
	assert.Equal(t, New(0, 0, 0, 500), v)
	assert.InDelta(t, 500, v.M(), 1e-9)
}

func TestFromParticle(t *testing.T) {
	p := model.Particle{PDG: 3, Momentum: [3]float64{1, 2, 3}, Energy: 4}
	assert.Equal(t, New(1, 2, 3, 4), FromParticle(p))
}

func TestKinematics(t *testing.T) {
	v := New(3, 4, 0, 13)
	assert.InDelta(t, 5, v.Pt(), 1e-12)
	assert.InDelta(t, 5, v.P(), 1e-12)
	assert.InDelta(t, 144, v.M2(), 1e-12)
	assert.InDelta(t, 12, v.M(), 1e-12)

	spacelike := New(0, 0, 5, 3)
	assert.InDelta(t, -4, spacelike.M(), 1e-12)
}
