package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ecmcheck/ecmcheck/internal/model"
	"github.com/ecmcheck/ecmcheck/pkg/lorentz"
)

func particle(pdg int32, px, py, pz, e float64) model.Particle {
	return model.Particle{PDG: pdg, Momentum: [3]float64{px, py, pz}, Energy: e}
}

func TestClassifyEmptyEvent(t *testing.T) {
	d := Classify(500, nil)

	assert.Equal(t, int32(0), d.NParticles)
	assert.Equal(t, int32(0), d.NOrigin)
	assert.Equal(t, [2]int32{}, d.QuarkPDG)
	for _, v := range []lorentz.Vector{d.Quarks[0], d.Quarks[1], d.Z, d.Higgs, d.ISR[0], d.ISR[1], d.Sum} {
		assert.True(t, v.IsZero())
	}
	assert.Equal(t, lorentz.Beam(500), d.Beam)
	assert.Equal(t, Matched{}, d.Matched)
}

func TestClassifySinglePositiveQuark(t *testing.T) {
	q := particle(3, 1, 2, 3, 10)
	d := Classify(250, []model.Particle{q})

	assert.Equal(t, int32(1), d.NOrigin)
	assert.Equal(t, int32(3), d.QuarkPDG[0])
	assert.Equal(t, lorentz.FromParticle(q), d.Quarks[0])
	assert.True(t, d.Matched.Quark[0])

	assert.Equal(t, int32(0), d.QuarkPDG[1])
	assert.True(t, d.Quarks[1].IsZero())
	assert.False(t, d.Matched.Quark[1])
	assert.True(t, d.Higgs.IsZero())
	assert.False(t, d.Matched.Higgs)

	// Position 0 is also the first leading slot.
	assert.Equal(t, lorentz.FromParticle(q), d.ISR[0])
	assert.True(t, d.ISR[1].IsZero())
	assert.Equal(t, lorentz.Beam(250), d.Beam)
}

func TestClassifyQuarkPairAndBosonWithOverlay(t *testing.T) {
	a := particle(5, 10, 0, 20, 30)
	b := particle(-5, -10, 0, -20, 30)
	c := particle(PDGHiggs, 0, 1, 2, 125)

	overlay1 := particle(-3, 7, 7, 7, 70)
	overlay1.Overlay = true
	overlay2 := particle(25, 9, 9, 9, 90)
	overlay2.Overlay = true

	particles := []model.Particle{a, overlay1, b, overlay2, c}
	d := Classify(500, particles)

	assert.Equal(t, int32(5), d.NParticles)
	assert.Equal(t, int32(3), d.NOrigin)
	assert.Equal(t, [2]int32{5, -5}, d.QuarkPDG)
	assert.Equal(t, lorentz.FromParticle(a), d.Quarks[0])
	assert.Equal(t, lorentz.FromParticle(b), d.Quarks[1])
	assert.Equal(t, lorentz.FromParticle(c), d.Higgs)
	assert.Equal(t, lorentz.Add(lorentz.FromParticle(a), lorentz.FromParticle(b)), d.Z)

	// Leading slots are the first two parentless entries by position,
	// overlay included.
	assert.Equal(t, lorentz.FromParticle(a), d.ISR[0])
	assert.Equal(t, lorentz.FromParticle(overlay1), d.ISR[1])
}

func TestClassifyLeadingSlotsDuplicateQuarks(t *testing.T) {
	a := particle(5, 1, 0, 0, 5)
	b := particle(-5, -1, 0, 0, 5)
	c := particle(PDGHiggs, 0, 0, 0, 125)

	d := Classify(500, []model.Particle{a, b, c})

	assert.Equal(t, lorentz.FromParticle(a), d.ISR[0])
	assert.Equal(t, lorentz.FromParticle(b), d.ISR[1])
	want := lorentz.Sum(d.Quarks[0], d.Quarks[1], d.Higgs, d.ISR[0], d.ISR[1])
	assert.Equal(t, want, d.Sum)
	assert.Equal(t, lorentz.New(0, 0, 0, 145), d.Sum)
}

func TestClassifySumIsRecomputable(t *testing.T) {
	events := [][]model.Particle{
		nil,
		{particle(22, 0, 0, 10, 10), particle(22, 0, 0, -5, 5), particle(1, 3, 0, 0, 3), particle(-1, -3, 0, 0, 3)},
		{particle(2, 1, 1, 1, 2), particle(25, 0, 0, 0, 125), particle(-2, 2, 2, 2, 4), particle(11, 1, 0, 0, 1)},
	}
	for _, ps := range events {
		d := Classify(500, ps)
		assert.Equal(t, lorentz.Sum(d.Quarks[0], d.Quarks[1], d.Higgs, d.ISR[0], d.ISR[1]), d.Sum)
	}
}

func TestClassifyIgnoresDaughtersOfRootParents(t *testing.T) {
	// Index 0 is a Higgs, index 1 a quark produced by it.
	h := particle(PDGHiggs, 0, 0, 0, 125)
	h.Daughters = []int{1, 2}
	q := particle(5, 10, 0, 0, 62)
	q.Parents = []int{0}
	qbar := particle(-5, -10, 0, 0, 62)
	qbar.Parents = []int{0}

	d := Classify(500, []model.Particle{h, q, qbar})

	assert.Equal(t, int32(1), d.NOrigin)
	assert.False(t, d.Matched.Quark[0])
	assert.False(t, d.Matched.Quark[1])
	assert.True(t, d.Matched.Higgs)
	assert.True(t, d.Matched.ISR[0])
	assert.False(t, d.Matched.ISR[1])
	assert.True(t, d.ISR[1].IsZero())
}

func TestClassifyLastMatchWins(t *testing.T) {
	q1 := particle(1, 1, 0, 0, 1)
	q2 := particle(4, 2, 0, 0, 2)

	d := Classify(500, []model.Particle{q1, q2})

	assert.Equal(t, int32(4), d.QuarkPDG[0])
	assert.Equal(t, lorentz.FromParticle(q2), d.Quarks[0])
	// Both quarks still accumulate into Z.
	assert.Equal(t, lorentz.New(3, 0, 0, 3), d.Z)
}

func TestClassifyOutOfRangeParentCountsAsRoot(t *testing.T) {
	q := particle(2, 1, 0, 0, 1)
	q.Parents = []int{42}

	d := Classify(500, []model.Particle{q})

	assert.Equal(t, int32(0), d.NOrigin)
	assert.True(t, d.Matched.Quark[0])
}

func TestClassifierLogsParticlesAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := New(91.2, WithLogger(zap.New(core)))
	require.Equal(t, 91.2, c.ECM())

	ev := &model.Event{Run: 2, Number: 7}
	d := c.Classify(ev, []model.Particle{particle(1, 0, 0, 1, 1), particle(-1, 0, 0, -1, 1)})

	assert.Equal(t, int32(2), d.Run)
	assert.Equal(t, int32(7), d.Event)
	assert.Equal(t, lorentz.Beam(91.2), d.Beam)
	assert.Equal(t, 2, logs.FilterMessage("particle").Len())
}
