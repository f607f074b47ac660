// Package classify derives per-event truth quantities from a flat list of
// generated particles: the signal quark pair, the boson candidate, the two
// leading parentless particles used as an ISR proxy, and the nominal beam.
package classify

import (
	"go.uber.org/zap"

	"github.com/ecmcheck/ecmcheck/internal/model"
	"github.com/ecmcheck/ecmcheck/pkg/lorentz"
)

// PDGHiggs is the species code of the boson candidate.
const PDGHiggs = 25

// Derived holds the quantities computed for one event.
// Unmatched slots keep the zero vector and species code 0.
type Derived struct {
	Run   int32
	Event int32

	NParticles int32
	NOrigin    int32

	// QuarkPDG and Quarks: slot 0 is the positive code, slot 1 the negative.
	QuarkPDG [2]int32
	Quarks   [2]lorentz.Vector

	// Z is the sum of the matched quark vectors.
	Z     lorentz.Vector
	Higgs lorentz.Vector
	ISR   [2]lorentz.Vector
	Beam  lorentz.Vector

	// Sum is Quarks[0] + Quarks[1] + Higgs + ISR[0] + ISR[1].
	Sum lorentz.Vector

	// Matched records which slots were filled. It is not persisted.
	Matched Matched
}

// Matched flags the slots that were populated during classification.
type Matched struct {
	Quark [2]bool
	Higgs bool
	ISR   [2]bool
}

// Classify runs the single forward pass over particles.
func Classify(ecm float64, particles []model.Particle) Derived {
	return classify(ecm, particles, nil)
}

// Visit is called for every particle with the values the pass reads.
type Visit func(i int, p model.Particle, parentPDG, daughterPDG int32)

func classify(ecm float64, particles []model.Particle, visit Visit) Derived {
	d := Derived{NParticles: int32(len(particles))}

	for i, p := range particles {
		parentPDG := model.ParentPDG(particles, i)
		daughterPDG := model.DaughterPDG(particles, i)
		if visit != nil {
			visit(i, p, parentPDG, daughterPDG)
		}

		if len(p.Parents) == 0 && !p.Overlay {
			d.NOrigin++
		}

		v := lorentz.FromParticle(p)
		root := parentPDG == 0

		switch {
		case p.PDG > 0 && p.PDG < 10 && root && !p.Overlay:
			d.QuarkPDG[0] = p.PDG
			d.Quarks[0] = v
			d.Z = d.Z.Add(v)
			d.Matched.Quark[0] = true
		case p.PDG > -10 && p.PDG < 0 && root && !p.Overlay:
			d.QuarkPDG[1] = p.PDG
			d.Quarks[1] = v
			d.Z = d.Z.Add(v)
			d.Matched.Quark[1] = true
		case p.PDG == PDGHiggs && root && !p.Overlay:
			d.Higgs = v
			d.Matched.Higgs = true
		}

		// Leading slots are positional and ignore species and overlay.
		if i < 2 && root {
			d.ISR[i] = v
			d.Matched.ISR[i] = true
		}
	}

	d.Sum = lorentz.Sum(d.Quarks[0], d.Quarks[1], d.Higgs, d.ISR[0], d.ISR[1])
	d.Beam = lorentz.Beam(ecm)
	return d
}

// Classifier binds the classification pass to a configured centre-of-mass
// energy.
type Classifier struct {
	ecm    float64
	logger *zap.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger logs every visited particle at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		c.logger = l
	}
}

// New creates a Classifier for the given centre-of-mass energy in GeV.
func New(ecm float64, opts ...Option) *Classifier {
	c := &Classifier{ecm: ecm, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ECM returns the configured centre-of-mass energy.
func (c *Classifier) ECM() float64 { return c.ecm }

// Classify derives the quantities for one event.
func (c *Classifier) Classify(ev *model.Event, particles []model.Particle) Derived {
	var visit Visit
	if ce := c.logger.Check(zap.DebugLevel, "particle"); ce != nil {
		visit = func(i int, p model.Particle, parentPDG, daughterPDG int32) {
			c.logger.Debug("particle",
				zap.Int("index", i),
				zap.Int32("pdg", p.PDG),
				zap.Int32("parent_pdg", parentPDG),
				zap.Int32("daughter_pdg", daughterPDG),
				zap.Int("nparents", len(p.Parents)),
				zap.Int("ndaughters", len(p.Daughters)),
				zap.Bool("overlay", p.Overlay))
		}
	}

	d := classify(c.ecm, particles, visit)
	if ev != nil {
		d.Run = ev.Run
		d.Event = ev.Number
	}
	return d
}
