// Package model defines core data structures for ecmcheck.
package model

// Particle is one generated (Monte Carlo truth) particle.
// Parent and daughter links are indices into the slice of the collection
// the particle belongs to, so a whole event is a flat arena that can be
// dropped after classification.
type Particle struct {
	// PDG is the species code in particle-data-group numbering.
	PDG int32 `json:"pdg"`

	// Parents and Daughters hold indices into the same collection.
	Parents   []int `json:"parents,omitempty"`
	Daughters []int `json:"daughters,omitempty"`

	// Overlay marks particles from background overlay rather than the
	// primary interaction.
	Overlay bool `json:"overlay,omitempty"`

	// Momentum is (px, py, pz) in GeV.
	Momentum [3]float64 `json:"p"`
	Energy   float64    `json:"e"`

	Mass            float64 `json:"mass,omitempty"`
	Charge          float32 `json:"charge,omitempty"`
	GeneratorStatus int32   `json:"genstat,omitempty"`
}

// Event is one collision record holding named particle collections.
type Event struct {
	Run         int32                 `json:"run"`
	Number      int32                 `json:"event"`
	Collections map[string][]Particle `json:"collections"`
}

// RunHeader marks the start of a run.
type RunHeader struct {
	Number      int32  `json:"run"`
	Detector    string `json:"detector,omitempty"`
	Description string `json:"description,omitempty"`
}

// Collection returns the named particle collection and whether it exists.
func (e *Event) Collection(name string) ([]Particle, bool) {
	if e == nil || e.Collections == nil {
		return nil, false
	}
	ps, ok := e.Collections[name]
	return ps, ok
}

// ParentPDG returns the species code of the first parent of particles[i],
// or 0 when the particle has no parent or the link points outside the
// collection.
func ParentPDG(particles []Particle, i int) int32 {
	return firstPDG(particles, particles[i].Parents)
}

// DaughterPDG returns the species code of the first daughter of
// particles[i], or 0 when there is none.
func DaughterPDG(particles []Particle, i int) int32 {
	return firstPDG(particles, particles[i].Daughters)
}

func firstPDG(particles []Particle, links []int) int32 {
	if len(links) == 0 {
		return 0
	}
	j := links[0]
	if j < 0 || j >= len(particles) {
		return 0
	}
	return particles[j].PDG
}
