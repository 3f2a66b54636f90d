// Package phi provides the tuning constants used by drive curves and plan scoring.
// Defaults trace back to powers of the golden ratio instead of hand-picked numbers.
package phi

import "math"

// Phi is the golden ratio.
const Phi = 1.6180339887498948

var (
	// Agnosis (Φ⁻³) ~0.236: the default weight of cross-drive interference
	// and the base per-second drive decay fraction.
	Agnosis = math.Pow(Phi, -3)

	// Psyche (Φ⁻²) ~0.382: default margin a new plan must beat the running
	// plan by before the decider interrupts it.
	Psyche = math.Pow(Phi, -2)

	// Matter (Φ⁻¹) ~0.618: default time weight in combined plan utility.
	Matter = math.Pow(Phi, -1)

	// Being (Φ¹): steepness of the logistic urgency curve.
	Being = Phi

	// Nous (Φ²): exponent of the steep polynomial urgency curve.
	Nous = math.Pow(Phi, 2)
)

// Completion is the pentad: the default maximum plan tree depth.
const Completion = 5
