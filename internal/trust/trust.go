// Package trust implements the role-scoped Bayesian trust and variance
// trackers described in spec.md §5/§9. These are explicitly constructed
// instances rather than hidden module-load singletons: callers construct
// a Tracker and hand it to whatever records observations (cmd/maestro
// closes over one in its runner.Context.RecordObservation), and tests
// build private copies freely.
package trust

import (
	"sync"
)

// cell is the commutative Bayesian counter for one (modelID, role) pair.
// alpha/beta follow a Beta-distribution posterior: alpha accumulates
// "good" observations, beta accumulates "bad" ones, and mean = alpha /
// (alpha+beta) is the current trust score.
type cell struct {
	alpha float64
	beta  float64
}

func (c cell) mean() float64 {
	total := c.alpha + c.beta
	if total <= 0 {
		return 0.5 // uninformative prior
	}
	return c.alpha / total
}

// priorAlpha/priorBeta give every new cell an uninformative Beta(1,1)
// start (uniform over [0,1]) before any observations arrive.
const (
	priorAlpha = 1.0
	priorBeta  = 1.0
)

// Tracker is the DI-constructed, mutex-protected Bayesian trust tracker.
// One Tracker instance is shared across a run (or a process), not
// recreated per package, so that deltas accumulate across packages.
type Tracker struct {
	mu    sync.Mutex
	cells map[string]cell
}

// NewTracker constructs an empty trust tracker. Call once per process
// (or per test) and pass it to the observation recorder — never reach
// for a package-level global.
func NewTracker() *Tracker {
	return &Tracker{cells: make(map[string]cell)}
}

func key(modelID, role string) string { return role + "|" + modelID }

// Score returns the current trust score in [0,1] for (modelID, role),
// defaulting to the uninformative prior mean (0.5) when unseen.
func (t *Tracker) Score(modelID, role string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cells[key(modelID, role)]
	if !ok {
		return cell{alpha: priorAlpha, beta: priorBeta}.mean()
	}
	return c.mean()
}

// RecordOutcome applies a Bayesian increment from an observed quality
// score in [0,1] (spec.md §4.3 step 5: "Update trust ... by Bayesian
// increment"). qualityScore above 0.5 favors alpha, below favors beta,
// weighted by distance from the midpoint so a clearly-good or
// clearly-bad result moves the posterior faster than a marginal one.
// Returns the signed delta applied to the mean score, for ledger
// recording.
func (t *Tracker) RecordOutcome(modelID, role string, qualityScore float64) float64 {
	if qualityScore < 0 {
		qualityScore = 0
	}
	if qualityScore > 1 {
		qualityScore = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(modelID, role)
	c, ok := t.cells[k]
	if !ok {
		c = cell{alpha: priorAlpha, beta: priorBeta}
	}
	before := c.mean()

	c.alpha += qualityScore
	c.beta += 1 - qualityScore
	t.cells[k] = c

	return c.mean() - before
}

// VarianceTracker tracks per-(modelID, taskType) cost-ratio samples
// (actual/predicted cost) and reports their variance. It records cost
// only, not quality, and no escalation or tuning rule in this module
// reads it. Separate from Tracker because spec.md §5 treats trust
// and variance as two distinct mutable cells, each independently
// commutative.
type VarianceTracker struct {
	mu      sync.Mutex
	samples map[string][]float64
}

// NewVarianceTracker constructs an empty variance tracker.
func NewVarianceTracker() *VarianceTracker {
	return &VarianceTracker{samples: make(map[string][]float64)}
}

const maxSamplesPerCell = 200

func varianceKey(modelID, taskType string) string { return modelID + "|" + taskType }

// Record appends a cost-ratio sample (actualCost/predictedCost) for
// (modelID, taskType), capped to the most recent maxSamplesPerCell
// entries.
func (v *VarianceTracker) Record(modelID, taskType string, costRatio float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := varianceKey(modelID, taskType)
	samples := append(v.samples[k], costRatio)
	if len(samples) > maxSamplesPerCell {
		samples = samples[len(samples)-maxSamplesPerCell:]
	}
	v.samples[k] = samples
}

// Variance returns the population variance of recorded cost ratios for
// (modelID, taskType), or 0 with ok=false when fewer than two samples
// have been recorded.
func (v *VarianceTracker) Variance(modelID, taskType string) (variance float64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	samples := v.samples[varianceKey(modelID, taskType)]
	if len(samples) < 2 {
		return 0, false
	}
	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))

	var sumSq float64
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	return sumSq / float64(len(samples)), true
}
