// Package design builds the two-group unpaired comparison used by the
// permutation test: the per-subject group-membership matrix, its two
// directional contrasts, and the limits on what a permutation test over that
// cohort can resolve.
package design

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/combin"

	"tbssrun/internal/failure"
	"tbssrun/internal/metric"
)

// Contrast names in matrix row order.
const (
	ControlGreater = "control>patient"
	PatientGreater = "patient>control"
)

// exactBinomialLimit is the largest n for which combin.Binomial stays within
// int64 for every k.
const exactBinomialLimit = 56

// Matrix is the design for controls-then-patients ordering. Row i of EVs
// belongs to the i-th subject of the merged 4D image.
type Matrix struct {
	Controls  int
	Patients  int
	EVs       *mat.Dense
	Contrasts *mat.Dense
}

// Build returns the design for the given group sizes. Both groups need at
// least one subject.
func Build(controls, patients int) (Matrix, error) {
	if controls < 1 || patients < 1 {
		return Matrix{}, fmt.Errorf("design needs at least one control and one patient (got %d controls, %d patients)", controls, patients)
	}
	n := controls + patients
	evs := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		if i < controls {
			evs.Set(i, 0, 1)
		} else {
			evs.Set(i, 1, 1)
		}
	}
	contrasts := mat.NewDense(2, 2, []float64{
		1, -1,
		-1, 1,
	})
	return Matrix{Controls: controls, Patients: patients, EVs: evs, Contrasts: contrasts}, nil
}

// Subjects returns the number of rows in the design.
func (m Matrix) Subjects() int { return m.Controls + m.Patients }

// ContrastNames returns the contrast labels in row order.
func (m Matrix) ContrastNames() []string {
	return []string{ControlGreater, PatientGreater}
}

// UniquePermutations is the number of distinct relabelings of the subjects
// into the two groups, C(n, patients). It is the ceiling on meaningful
// permutations for an unpaired two-group test.
func (m Matrix) UniquePermutations() float64 {
	n := m.Subjects()
	if n <= exactBinomialLimit {
		return float64(combin.Binomial(n, m.Patients))
	}
	return math.Round(combin.GeneralizedBinomial(float64(n), float64(m.Patients)))
}

// MinP is the smallest p-value an exhaustive permutation test can report.
func (m Matrix) MinP() float64 {
	return 1 / m.UniquePermutations()
}

// PermutationCheck compares a requested permutation count to the ceiling.
type PermutationCheck struct {
	Requested int
	Ceiling   float64
	Exceeded  bool
}

// Effective is the number of permutations the toolkit will actually run.
func (c PermutationCheck) Effective() float64 {
	if c.Exceeded {
		return c.Ceiling
	}
	return float64(c.Requested)
}

// CheckPermutations reports whether requested exceeds the unique permutation
// ceiling. Exceeding it is not an error; the toolkit runs every unique
// permutation instead.
func (m Matrix) CheckPermutations(requested int) PermutationCheck {
	ceiling := m.UniquePermutations()
	return PermutationCheck{
		Requested: requested,
		Ceiling:   ceiling,
		Exceeded:  float64(requested) > ceiling,
	}
}

// Validate checks the design against the number of staged volumes of kind.
func (m Matrix) Validate(kind metric.Kind, staged int) error {
	if m.Subjects() != staged {
		return &CohortMismatchError{Metric: kind, Controls: m.Controls, Patients: m.Patients, Staged: staged}
	}
	return nil
}

// Resolvable returns an error when no possible outcome of the permutation
// test could fall below alpha.
func Resolvable(controls, patients int, alpha float64) error {
	m, err := Build(controls, patients)
	if err != nil {
		return err
	}
	if minP := m.MinP(); minP >= alpha {
		return fmt.Errorf("%d controls vs %d patients allow only %.0f unique permutations: smallest attainable p %.4g is not below alpha %.4g",
			controls, patients, m.UniquePermutations(), minP, alpha)
	}
	return nil
}

// CohortMismatchError reports a design whose row count differs from the
// number of staged volumes the comparison would merge.
type CohortMismatchError struct {
	Metric   metric.Kind
	Controls int
	Patients int
	Staged   int
}

func (e *CohortMismatchError) Error() string {
	return fmt.Sprintf("compare-%s: design describes %d subjects (%d controls + %d patients) but %d %s volumes are staged",
		e.Metric, e.Controls+e.Patients, e.Controls, e.Patients, e.Staged, e.Metric)
}

// ErrorKind implements failure.Classifier.
func (e *CohortMismatchError) ErrorKind() string { return failure.KindMismatch }
