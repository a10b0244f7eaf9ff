// Package pipeline drives the fixed TBSS protocol over a staged cohort:
// preprocessing, registration, skeletonisation and projection of FA, the
// cohort ordering checkpoint, the FA comparison, and then projection and
// comparison of each selected secondary metric on the FA skeleton.
//
// Stages run strictly in order. A stage starts only after the stages it
// depends on have settled, and any failure halts the run, except a cohort
// mismatch detected before a comparison: that comparison is skipped, the
// remaining metrics still run, and the run ends failed naming it.
package pipeline
