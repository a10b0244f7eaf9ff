// Package cohort models the subjects of a one-against-many TBSS study and the
// ordering invariant the statistical design depends on.
//
// A Cohort is an ordered list of SubjectSpecs. Controls must precede patients
// both in the cohort definition and in every file listing generated from it,
// because the design matrix assigns group membership by position. The
// invariant is never assumed: VerifyOrdering and VerifyListing re-check it
// wherever it matters.
package cohort
