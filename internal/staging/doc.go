// Package staging collects per-subject diffusion metric volumes into the
// canonical pipeline layout.
//
// FA, MD and AD are copied unchanged; RD is derived voxelwise as the mean of
// the L2 and L3 eigenvalue maps. Every subject's source is resolved through
// an explicit glob with a strict ambiguity policy: zero or several matches is
// a MissingInputError, never a silent skip. Subjects are independent and are
// staged by a bounded worker pool; per-subject failures are collected and
// reported together once every subject has been attempted.
package staging
