// Package preflight provides readiness checks for the toolkit installation,
// filesystem paths and cohort definition that a pipeline run depends on.
//
// These checks run in two contexts:
//   - run-pipeline calls RunAll before the first stage. If any required check
//     fails, the run stops before hours of registration are spent on a doomed
//     cohort.
//   - The CLI "check" command prints every result.
package preflight
