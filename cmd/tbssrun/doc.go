// Command tbssrun stages diffusion-tensor metric volumes for a cohort and
// drives the TBSS protocol over them, pausing at each visual QA checkpoint.
//
// Commands:
//
//	tbssrun stage-cohort     collect FA, MD, AD and RD volumes into the pipeline root
//	tbssrun run-pipeline     run the protocol from preprocessing to permutation tests
//	tbssrun verify-order     check cohort and FA/ listing order against the design
//	tbssrun design           write or preview the two-group design files
//	tbssrun status           list recorded runs or show one run's stages
//	tbssrun logs             show or follow the log of a run
//	tbssrun check            run preflight checks
//	tbssrun config           create, show or validate configuration
//
// Exit codes distinguish staging (3), ordering (4), cohort mismatch (5),
// stage failure (6) and declined confirmation (7) from generic errors (1).
package main
