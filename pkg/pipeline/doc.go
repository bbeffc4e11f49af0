// Package pipeline wires the TrendFire stages together.
//
// A run goes through these stages, each traced as its own span:
//
//	session   open an authenticated Earth Engine session
//	boundary  load the region of interest (local or sftp://)
//	build     derive the landsat, rain, sm and rh trend images and merge
//	          them into "all"
//	policy    evaluate every export request before any is sent
//	export    submit the requests and record the tasks in the ledger
//
// The first failure aborts the run and is returned as a *PipelineError
// whose class tells transient, throttled, conflict and permanent failures
// apart. Nothing is retried.
package pipeline
