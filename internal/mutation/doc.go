// Package mutation defines the records that flow through the commit
// pipeline: the Action (one in-flight mutation and its accumulated state),
// the Trigger (a declarative enrichment or cascade rule), and the Event
// (one immutable audit record per pipeline stage outcome).
//
// The package is deliberately free of storage and orchestration concerns.
// Records are constructed here, mutated only by the engine's stage methods,
// and persisted through the audit and store packages.
package mutation
