// Package engine drives the commit pipeline: it owns the trigger
// registry, sequences the per-action stages (populate old state,
// enrichment fixpoint, validation, persist), evaluates cascade triggers
// after a successful persist, and recursively commits every spawned child
// intent inside the root action's transaction.
//
// Execution is strictly sequential. Triggers are evaluated in registration
// order one at a time; cascade children commit depth-first, never in
// parallel, so the shared transaction sees a single linear history and
// audit events land in causal order. The transaction is owned exclusively
// by the root invocation; descendants receive it but never commit or roll
// it back. The only early unwind is an error propagating up the recursion,
// which rolls back at the root and, when the store classifies the failure
// as transient, retries the entire root call on a fresh transaction up to
// the configured attempt limit.
package engine
