// Package syncerr defines the error taxonomy shared by all sync components.
// Classes, not sentinels, so call sites can wrap with context and callers
// can still classify with Has.
package syncerr

import "github.com/zeebo/errs"

var (
	// SourceUnavailable: warehouse or staging unreachable. Retried with
	// backoff, eventually reported.
	SourceUnavailable = errs.Class("source unavailable")

	// WatermarkInvalid: the watermark references an upstream partition
	// that no longer exists. Triggers a resync, never a plain retry.
	WatermarkInvalid = errs.Class("watermark invalid")

	// TargetUnavailable: relational store unreachable. Retried; the
	// transaction is guaranteed not partially committed.
	TargetUnavailable = errs.Class("target unavailable")

	// CyclicDependency: configuration error, never retried.
	CyclicDependency = errs.Class("cyclic dependency")

	// DeliveryAmbiguous: commit outcome unknown after a connection loss.
	// Resolved by re-checking committed state, never by blind retry.
	DeliveryAmbiguous = errs.Class("delivery ambiguous")
)

// Retryable reports whether err is a transient fault worth a bounded local
// retry. Structural errors and ambiguous deliveries are excluded: the former
// must fail loudly, the latter needs the recovery coordinator.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return SourceUnavailable.Has(err) || TargetUnavailable.Has(err)
}
