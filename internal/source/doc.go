// Package source defines the pull-based contract against the remote
// partitioned log: partition enumeration, connection validation, and
// per-partition cursors with explicit resume positions.
//
// Concrete drivers live in subpackages (kafka). Errors that are safe to
// retry are wrapped with Transient so readers can apply bounded backoff.
package source
