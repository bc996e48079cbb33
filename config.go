package cy

import "go.uber.org/zap"

// Config holds the parameters fixed for a Node's lifetime, passed once to
// Create. Platform and UID are required (Create rejects a Config lacking
// either); the other fields are optional.
type Config struct {
	// Platform is the embedder's capability dispatch table. Required.
	Platform Platform

	// UID is an opaque per-instance value folded into the local node's
	// PRNG whitening and carried in every outbound heartbeat; it need not be
	// globally unique, only distinct enough across co-located instances
	// to avoid lock-step PRNG sequences.
	UID uint64

	// Namespace is this node's default topic namespace, used by
	// Canonicalize when a raw name has no leading "/" or "~".
	Namespace string

	// Name is this node's display name, substituted for a leading "~" in
	// raw topic names.
	Name string

	// NodeID optionally pins the local node-ID at construction, skipping
	// auto-allocation (component G). Nil triggers auto-allocation on the
	// first Update call at or after the initial heartbeat deadline, which
	// Create sets 1-3 s after construction.
	NodeID *uint16

	// Logger receives debug and error logs. Nil selects a no-op logger.
	Logger *zap.Logger
}
