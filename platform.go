package cy

import "github.com/pavel-kirienko/cy/internal/bloom"

const (
	// NodeIDUnset is the sentinel node-ID meaning "no node-ID allocated".
	NodeIDUnset uint16 = 0xffff

	// RPCServiceIDTopicResponse is the reserved RPC service-ID used to
	// deliver future responses (component H).
	RPCServiceIDTopicResponse uint16 = 510

	// SubjectIDDynamicCount is the size of the dynamic-allocation pool,
	// subject-IDs [0, SubjectIDDynamicCount).
	SubjectIDDynamicCount uint16 = 6144

	// SubjectIDReservedEnd is the exclusive end of the pinned/legacy
	// range [SubjectIDDynamicCount, SubjectIDReservedEnd), and also the
	// exclusive upper bound of valid pinned topic names.
	SubjectIDReservedEnd uint16 = 8192

	// MaxNameLen is the maximum length in bytes of a canonicalized topic
	// name.
	MaxNameLen = 96

	// MaxTopicCount bounds the number of topics a single node may hold
	// locally; enforced on topic creation so the allocator's recursive
	// displacement is guaranteed to terminate (spec component D).
	MaxTopicCount = int(SubjectIDDynamicCount)
)

// TopicHandle is an opaque transport-side handle for a topic, produced by
// Platform.TopicNew and consumed by the other Topic* hooks. The core never
// inspects it.
type TopicHandle any

// Platform is the capability set the core consumes from its embedder: a
// single dispatch-table value injected at construction, per the design
// notes in spec.md §9 ("prefer a single dispatch table value injected at
// construction — not inheritance or dynamic registries").
type Platform interface {
	// Now returns the current monotonic time in microseconds. Must be
	// non-negative at start.
	Now() int64

	// PRNG returns a 64-bit pseudo-random value. The core whitens it by
	// hashing together with the local UID before use.
	PRNG() uint64

	// BufferRelease releases a payload buffer previously handed to the
	// embedder by the core (or vice versa). Double-release must be
	// idempotent.
	BufferRelease(buf []byte)

	// NodeIDSet binds the local node-ID at the transport layer.
	NodeIDSet(nodeID uint16) error
	// NodeIDClear unbinds the local node-ID at the transport layer.
	NodeIDClear()
	// NodeIDBloom returns a borrowed pointer to a Bloom filter whose
	// lifetime outlives the core, used to track observed node-IDs. May
	// return nil, in which case auto-allocation picks a node-ID uniformly
	// at random and observed neighbors are not tracked.
	NodeIDBloom() *bloom.Filter

	// Request sends an RPC request transfer to serviceID on the given
	// destination node, under the given transfer-ID. For topic-response
	// delivery (component H) the caller passes the masked transfer-ID of
	// the original request transfer, so the transport-level echo lets
	// the recipient demultiplex it back to the waiting future.
	Request(destNodeID uint16, serviceID uint16, transferID uint64, deadline int64, payload []byte) error

	// TopicNew allocates transport-side topic state.
	TopicNew() (TopicHandle, error)
	// TopicDestroy frees transport-side topic state.
	TopicDestroy(handle TopicHandle) error
	// TopicPublish publishes payload on subjectID under transferID. The
	// core assigns transferID (a per-topic monotonic counter masked to
	// the transport's width), not the transport, so that a future
	// registered under the same value can be echoed back unambiguously
	// by the remote responder (component H).
	TopicPublish(handle TopicHandle, subjectID uint16, transferID uint64, deadline int64, payload []byte) error
	// TopicSubscribe binds a transport-level subscription to subjectID.
	TopicSubscribe(handle TopicHandle, subjectID uint16) error
	// TopicUnsubscribe tears down the transport-level subscription to
	// subjectID.
	TopicUnsubscribe(handle TopicHandle, subjectID uint16) error
	// TopicHandleResubscriptionError is invoked when a post-reallocation
	// resubscription attempt fails; there are no further internal
	// retries.
	TopicHandleResubscriptionError(handle TopicHandle, err error)

	// NodeIDMax is the largest valid node-ID (127 for CAN, 65534
	// elsewhere).
	NodeIDMax() uint16
	// TransferIDMask is 2^n-1 for the transport's transfer-ID width (31
	// for CAN, 2^64-1 elsewhere).
	TransferIDMask() uint64
}
