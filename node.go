package cy

import (
	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/pavel-kirienko/cy/internal/tree"
)

// Node is one participant instance: the "core" value of spec §9 that owns
// all indices and state. Multiple independent Nodes can coexist; there is
// no global mutable state.
type Node struct {
	platform Platform
	opts     *Options
	logger   *zap.Logger

	uid         uint64
	nodeID      uint16
	namespace   string
	displayName string
	opaqueWord  uint32

	startTS          int64
	lastEventTS      int64
	lastLocalEventTS int64

	nodeIDCollisionPending bool

	heartbeatTopic              *Topic
	nextHeartbeat               int64
	heartbeatPeriodMax          int64
	heartbeatFullCyclePeriodMax int64

	topicsByHash      *tree.Tree[uint64, *Topic]
	topicsBySubjectID *tree.Tree[uint16, *Topic]
	topicsByGossip    *tree.Tree[gossipKey, *Topic]
	futuresByDeadline *tree.Tree[deadlineKey, *Future]

	topicCount int
	seq        uint64

	// UserData is an opaque slot for embedder state, never inspected by
	// this package.
	UserData any
}

// validateConfig collects every violation in cfg rather than stopping at
// the first, so a caller fixing one mistake doesn't uncover the next one
// only on the following attempt.
func validateConfig(cfg Config) error {
	var errs error
	checks := []struct {
		bad bool
		msg string
	}{
		{cfg.Platform == nil, "Config.Platform is required"},
		{cfg.UID == 0, "Config.UID must be non-zero"},
	}
	for _, c := range checks {
		if c.bad {
			errs = multierror.Append(errs, newErr(KindArgument, c.msg))
		}
	}
	return errs
}

// Create constructs a Node, claiming (or scheduling the auto-allocation
// of) a node-ID and creating the pinned heartbeat topic, per spec
// components G and D.
func Create(cfg Config, opts ...Option) (*Node, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	now := cfg.Platform.Now()

	n := &Node{
		platform:                    cfg.Platform,
		opts:                        o,
		logger:                      logger,
		uid:                         cfg.UID,
		nodeID:                      NodeIDUnset,
		namespace:                   cfg.Namespace,
		displayName:                 cfg.Name,
		startTS:                     now,
		heartbeatPeriodMax:          o.heartbeatPeriodMax.Microseconds(),
		heartbeatFullCyclePeriodMax: o.heartbeatFullCyclePeriodMax.Microseconds(),
	}
	n.topicsByHash = tree.New(cmpUint64, func(t *Topic) uint64 { return t.hash })
	n.topicsBySubjectID = tree.New(cmpUint16, func(t *Topic) uint16 { return t.subjectID })
	n.topicsByGossip = tree.New(cmpGossipKey, func(t *Topic) gossipKey { return gossipKey{t.lastGossip, t.gossipSeq} })
	n.futuresByDeadline = tree.New(cmpDeadlineKey, func(f *Future) deadlineKey { return deadlineKey{f.deadline, f.seq} })

	if cfg.NodeID != nil {
		if err := cfg.Platform.NodeIDSet(*cfg.NodeID); err != nil {
			return nil, newErr(KindTransport, "claim configured node-id %d: %w", *cfg.NodeID, err)
		}
		n.nodeID = *cfg.NodeID
		n.nextHeartbeat = now
	} else {
		n.nextHeartbeat = now + n.randRange(1_000_000, 3_000_000)
	}

	// release undoes the transport-side effects of a construction that
	// fails past this point.
	release := func(hb *Topic) {
		if hb != nil {
			_ = cfg.Platform.TopicDestroy(hb.handle)
		}
		if n.nodeID != NodeIDUnset {
			cfg.Platform.NodeIDClear()
		}
	}

	hbName, err := Canonicalize(cfg.Namespace, cfg.Name, o.heartbeatTopicName)
	if err != nil {
		release(nil)
		return nil, err
	}
	hb, err := n.newTopic(hbName)
	if err != nil {
		release(nil)
		return nil, err
	}
	hb.publishing = true
	if _, err := hb.Subscribe(func(Transfer) {}); err != nil {
		release(hb)
		return nil, err
	}
	n.heartbeatTopic = hb

	return n, nil
}

// UID returns the node's 64-bit vendor/product/instance identifier.
func (n *Node) UID() uint64 { return n.uid }

// NodeID returns the currently-claimed node-ID, or NodeIDUnset.
func (n *Node) NodeID() uint16 { return n.nodeID }

// TopicCount returns the number of locally-known topics.
func (n *Node) TopicCount() int { return n.topicCount }

// SetUserWord sets the 24-bit opaque user word carried in every
// outbound heartbeat. Only the low 24 bits are significant.
func (n *Node) SetUserWord(w uint32) { n.opaqueWord = w & 0x00ffffff }

// UserWord returns the value set by SetUserWord.
func (n *Node) UserWord() uint32 { return n.opaqueWord }

// HeartbeatTopic returns the pinned topic this node's heartbeats are
// published on.
func (n *Node) HeartbeatTopic() *Topic { return n.heartbeatTopic }

// rand64 returns a 64-bit value whitened by folding the platform's PRNG
// output together with the local UID, per spec §6 ("the core hashes it
// with the local UID for whitening"). The finalizer is SplitMix64's; it is
// a fixed bit-mixing step, not a hashing concern this repo reaches for a
// library over.
func (n *Node) rand64() uint64 {
	x := n.platform.PRNG() ^ n.uid
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// randRange returns a uniformly-distributed value in [lo, hi].
func (n *Node) randRange(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	span := uint64(hi-lo) + 1
	return lo + int64(n.rand64()%span)
}

// nextSeq returns the next value of the monotonic sequence counter used
// to keep the anti-symmetric gossip-time and deadline indices FIFO-stable
// across equal timestamps.
func (n *Node) nextSeq() uint64 {
	n.seq++
	return n.seq
}

// newTopic creates and allocates a topic under an already-canonicalized
// name.
func (n *Node) newTopic(canonicalName string) (*Topic, error) {
	if n.topicCount >= MaxTopicCount {
		return nil, newErr(KindCapacity, "local topic table full (%d)", MaxTopicCount)
	}
	hash := HashTopicName(canonicalName)
	if _, exists := n.topicsByHash.Find(hash); exists {
		return nil, newErr(KindName, "topic %q already exists locally", canonicalName)
	}

	handle, err := n.platform.TopicNew()
	if err != nil {
		return nil, newErr(KindTransport, "topic_new: %w", err)
	}

	now := n.platform.Now()
	t := &Topic{
		node:                n,
		name:                canonicalName,
		hash:                hash,
		agedAt:              now,
		handle:              handle,
		futuresByTransferID: tree.New(cmpUint64, func(f *Future) uint64 { return f.transferIDMasked }),
	}
	n.topicsByHash.InsertIfAbsent(hash, func() *Topic { return t })
	n.topicCount++
	n.allocate(t, 0, true)
	return t, nil
}

// NewTopic canonicalizes rawName against the node's namespace and display
// name, then creates a new local topic.
func (n *Node) NewTopic(rawName string) (*Topic, error) {
	canon, err := Canonicalize(n.namespace, n.displayName, rawName)
	if err != nil {
		return nil, err
	}
	return n.newTopic(canon)
}

// DestroyTopic removes t from all indices, tears down its transport
// state, and cancels every future still outstanding on it. This resolves
// the topic_destroy open question in spec §9: futures are cancelled
// (callback not fired) rather than failed, since a destroyed topic is an
// application-driven teardown, not a response timeout.
func (n *Node) DestroyTopic(t *Topic) error {
	n.topicsByHash.Remove(t)
	n.topicsBySubjectID.Remove(t)
	n.topicsByGossip.Remove(t)

	var errs error
	if t.subscribed {
		if err := n.platform.TopicUnsubscribe(t.handle, t.subjectID); err != nil {
			errs = multierror.Append(errs, newErr(KindTransport, "topic_unsubscribe: %w", err))
		}
		t.subscribed = false
	}
	t.subscriptions = nil

	for {
		f, ok := t.futuresByTransferID.Min()
		if !ok {
			break
		}
		f.state = FutureCancelled
		t.futuresByTransferID.RemoveKey(f.transferIDMasked)
		n.futuresByDeadline.RemoveKey(deadlineKey{f.deadline, f.seq})
	}

	if err := n.platform.TopicDestroy(t.handle); err != nil {
		errs = multierror.Append(errs, newErr(KindTransport, "topic_destroy: %w", err))
	}
	n.topicCount--
	if errs != nil {
		n.logger.Error("topic teardown hook failed", zap.String("topic", t.name), zap.Error(errs))
	}
	return errs
}

// IngestTopicTransfer is the embedder's entry point for an inbound data
// transfer on subjectID. Heartbeat-topic transfers are routed to the CRDT
// merge handler; all others age the topic and dispatch to subscribers.
func (n *Node) IngestTopicTransfer(subjectID uint16, senderNodeID uint16, transferID uint64, priority uint8, now int64, payload []byte) error {
	if n.nodeID != NodeIDUnset && senderNodeID == n.nodeID {
		n.nodeIDCollisionPending = true
	}
	n.markNeighbor(senderNodeID, now)

	t, ok := n.topicsBySubjectID.Find(subjectID)
	if !ok {
		return nil
	}

	if t == n.heartbeatTopic {
		hb, err := decodeHeartbeat(payload)
		if err != nil {
			return err
		}
		n.onHeartbeat(senderNodeID, hb, now)
		return nil
	}

	t.ageOnReceive()
	t.lastReceivedTransfer = transferID
	t.lastEventTS = now

	transfer := Transfer{SenderNodeID: senderNodeID, TransferID: transferID, Priority: priority, Payload: payload, Timestamp: now}
	snapshot := append([]*Subscription(nil), t.subscriptions...)
	for _, s := range snapshot {
		if s.removed {
			continue
		}
		s.handler(transfer)
	}
	return nil
}
