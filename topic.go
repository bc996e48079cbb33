package cy

import (
	"math/bits"

	"go.uber.org/zap"

	"github.com/pavel-kirienko/cy/internal/tree"
)

// Subscription is an application-owned handle returned by Topic.Subscribe.
// Handlers may remove their own subscription or any later one in the list
// during dispatch (see Node.IngestTopicTransfer) but must not touch an
// earlier sibling that dispatch has already visited.
type Subscription struct {
	topic   *Topic
	handler func(Transfer)
	removed bool
}

// Unsubscribe removes this subscription from its topic. Safe to call from
// within the subscription's own handler.
func (s *Subscription) Unsubscribe() {
	if s.removed {
		return
	}
	s.removed = true
	t := s.topic
	for i, other := range t.subscriptions {
		if other == s {
			t.subscriptions = append(t.subscriptions[:i], t.subscriptions[i+1:]...)
			break
		}
	}
	if len(t.subscriptions) == 0 && t.subscribed {
		t.node.platform.TopicUnsubscribe(t.handle, t.subjectID)
		t.subscribed = false
	}
}

// Transfer describes one inbound payload delivered to a topic's
// subscribers.
type Transfer struct {
	SenderNodeID uint16
	TransferID   uint64
	Priority     uint8
	Payload      []byte
	Timestamp    int64
}

// Topic is one locally-known named data stream, per spec component D.
type Topic struct {
	node *Node

	name string
	hash uint64

	evictions  uint64
	subjectID  uint16
	age        uint64
	agedAt     int64
	lastGossip int64
	gossipSeq  uint64

	lastEventTS      int64
	lastLocalEventTS int64

	transferIDCounter uint64
	priority          uint8
	publishing        bool

	lastReceivedTransfer uint64
	subscriptions        []*Subscription
	reassemblyTimeout    int64
	reassemblyExtent     int
	subscribed           bool

	handle TopicHandle

	futuresByTransferID *tree.Tree[uint64, *Future]
}

// Name returns the topic's canonical name.
func (t *Topic) Name() string { return t.name }

// Hash returns the topic's 64-bit name hash.
func (t *Topic) Hash() uint64 { return t.hash }

// Discriminator returns the top 51 bits of the topic's name hash, used by
// transports to detect subject-ID mismatches quickly (spec GLOSSARY).
func (t *Topic) Discriminator() uint64 { return Discriminator(t.hash) }

// SubjectID returns the topic's currently-allocated subject-ID.
func (t *Topic) SubjectID() uint16 { return t.subjectID }

// Evictions returns the topic's local arbitration-loss counter.
func (t *Topic) Evictions() uint64 { return t.evictions }

// Age returns the topic's merge-by-max age counter.
func (t *Topic) Age() uint64 { return t.age }

// IsPublishing reports whether this node publishes on this topic.
func (t *Topic) IsPublishing() bool { return t.publishing }

// IsSubscribed reports whether the transport-level subscription is
// currently active.
func (t *Topic) IsSubscribed() bool { return t.subscribed }

// LastEventTS returns the timestamp of the most recent event (local or
// remote) affecting this topic.
func (t *Topic) LastEventTS() int64 { return t.lastEventTS }

// LastLocalEventTS returns the timestamp of the most recent event that
// caused this node to move or otherwise change local state for this topic.
func (t *Topic) LastLocalEventTS() int64 { return t.lastLocalEventTS }

// Subscribe registers handler to receive inbound transfers on this topic,
// activating the transport-level subscription if it was not already
// active.
func (t *Topic) Subscribe(handler func(Transfer)) (*Subscription, error) {
	if !t.subscribed {
		if err := t.node.platform.TopicSubscribe(t.handle, t.subjectID); err != nil {
			return nil, newErr(KindTransport, "subscribe %q: %w", t.name, err)
		}
		t.subscribed = true
	}
	s := &Subscription{topic: t, handler: handler}
	t.subscriptions = append(t.subscriptions, s)
	return s, nil
}

// Publish publishes payload on this topic's current subject-ID, under
// the topic's next transfer-ID.
func (t *Topic) Publish(deadline int64, payload []byte) error {
	t.publishing = true
	t.ageOnPublish(t.node.platform.Now())
	transferID := t.nextTransferID() & t.node.platform.TransferIDMask()
	if err := t.node.platform.TopicPublish(t.handle, t.subjectID, transferID, deadline, payload); err != nil {
		return newErr(KindTransport, "publish on topic %q: %w", t.name, err)
	}
	return nil
}

// PublishWithFuture publishes payload and registers a Future awaiting a
// peer-to-peer response on RPCServiceIDTopicResponse. See component H.
func (t *Topic) PublishWithFuture(deadline int64, payload []byte, callback func(*Future), userData any) (*Future, error) {
	return t.node.publishWithFuture(t, deadline, payload, callback, userData)
}

func (t *Topic) nextTransferID() uint64 {
	t.transferIDCounter++
	return t.transferIDCounter
}

// ageOnPublish bumps age at most once per elapsed second (spec 4.E "Age
// growth on publish").
func (t *Topic) ageOnPublish(now int64) {
	if now-t.agedAt >= 1_000_000 {
		t.age++
		t.agedAt += 1_000_000
	}
}

// ageOnReceive bumps age unconditionally, once per received transfer.
func (t *Topic) ageOnReceive() {
	t.age++
}

// log2Floor returns floor(log2(v)), or -1 for v == 0 so that an
// unconditioned age always ranks below any observed age.
func log2Floor(v uint64) int {
	if v == 0 {
		return -1
	}
	return bits.Len64(v) - 1
}

// subjectIDForHash computes the subject-ID a topic with the given hash and
// eviction count would occupy: the bijection of spec component D, with
// pinned names bypassing the modular formula entirely.
func subjectIDForHash(hash, evictions uint64) uint16 {
	if IsPinned(hash) {
		return uint16(hash)
	}
	return uint16((hash + evictions) % uint64(SubjectIDDynamicCount))
}

// arbitrationWins implements left_wins(left, right) from spec 4.D, taking
// the (hash, age) pair of each side directly so it can be reused both for
// two local topics and for a local topic versus a remote descriptor known
// only from a heartbeat.
func arbitrationWins(leftHash, leftAge, rightHash, rightAge uint64) bool {
	leftPinned, rightPinned := IsPinned(leftHash), IsPinned(rightHash)
	if leftPinned != rightPinned {
		return leftPinned
	}
	ll, rl := log2Floor(leftAge), log2Floor(rightAge)
	if ll != rl {
		return ll > rl
	}
	return leftHash < rightHash
}

func leftWins(left, right *Topic) bool {
	return arbitrationWins(left.hash, left.age, right.hash, right.age)
}

// scheduleGossipASAP is the "schedule ASAP" gossip primitive of spec 4.D:
// pinned topics get a rank-lowering last_gossip of 1 so that "we also hold
// this slot" announcements never preempt a genuine conflict report (which
// schedules at 0).
func (n *Node) scheduleGossipASAP(t *Topic) {
	n.topicsByGossip.Remove(t)
	if IsPinned(t.hash) {
		t.lastGossip = 1
	} else {
		t.lastGossip = 0
	}
	t.gossipSeq = n.nextSeq()
	n.topicsByGossip.InsertIfAbsent(gossipKey{t.lastGossip, t.gossipSeq}, func() *Topic { return t })
}

// allocate places t into the subject-ID index per the procedure in spec
// 4.D, recursively displacing lower-ranked topics as needed. Termination
// is guaranteed by the pigeonhole argument in spec 4.D ("Termination"),
// given topicCount is kept <= MaxTopicCount at creation time.
func (n *Node) allocate(t *Topic, newEvictions uint64, virgin bool) {
	prevSubjectID := t.subjectID
	wantSubscribed := t.subscribed
	if t.subscribed {
		if err := n.platform.TopicUnsubscribe(t.handle, t.subjectID); err != nil {
			n.logger.Error("failed to unsubscribe before reallocation", zap.String("topic", t.name), zap.Error(err))
		}
		t.subscribed = false
	}
	if !virgin {
		n.topicsBySubjectID.Remove(t)
	}
	t.evictions = newEvictions

	for {
		sid := n.candidateSubjectID(t)
		occupant, inserted := n.topicsBySubjectID.InsertIfAbsent(sid, func() *Topic {
			t.subjectID = sid
			return t
		})
		if inserted || occupant == t {
			break
		}
		if leftWins(t, occupant) {
			n.allocate(occupant, occupant.evictions+1, false)
			continue
		}
		t.evictions++
	}

	if !virgin {
		n.logger.Debug("topic reallocated",
			zap.String("topic", t.name),
			zap.Uint16("old_subject_id", prevSubjectID),
			zap.Uint16("new_subject_id", t.subjectID),
			zap.Uint64("evictions", t.evictions),
		)
	}

	n.scheduleGossipASAP(t)

	if wantSubscribed {
		if err := n.platform.TopicSubscribe(t.handle, t.subjectID); err != nil {
			t.subscribed = false
			n.platform.TopicHandleResubscriptionError(t.handle, err)
			n.logger.Error("failed to resubscribe after reallocation", zap.String("topic", t.name), zap.Error(err))
		} else {
			t.subscribed = true
		}
	}
}

// candidateSubjectID applies preferredTopicOverride (if configured) as a
// full substitute for t.hash in the (hash+evictions) formula, for the
// lifetime of every non-pinned topic, matching cy.c's topic_get_subject_id:
// the override is a compile-time constant that stands in for hash on
// every call, not just the first, so arbitration keeps contending for the
// same subject-ID neighborhood across repeated evictions.
func (n *Node) candidateSubjectID(t *Topic) uint16 {
	if IsPinned(t.hash) {
		return subjectIDForHash(t.hash, t.evictions)
	}
	hash := t.hash
	if n.opts.preferredTopicOverride != nil {
		hash = uint64(*n.opts.preferredTopicOverride)
	}
	return uint16((hash + t.evictions) % uint64(SubjectIDDynamicCount))
}
