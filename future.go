package cy

import (
	"encoding/binary"

	"go.uber.org/zap"
)

// Respond sends a response to a future held by destNodeID for topic t,
// over RPCServiceIDTopicResponse. The topic hash is prefixed to payload
// per spec 4.H so the recipient can demultiplex it back to a topic and,
// from there, a future. requestTransferID is the TransferID this node
// observed on the inbound request Transfer that triggered this
// response (spec 4.H "Response delivery" matches by masked transfer-ID,
// which only resolves to the right future if the response echoes the
// request's own transfer-ID back).
func (n *Node) Respond(destNodeID uint16, t *Topic, requestTransferID uint64, deadline int64, payload []byte) error {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[:8], t.hash)
	copy(buf[8:], payload)
	if err := n.platform.Request(destNodeID, RPCServiceIDTopicResponse, requestTransferID, deadline, buf); err != nil {
		n.logger.Error("failed to send response", zap.String("topic", t.name), zap.Uint16("dest", destNodeID), zap.Error(err))
		return newErr(KindTransport, "respond on topic %q: %w", t.name, err)
	}
	return nil
}

// FutureState is the lifecycle state of a Future. The spec's registry
// names three states (pending, success, failure); Cancelled is added here
// as a fourth so cancellation — which must not fire the callback, unlike
// timeout — is observable without overloading Failure.
type FutureState int

const (
	FuturePending FutureState = iota
	FutureSuccess
	FutureFailure
	FutureCancelled
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureSuccess:
		return "success"
	case FutureFailure:
		return "failure"
	case FutureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Future is an application-owned record expecting a peer-to-peer response
// to a specific published message (spec component H).
type Future struct {
	topic            *Topic
	transferIDMasked uint64
	deadline         int64
	seq              uint64
	state            FutureState
	response         []byte
	callback         func(*Future)
	userData         any
}

// Topic returns the topic this future was published on.
func (f *Future) Topic() *Topic { return f.topic }

// TransferIDMasked returns the masked transfer-ID this future's request
// was published under, and under which its response is expected.
func (f *Future) TransferIDMasked() uint64 { return f.transferIDMasked }

// State returns the future's current lifecycle state.
func (f *Future) State() FutureState { return f.state }

// Response returns the response payload once State() == FutureSuccess.
func (f *Future) Response() []byte { return f.response }

// UserData returns the opaque value passed to PublishWithFuture.
func (f *Future) UserData() any { return f.userData }

// Cancel removes the future from both indices without firing its
// callback. A no-op if the future has already reached a terminal state.
func (f *Future) Cancel() {
	if f.state != FuturePending {
		return
	}
	f.state = FutureCancelled
	f.topic.futuresByTransferID.RemoveKey(f.transferIDMasked)
	f.topic.node.futuresByDeadline.RemoveKey(deadlineKey{f.deadline, f.seq})
}

// publishWithFuture implements "Publish-with-future" (spec 4.H):
// transfer-ID registration happens before the transport publish so a
// publish failure leaves no residual registration.
func (n *Node) publishWithFuture(t *Topic, deadline int64, payload []byte, callback func(*Future), userData any) (*Future, error) {
	masked := t.nextTransferID() & n.platform.TransferIDMask()
	f := &Future{topic: t, transferIDMasked: masked, deadline: deadline, callback: callback, userData: userData, state: FuturePending}

	if _, inserted := t.futuresByTransferID.InsertIfAbsent(masked, func() *Future { return f }); !inserted {
		return nil, newErr(KindCapacity, "transfer-id %d already in flight on topic %q", masked, t.name)
	}

	t.publishing = true
	t.ageOnPublish(n.platform.Now())
	if err := n.platform.TopicPublish(t.handle, t.subjectID, masked, deadline, payload); err != nil {
		t.futuresByTransferID.RemoveKey(masked)
		n.logger.Error("failed to publish with future", zap.String("topic", t.name), zap.Error(err))
		return nil, newErr(KindTransport, "publish with future: %w", err)
	}

	f.seq = n.nextSeq()
	n.futuresByDeadline.InsertIfAbsent(deadlineKey{f.deadline, f.seq}, func() *Future { return f })
	return f, nil
}

// IngestTopicResponseTransfer handles an inbound response transfer
// delivered on RPCServiceIDTopicResponse, matching it to an outstanding
// future by topic hash (the payload's first 8 bytes) and masked
// transferID (spec 4.H "Response delivery").
func (n *Node) IngestTopicResponseTransfer(senderNodeID uint16, transferID uint64, payload []byte, now int64) error {
	if n.nodeID != NodeIDUnset && senderNodeID == n.nodeID {
		n.nodeIDCollisionPending = true
	}
	n.markNeighbor(senderNodeID, now)

	if len(payload) < 8 {
		return newErr(KindArgument, "response payload shorter than topic hash")
	}
	hash := binary.BigEndian.Uint64(payload[:8])
	topic, ok := n.topicsByHash.Find(hash)
	if !ok {
		return nil
	}
	masked := transferID & n.platform.TransferIDMask()
	f, ok := topic.futuresByTransferID.Find(masked)
	if !ok {
		return nil
	}

	f.state = FutureSuccess
	f.response = payload[8:]
	topic.futuresByTransferID.RemoveKey(masked)
	n.futuresByDeadline.RemoveKey(deadlineKey{f.deadline, f.seq})
	if f.callback != nil {
		f.callback(f)
	}
	return nil
}

// sweepFutures retires every future whose deadline has passed, invoking
// its callback with state Failure. The minimum is re-read after each
// callback since it may mutate the tree (spec 4.H "Deadline sweep").
func (n *Node) sweepFutures(now int64) {
	for {
		f, ok := n.futuresByDeadline.Min()
		if !ok || f.deadline >= now {
			return
		}
		f.state = FutureFailure
		f.topic.futuresByTransferID.RemoveKey(f.transferIDMasked)
		n.futuresByDeadline.RemoveKey(deadlineKey{f.deadline, f.seq})
		n.logger.Debug("future timed out", zap.String("topic", f.topic.name), zap.Uint64("transfer_id", f.transferIDMasked))
		if f.callback != nil {
			f.callback(f)
		}
	}
}
