package cy

import "go.uber.org/zap"

// nextGossipTopic returns the topic due for gossip soonest: the minimum of
// the gossip-time index (spec component F).
func (n *Node) nextGossipTopic() (*Topic, bool) {
	return n.topicsByGossip.Min()
}

// publishHeartbeat ages, serializes and publishes the heartbeat for the
// next-due topic, then reschedules it to the back of the gossip queue.
func (n *Node) publishHeartbeat(now int64) error {
	t, ok := n.nextGossipTopic()
	if !ok {
		return nil
	}
	t.ageOnPublish(now)
	payload := n.buildHeartbeat(t, now)
	deadline := now + n.heartbeatPeriodMax
	hbt := n.heartbeatTopic
	transferID := hbt.nextTransferID() & n.platform.TransferIDMask()
	n.opts.traceLogger.Debug("gossiping topic",
		zap.String("topic", t.name),
		zap.Uint64("age", t.age),
		zap.Uint64("evictions", t.evictions),
	)
	if err := n.platform.TopicPublish(hbt.handle, hbt.subjectID, transferID, deadline, payload); err != nil {
		n.logger.Error("failed to publish heartbeat", zap.String("topic", t.name), zap.Error(err))
		return newErr(KindTransport, "publish heartbeat: %w", err)
	}

	n.topicsByGossip.Remove(t)
	t.lastGossip = now
	t.gossipSeq = n.nextSeq()
	n.topicsByGossip.InsertIfAbsent(gossipKey{t.lastGossip, t.gossipSeq}, func() *Topic { return t })
	return nil
}

// advanceHeartbeatDeadline moves nextHeartbeat forward by
// min(heartbeatPeriodMax, heartbeatFullCyclePeriodMax/topicCount), so that
// every topic gossips at least once per full-cycle period (spec 4.F). The
// advance is relative to the previous deadline, not to now, so a node that
// falls behind catches up without accumulating phase slip.
func (n *Node) advanceHeartbeatDeadline(now int64) {
	period := n.heartbeatPeriodMax
	if n.topicCount > 0 {
		if full := n.heartbeatFullCyclePeriodMax / int64(n.topicCount); full < period {
			period = full
		}
	}
	if period <= 0 {
		period = 1
	}
	n.nextHeartbeat += period
}
