package cy

import "go.uber.org/zap"

// Update is the embedder's single entry point to advance time (spec
// component I / driver loop). It is synchronous and non-suspending: no
// goroutines are spawned and no locks are taken, per the concurrency model
// in spec §5. The embedder must call IngestTopicTransfer and
// IngestTopicResponseTransfer for the current tick before calling Update,
// so their effects are visible here.
func (n *Node) Update(now int64) error {
	n.sweepFutures(now)

	if n.nodeIDCollisionPending {
		n.logger.Debug("node-id collision detected, reverting to auto-allocation", zap.Uint16("node_id", n.nodeID))
		n.platform.NodeIDClear()
		n.nodeID = NodeIDUnset
		n.nodeIDCollisionPending = false
		n.scheduleGossipASAP(n.heartbeatTopic)
	}

	if now < n.nextHeartbeat {
		return nil
	}

	if n.nodeID == NodeIDUnset {
		if err := n.claimNodeID(); err != nil {
			return err
		}
	}

	if err := n.publishHeartbeat(now); err != nil {
		return err
	}
	n.advanceHeartbeatDeadline(now)
	return nil
}
