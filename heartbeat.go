package cy

import (
	"encoding/binary"

	"go.uber.org/zap"
)

const heartbeatHeaderLen = 40

// heartbeatPayload is the decoded form of the wire message in spec 4.E.
type heartbeatPayload struct {
	uptimeSeconds uint32
	opaqueWord    uint32 // low 24 bits significant
	uid           uint64
	hash          uint64
	flags         uint8
	age           uint64 // low 56 bits significant
	nameLen       uint8
	evictions     uint64 // low 40 bits significant
	name          string
}

const (
	heartbeatFlagPublishing uint8 = 1 << 0
	heartbeatFlagSubscribed uint8 = 1 << 1
)

func encodeHeartbeat(p *heartbeatPayload) []byte {
	buf := make([]byte, heartbeatHeaderLen+len(p.name))
	binary.BigEndian.PutUint32(buf[0:4], p.uptimeSeconds)
	buf[4] = byte(p.opaqueWord >> 16)
	buf[5] = byte(p.opaqueWord >> 8)
	buf[6] = byte(p.opaqueWord)
	buf[7] = 1 // version
	binary.BigEndian.PutUint64(buf[8:16], p.uid)
	binary.BigEndian.PutUint64(buf[16:24], p.hash)
	binary.BigEndian.PutUint64(buf[24:32], uint64(p.flags)<<56|(p.age&0x00ffffffffffffff))
	binary.BigEndian.PutUint64(buf[32:40], uint64(p.nameLen)<<56|(p.evictions&0xffffffffff))
	copy(buf[40:], p.name)
	return buf
}

func decodeHeartbeat(buf []byte) (*heartbeatPayload, error) {
	if len(buf) < heartbeatHeaderLen {
		return nil, newErr(KindArgument, "heartbeat too short: %d bytes", len(buf))
	}
	if buf[7] != 1 {
		return nil, newErr(KindArgument, "unsupported heartbeat version %d", buf[7])
	}
	p := &heartbeatPayload{
		uptimeSeconds: binary.BigEndian.Uint32(buf[0:4]),
		opaqueWord:    uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6]),
		uid:           binary.BigEndian.Uint64(buf[8:16]),
		hash:          binary.BigEndian.Uint64(buf[16:24]),
	}
	w1 := binary.BigEndian.Uint64(buf[24:32])
	p.flags = uint8(w1 >> 56)
	p.age = w1 & 0x00ffffffffffffff

	w2 := binary.BigEndian.Uint64(buf[32:40])
	p.nameLen = uint8(w2 >> 56)
	p.evictions = w2 & 0xffffffffff

	if len(buf) < heartbeatHeaderLen+int(p.nameLen) {
		return nil, newErr(KindArgument, "heartbeat name truncated: want %d have %d", p.nameLen, len(buf)-heartbeatHeaderLen)
	}
	p.name = string(buf[heartbeatHeaderLen : heartbeatHeaderLen+int(p.nameLen)])
	return p, nil
}

// buildHeartbeat serializes t's current state as the payload of an
// outbound heartbeat. Must be called after ageOnPublish so the wire age
// reflects the bump.
func (n *Node) buildHeartbeat(t *Topic, now int64) []byte {
	var flags uint8
	if t.publishing {
		flags |= heartbeatFlagPublishing
	}
	if t.subscribed {
		flags |= heartbeatFlagSubscribed
	}
	return encodeHeartbeat(&heartbeatPayload{
		uptimeSeconds: uint32((now - n.startTS) / 1_000_000),
		opaqueWord:    n.opaqueWord,
		uid:           n.uid,
		hash:          t.hash,
		flags:         flags,
		age:           t.age,
		nameLen:       uint8(len(t.name)),
		evictions:     t.evictions,
		name:          t.name,
	})
}

// onHeartbeat applies the CRDT merge rules of spec 4.E to an inbound
// heartbeat from senderNodeID.
func (n *Node) onHeartbeat(senderNodeID uint16, hb *heartbeatPayload, now int64) {
	local, found := n.topicsByHash.Find(hb.hash)
	if !found {
		n.onHeartbeatUnknownHash(hb, now)
		return
	}

	if local.evictions == hb.evictions {
		if hb.age > local.age {
			local.age = hb.age
		}
		local.lastEventTS = now
		return
	}

	// Divergence: same identity, different allocation.
	mineLage, otherLage := log2Floor(local.age), log2Floor(hb.age)
	localWins := mineLage > otherLage || (mineLage == otherLage && local.evictions > hb.evictions)
	n.logger.Debug("topic divergence detected",
		zap.String("topic", local.name),
		zap.Uint16("sender", senderNodeID),
		zap.Uint64("local_evictions", local.evictions),
		zap.Uint64("remote_evictions", hb.evictions),
		zap.Bool("local_wins", localWins),
	)
	if localWins {
		n.scheduleGossipASAP(local)
		local.lastEventTS = now
		return
	}

	if hb.age > local.age {
		local.age = hb.age
	}
	prevLastGossip, prevGossipSeq := local.lastGossip, local.gossipSeq
	n.allocate(local, hb.evictions, false)
	if local.subjectID == subjectIDForHash(hb.hash, hb.evictions) {
		n.topicsByGossip.Remove(local)
		local.lastGossip, local.gossipSeq = prevLastGossip, prevGossipSeq
		n.topicsByGossip.InsertIfAbsent(gossipKey{local.lastGossip, local.gossipSeq}, func() *Topic { return local })
	}
	local.lastEventTS = now
	local.lastLocalEventTS = now
}

// onHeartbeatUnknownHash handles the case where the remote topic's hash is
// unknown locally: either there is no concern, or a different local topic
// collides with it on subject-ID.
func (n *Node) onHeartbeatUnknownHash(hb *heartbeatPayload, now int64) {
	sid := subjectIDForHash(hb.hash, hb.evictions)
	occupant, found := n.topicsBySubjectID.Find(sid)
	if !found {
		return
	}

	localWins := arbitrationWins(occupant.hash, occupant.age, hb.hash, hb.age)
	n.logger.Debug("subject-id collision with unknown remote topic",
		zap.String("topic", occupant.name),
		zap.Uint16("subject_id", sid),
		zap.Uint64("remote_hash", hb.hash),
		zap.Bool("local_wins", localWins),
	)
	if localWins {
		n.scheduleGossipASAP(occupant)
	} else {
		n.allocate(occupant, occupant.evictions+1, false)
	}
	occupant.lastEventTS = now
	if !localWins {
		occupant.lastLocalEventTS = now
	}
}
