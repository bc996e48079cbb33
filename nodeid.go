package cy

import (
	"go.uber.org/zap"

	"github.com/pavel-kirienko/cy/internal/bloom"
)

// claimNodeID picks an unused node-ID from the Bloom filter (or uniformly
// at random if the embedder does not supply one) and claims it at the
// transport layer.
func (n *Node) claimNodeID() error {
	bf := n.platform.NodeIDBloom()
	id := n.pickNodeID(bf)
	if err := n.platform.NodeIDSet(id); err != nil {
		n.logger.Error("failed to claim node-id", zap.Uint16("node_id", id), zap.Error(err))
		return newErr(KindTransport, "claim node-id %d: %w", id, err)
	}
	n.nodeID = id
	if bf != nil {
		bf.Set(uint64(id))
	}
	n.logger.Debug("claimed node-id", zap.Uint16("node_id", id))
	return nil
}

// pickNodeID implements the procedure of spec 4.G.
func (n *Node) pickNodeID(bf *bloom.Filter) uint16 {
	max := n.platform.NodeIDMax()
	if bf == nil {
		return uint16(n.randRange(0, int64(max)))
	}

	nBits := bf.NBits()
	limit := int(max) + 1
	if limit > nBits {
		limit = nBits
	}
	numWords := (limit + 63) / 64
	if numWords <= 0 {
		numWords = 1
	}

	startWord := int(n.rand64() % uint64(numWords))
	for i := 0; i < numWords; i++ {
		w := (startWord + i) % numWords
		word := bf.Word(w)
		if word == ^uint64(0) {
			continue
		}
		startBit := int(n.rand64() % 64)
		for b := 0; b < 64; b++ {
			bit := (startBit + b) % 64
			if word&(uint64(1)<<uint(bit)) != 0 {
				continue
			}
			candidate := w*64 + bit
			if candidate > int(max) {
				continue
			}
			return n.spreadCandidate(candidate, nBits, int(max))
		}
	}

	// Filter saturated: fall back to a uniformly random pick in range.
	return uint16(n.randRange(0, int64(max)))
}

// spreadCandidate optionally adds a random multiple of nBits to candidate
// to spread picks beyond the filter's period, never exceeding max. This
// resolves the overflow open question in spec 9: the multiplier is capped
// by integer division rather than discarded wholesale when some smaller
// multiple still fits.
func (n *Node) spreadCandidate(candidate, nBits, max int) uint16 {
	maxMultiplier := (max - candidate) / nBits
	if maxMultiplier <= 0 {
		return uint16(candidate)
	}
	mult := n.randRange(0, int64(maxMultiplier))
	return uint16(candidate + int(mult)*nBits)
}

// markNeighbor records an observed sender node-ID and applies the
// congestion purge and CSMA/CD-style back-off of spec 4.G. Called on every
// inbound transfer, regardless of kind.
func (n *Node) markNeighbor(senderNodeID uint16, now int64) {
	bf := n.platform.NodeIDBloom()
	if bf == nil {
		return
	}
	if bf.IsCongested() {
		bf.Purge()
	}
	if n.nodeID == NodeIDUnset && !bf.Get(uint64(senderNodeID)) {
		n.nextHeartbeat += n.randRange(0, 2_000_000)
	}
	bf.Set(uint64(senderNodeID))
}
