// Package testcluster provides an in-memory, deterministic implementation
// of the cy.Platform capability set. MockNetwork routes by numeric
// subject-ID and node-ID, mirroring the bus semantics the cy.Platform
// interface assumes.
package testcluster

import (
	"sync"

	"github.com/pavel-kirienko/cy"
)

// MockNetwork is a shared broadcast bus connecting a set of MockPlatform
// instances, plus a manually-advanced clock so tests can drive Node.Update
// deterministically without real sleeps.
type MockNetwork struct {
	mu     sync.Mutex
	clock  int64
	subs   map[uint16]map[*MockPlatform]struct{}
	byNode map[uint16]*MockPlatform
}

// NewMockNetwork creates an empty bus with the clock starting at t0.
func NewMockNetwork(t0 int64) *MockNetwork {
	return &MockNetwork{
		clock:  t0,
		subs:   make(map[uint16]map[*MockPlatform]struct{}),
		byNode: make(map[uint16]*MockPlatform),
	}
}

// Now returns the bus's current simulated time in microseconds.
func (net *MockNetwork) Now() int64 {
	net.mu.Lock()
	defer net.mu.Unlock()
	return net.clock
}

// Advance moves the simulated clock forward by d microseconds.
func (net *MockNetwork) Advance(d int64) {
	net.mu.Lock()
	net.clock += d
	net.mu.Unlock()
}

func (net *MockNetwork) subscribe(subjectID uint16, p *MockPlatform) {
	net.mu.Lock()
	defer net.mu.Unlock()
	set, ok := net.subs[subjectID]
	if !ok {
		set = make(map[*MockPlatform]struct{})
		net.subs[subjectID] = set
	}
	set[p] = struct{}{}
}

func (net *MockNetwork) unsubscribe(subjectID uint16, p *MockPlatform) {
	net.mu.Lock()
	defer net.mu.Unlock()
	delete(net.subs[subjectID], p)
}

func (net *MockNetwork) registerNode(id uint16, p *MockPlatform) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.byNode[id] = p
}

func (net *MockNetwork) unregisterNode(id uint16) {
	net.mu.Lock()
	defer net.mu.Unlock()
	delete(net.byNode, id)
}

// publish broadcasts payload on subjectID, under transferID as assigned
// by the sending core, to every subscriber other than the sender.
func (net *MockNetwork) publish(subjectID uint16, transferID uint64, sender *MockPlatform, payload []byte) {
	net.mu.Lock()
	receivers := make([]*MockPlatform, 0, len(net.subs[subjectID]))
	for p := range net.subs[subjectID] {
		if p != sender {
			receivers = append(receivers, p)
		}
	}
	now := net.clock
	net.mu.Unlock()

	cp := append([]byte(nil), payload...)
	for _, p := range receivers {
		if p.node == nil {
			continue
		}
		_ = p.node.IngestTopicTransfer(subjectID, sender.nodeID, transferID, 0, now, cp)
	}
}

// request delivers a peer-to-peer RPC request transfer to destNodeID,
// under the caller-supplied transferID (for topic-response delivery, this
// is the original request transfer's own transfer-ID, echoed back by the
// responder — see Node.Respond). Only cy.RPCServiceIDTopicResponse is
// understood; requests on any other service-ID are accepted (so
// Platform.Request never errors spuriously) and then dropped, since no
// other RPC service is modeled here.
func (net *MockNetwork) request(sender *MockPlatform, destNodeID, serviceID uint16, transferID uint64, payload []byte) error {
	net.mu.Lock()
	dest, ok := net.byNode[destNodeID]
	now := net.clock
	net.mu.Unlock()
	if !ok {
		return nil
	}

	cp := append([]byte(nil), payload...)
	if serviceID == cy.RPCServiceIDTopicResponse && dest.node != nil {
		return dest.node.IngestTopicResponseTransfer(sender.nodeID, transferID, cp, now)
	}
	return nil
}
