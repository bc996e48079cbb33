package testcluster

import (
	"math/rand"

	"github.com/pavel-kirienko/cy"
	"github.com/pavel-kirienko/cy/internal/bloom"
)

type mockTopic struct {
	name string
}

// MockPlatform implements cy.Platform over a MockNetwork. Construct one per
// simulated participant with MockNetwork.NewPlatform, then call SetNode
// immediately after cy.Create returns.
type MockPlatform struct {
	net    *MockNetwork
	rng    *rand.Rand
	bloom  *bloom.Filter
	nodeID uint16
	node   *cy.Node

	ResubscriptionErrors int
}

// NewPlatform creates a MockPlatform attached to net, with an own Bloom
// filter of nBloomBits (must be a positive multiple of 64) and a PRNG
// seeded deterministically from seed so test runs are reproducible.
func (net *MockNetwork) NewPlatform(nBloomBits int, seed int64) *MockPlatform {
	return &MockPlatform{
		net:    net,
		rng:    rand.New(rand.NewSource(seed)),
		bloom:  bloom.New(nBloomBits),
		nodeID: cy.NodeIDUnset,
	}
}

// SetNode binds the cy.Node constructed with this platform, enabling
// inbound delivery. Must be called right after cy.Create returns, before
// any other platform on the network publishes.
func (p *MockPlatform) SetNode(n *cy.Node) { p.node = n }

func (p *MockPlatform) Now() int64 { return p.net.Now() }

func (p *MockPlatform) PRNG() uint64 { return p.rng.Uint64() }

func (p *MockPlatform) BufferRelease(buf []byte) {}

func (p *MockPlatform) NodeIDSet(nodeID uint16) error {
	p.nodeID = nodeID
	p.net.registerNode(nodeID, p)
	return nil
}

func (p *MockPlatform) NodeIDClear() {
	if p.nodeID != cy.NodeIDUnset {
		p.net.unregisterNode(p.nodeID)
	}
	p.nodeID = cy.NodeIDUnset
}

func (p *MockPlatform) NodeIDBloom() *bloom.Filter { return p.bloom }

func (p *MockPlatform) Request(destNodeID, serviceID uint16, transferID uint64, deadline int64, payload []byte) error {
	return p.net.request(p, destNodeID, serviceID, transferID, payload)
}

func (p *MockPlatform) TopicNew() (cy.TopicHandle, error) {
	return &mockTopic{}, nil
}

func (p *MockPlatform) TopicDestroy(handle cy.TopicHandle) error { return nil }

func (p *MockPlatform) TopicPublish(handle cy.TopicHandle, subjectID uint16, transferID uint64, deadline int64, payload []byte) error {
	p.net.publish(subjectID, transferID, p, payload)
	return nil
}

func (p *MockPlatform) TopicSubscribe(handle cy.TopicHandle, subjectID uint16) error {
	p.net.subscribe(subjectID, p)
	return nil
}

func (p *MockPlatform) TopicUnsubscribe(handle cy.TopicHandle, subjectID uint16) error {
	p.net.unsubscribe(subjectID, p)
	return nil
}

func (p *MockPlatform) TopicHandleResubscriptionError(handle cy.TopicHandle, err error) {
	p.ResubscriptionErrors++
}

func (p *MockPlatform) NodeIDMax() uint16 { return 65534 }

func (p *MockPlatform) TransferIDMask() uint64 { return ^uint64(0) }
