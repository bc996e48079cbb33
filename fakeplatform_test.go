package cy

import "github.com/pavel-kirienko/cy/internal/bloom"

// fakePlatform is a minimal single-node Platform stub for white-box tests
// that exercise internal allocation and merge logic directly, without
// needing a second node on the other end of a wire. It records publishes
// and subscriptions rather than delivering them anywhere.
type fakePlatform struct {
	now    int64
	prng   uint64
	bf     *bloom.Filter
	nodeID uint16

	published   [][]byte
	subscribed  map[uint16]bool
	resubErrors int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		nodeID:     NodeIDUnset,
		subscribed: make(map[uint16]bool),
	}
}

func (p *fakePlatform) Now() int64 { return p.now }

func (p *fakePlatform) PRNG() uint64 {
	p.prng += 0x9e3779b97f4a7c15
	return p.prng
}

func (p *fakePlatform) BufferRelease(buf []byte) {}

func (p *fakePlatform) NodeIDSet(nodeID uint16) error {
	p.nodeID = nodeID
	return nil
}

func (p *fakePlatform) NodeIDClear() { p.nodeID = NodeIDUnset }

func (p *fakePlatform) NodeIDBloom() *bloom.Filter { return p.bf }

func (p *fakePlatform) Request(destNodeID, serviceID uint16, transferID uint64, deadline int64, payload []byte) error {
	return nil
}

func (p *fakePlatform) TopicNew() (TopicHandle, error) {
	h := new(int)
	return h, nil
}

func (p *fakePlatform) TopicDestroy(handle TopicHandle) error { return nil }

func (p *fakePlatform) TopicPublish(handle TopicHandle, subjectID uint16, transferID uint64, deadline int64, payload []byte) error {
	p.published = append(p.published, payload)
	return nil
}

func (p *fakePlatform) TopicSubscribe(handle TopicHandle, subjectID uint16) error {
	p.subscribed[subjectID] = true
	return nil
}

func (p *fakePlatform) TopicUnsubscribe(handle TopicHandle, subjectID uint16) error {
	delete(p.subscribed, subjectID)
	return nil
}

func (p *fakePlatform) TopicHandleResubscriptionError(handle TopicHandle, err error) {
	p.resubErrors++
}

func (p *fakePlatform) NodeIDMax() uint16 { return 65534 }

func (p *fakePlatform) TransferIDMask() uint64 { return ^uint64(0) }

func newTestNode(t interface{ Fatalf(string, ...any) }, opts ...Option) (*Node, *fakePlatform) {
	p := newFakePlatform()
	n, err := Create(Config{Platform: p, UID: 1, Namespace: "/ns", Name: "node"}, opts...)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return n, p
}
