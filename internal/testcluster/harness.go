package testcluster

import "github.com/pavel-kirienko/cy"

// Participant pairs a Node with the MockPlatform it was constructed with,
// so test code can drive Update across a whole cluster in one call.
type Participant struct {
	Node     *cy.Node
	Platform *MockPlatform
}

// NewParticipant creates a MockPlatform, constructs a Node on it, binds
// the two together, and returns both. cfg.Platform is overwritten.
func (net *MockNetwork) NewParticipant(cfg cy.Config, nBloomBits int, seed int64, opts ...cy.Option) (*Participant, error) {
	p := net.NewPlatform(nBloomBits, seed)
	cfg.Platform = p
	n, err := cy.Create(cfg, opts...)
	if err != nil {
		return nil, err
	}
	p.SetNode(n)
	return &Participant{Node: n, Platform: p}, nil
}

// RunUntil advances the network clock in steps of tickMicros, calling
// Update on every participant after each advance, until predicate returns
// true or maxTicks steps have elapsed. This replaces the teacher's
// channel-based "wait with timeout" idiom (tests/cluster.go): the core's
// concurrency model (spec §5) is single-threaded and non-suspending, so
// there is no background delivery to wait on a channel for — convergence
// is only observable by stepping the simulated clock and re-checking.
// Returns whether predicate became true.
func (net *MockNetwork) RunUntil(participants []*Participant, tickMicros int64, maxTicks int, predicate func() bool) bool {
	if predicate() {
		return true
	}
	for i := 0; i < maxTicks; i++ {
		net.Advance(tickMicros)
		now := net.Now()
		for _, p := range participants {
			_ = p.Node.Update(now)
		}
		if predicate() {
			return true
		}
	}
	return false
}
