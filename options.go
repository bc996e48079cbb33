package cy

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHeartbeatTopicName is the pinned heartbeat topic used unless
	// overridden by WithHeartbeatTopicName (testing only, per spec.md §6).
	// The leading slash marks it absolute so Canonicalize does not prefix
	// it with the node's namespace, keeping it pinned to subject-ID 7509.
	DefaultHeartbeatTopicName = "/7509"

	// DefaultHeartbeatPeriodMax is the default cap on the interval
	// between heartbeats.
	DefaultHeartbeatPeriodMax = time.Second

	// DefaultHeartbeatFullGossipCyclePeriodMax is the default cap on the
	// time to gossip every local topic at least once.
	DefaultHeartbeatFullGossipCyclePeriodMax = 10 * time.Second
)

// Options holds the tunables configurable via Option, mirroring the table
// in spec.md §6.
type Options struct {
	heartbeatTopicName          string
	preferredTopicOverride      *uint16
	traceLogger                 *zap.Logger
	heartbeatPeriodMax          time.Duration
	heartbeatFullCyclePeriodMax time.Duration
}

// Option configures a Node at construction.
type Option func(*Options)

// WithHeartbeatTopicName overrides the pinned heartbeat topic name.
// Testing only.
func WithHeartbeatTopicName(name string) Option {
	return func(o *Options) { o.heartbeatTopicName = name }
}

// WithPreferredTopicOverride forces every non-pinned topic to substitute
// the given subject-ID for its own hash in the allocation formula, for
// the topic's entire lifetime, not just its first allocation attempt
// (stress-test only; see SPEC_FULL.md for the exact mechanics).
func WithPreferredTopicOverride(subjectID uint16) Option {
	return func(o *Options) { o.preferredTopicOverride = &subjectID }
}

// WithTrace enables diagnostic emission to logger. A no-op logger is used
// if this option is not supplied.
func WithTrace(logger *zap.Logger) Option {
	return func(o *Options) { o.traceLogger = logger }
}

// WithHeartbeatPeriodMax overrides the maximum time between heartbeats.
func WithHeartbeatPeriodMax(d time.Duration) Option {
	return func(o *Options) { o.heartbeatPeriodMax = d }
}

// WithHeartbeatFullGossipCyclePeriodMax overrides the maximum time to
// gossip every local topic at least once.
func WithHeartbeatFullGossipCyclePeriodMax(d time.Duration) Option {
	return func(o *Options) { o.heartbeatFullCyclePeriodMax = d }
}

func defaultOptions() *Options {
	return &Options{
		heartbeatTopicName:          DefaultHeartbeatTopicName,
		heartbeatPeriodMax:          DefaultHeartbeatPeriodMax,
		heartbeatFullCyclePeriodMax: DefaultHeartbeatFullGossipCyclePeriodMax,
		traceLogger:                 zap.NewNop(),
	}
}
