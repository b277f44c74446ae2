package audit

import "context"

// NoopPublisher discards events. Used when no brokers are configured and in
// tests that do not assert on auditing.
type NoopPublisher struct{}

func (NoopPublisher) Emit(context.Context, Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
