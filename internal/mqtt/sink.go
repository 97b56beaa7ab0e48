package mqtt

import (
	"context"

	"github.com/sweeney/farm-controller/internal/audit"
)

// AuditSink writes audit entries to the triggerLog / automationLog topics.
type AuditSink struct {
	pub Publisher
}

// NewAuditSink wraps a Publisher as an audit.Sink.
func NewAuditSink(pub Publisher) *AuditSink {
	return &AuditSink{pub: pub}
}

// Name identifies the sink in logs.
func (s *AuditSink) Name() string { return "mqtt" }

// Write publishes entries in order and stops at the first failure. Entries
// published before a failure are sent again on retry; consumers dedupe by ID.
func (s *AuditSink) Write(ctx context.Context, entries []audit.Entry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pub.PublishEntry(e); err != nil {
			return err
		}
	}
	return nil
}
