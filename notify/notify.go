/*
Package notify delivers post-commit notifications to teachers.

PURPOSE:
  The batch engine sends one message per affected teacher after a bulk
  operation commits. Delivery is best-effort: Send reports success as a
  bool, and implementations log their own failure details. A failed send
  never changes a batch result.

IMPLEMENTATIONS:
  SendGrid: Email via the SendGrid v3 API (sendgrid.go)
  Log:      Writes messages to a zap logger (development default)
  Recorder: Keeps messages in memory (tests)

SEE ALSO:
  - batch/coordinator.go: Post-commit fan-out
*/
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Message is one notification. To is a recipient email address.
type Message struct {
	To      string
	Name    string
	Subject string
	Body    string
}

// Notifier sends a message and reports whether it was delivered.
type Notifier interface {
	Send(ctx context.Context, m Message) bool
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// Log writes notifications to a logger instead of delivering them.
type Log struct {
	Logger *zap.Logger
}

func (n Log) Send(_ context.Context, m Message) bool {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return true
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps every message it is given. Sends to addresses in Fail
// are recorded and reported as failed.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
	Fail     map[string]bool
}

func (r *Recorder) Send(_ context.Context, m Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, m)
	return !r.Fail[m.To]
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.Messages))
	copy(out, r.Messages)
	return out
}
