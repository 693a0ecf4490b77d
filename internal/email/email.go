package email

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Message is one templated campaign email.
type Message struct {
	TemplateID string
	To         string
	Subject    string
	MergeVars  map[string]string
}

// Dispatcher sends a message and returns the provider's send identifier.
type Dispatcher interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Template names a campaign template and its subject line.
type Template struct {
	ID      string
	Subject string
}

// LogDispatcher writes messages to the log instead of sending them.
type LogDispatcher struct {
	logger *zerolog.Logger
}

func NewLogDispatcher(logger *zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, msg *Message) (string, error) {
	id := "log-" + uuid.NewString()
	d.logger.Info().
		Str("send_id", id).
		Str("template", msg.TemplateID).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Interface("merge_vars", msg.MergeVars).
		Msg("email dispatched")
	return id, nil
}

// MemoryDispatcher records messages. Used for dry runs.
type MemoryDispatcher struct {
	mu   sync.Mutex
	sent []Message
	// Err, when set, is returned by every Send.
	Err error
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

func (d *MemoryDispatcher) Send(ctx context.Context, msg *Message) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return "", d.Err
	}
	d.sent = append(d.sent, *msg)
	return "mem-" + uuid.NewString(), nil
}

// Sent returns a copy of the recorded messages.
func (d *MemoryDispatcher) Sent() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.sent...)
}
