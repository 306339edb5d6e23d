package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	applog "pulse/internal/log"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is where frames are published; commands are read from
// the same subject with a ".cmd" suffix.
const DefaultNATSSubject = "pulse.frames"

// publisher is the subset of *nats.Conn used by NATSTransport.
type publisher interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// NATSTransport publishes frames as JSON and listens for commands.
type NATSTransport struct {
	conn    publisher
	subject string
	sub     *nats.Subscription
	closed  atomic.Bool
	errors  atomic.Uint64
}

// NewNATSTransport publishes on subject over an established connection.
func NewNATSTransport(nc *nats.Conn, subject string) (*NATSTransport, error) {
	if nc == nil {
		return nil, errors.New("NATSTransport: connection cannot be nil")
	}
	return newNATSTransport(nc, subject), nil
}

func newNATSTransport(conn publisher, subject string) *NATSTransport {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSTransport{conn: conn, subject: subject}
}

// Subject returns the frame subject.
func (t *NATSTransport) Subject() string {
	return t.subject
}

// CommandSubject returns the subject commands are read from.
func (t *NATSTransport) CommandSubject() string {
	return t.subject + ".cmd"
}

// OnCommand subscribes h to CommandSubject.
func (t *NATSTransport) OnCommand(h CommandHandler) error {
	sub, err := t.conn.Subscribe(t.CommandSubject(), func(msg *nats.Msg) {
		var cmd Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			applog.Warnf("NATSTransport: Ignoring malformed command: %v", err)
			return
		}
		if err := h(cmd); err != nil {
			applog.Warnf("NATSTransport: Rejected %q command: %v", cmd.Type, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", t.CommandSubject(), err)
	}
	t.sub = sub
	return nil
}

// Send publishes data as JSON. Publish errors are counted and logged once
// per burst, since the client reconnects on its own.
func (t *NATSTransport) Send(data any) error {
	if t.closed.Load() {
		return ErrClosed
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("NATSTransport: marshal frame: %w", err)
	}
	if err := t.conn.Publish(t.subject, payload); err != nil {
		if t.errors.Add(1) == 1 {
			applog.Warnf("NATSTransport: Publish to %s failed: %v", t.subject, err)
		}
		return err
	}
	t.errors.Store(0)
	return nil
}

// Close drains the connection.
func (t *NATSTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	applog.Infof("NATSTransport: Draining connection")
	if err := t.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

var _ Transport = (*NATSTransport)(nil)
