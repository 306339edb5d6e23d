package transport

import "errors"

// Transport defines a generic interface for publishing frames.
// Implementations must be safe for concurrent use and must not block the
// caller for longer than a tick.
type Transport interface {
	Send(data any) error
	Close() error
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Command is a control message received from a remote client.
type Command struct {
	Type    string  `json:"type"` // passband|filter|alpha|sonify|region|reset
	Low     float64 `json:"low,omitempty"`
	High    float64 `json:"high,omitempty"`
	Stage   string  `json:"stage,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
	Alpha   float64 `json:"alpha,omitempty"`

	// Region in image pixels.
	X      int `json:"x,omitempty"`
	Y      int `json:"y,omitempty"`
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// CommandHandler applies a Command and reports whether it was accepted.
type CommandHandler func(Command) error

// Multi fans a frame out to several transports. Send returns the first error
// but always attempts every transport.
type Multi []Transport

func (m Multi) Send(data any) error {
	var first error
	for _, t := range m {
		if err := t.Send(data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
