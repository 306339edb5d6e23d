package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	applog "pulse/internal/log"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject carries raw brightness samples as little-endian float32
// batches.
const DefaultNATSSubject = "pulse.samples"

// ConnectNATS dials url with the reconnect policy used for every NATS link
// in this module: unlimited reconnects every 500ms.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at '%s': %w", url, err)
	}
	return nc, nil
}

// NATSStream receives samples published by a remote capture process. Samples
// that arrive between two ticks are collapsed to the newest.
type NATSStream struct {
	mu      sync.Mutex
	latest  float64
	fresh   bool
	dropped uint64

	nc  *nats.Conn
	sub *nats.Subscription
}

// DialNATS connects to url and subscribes to subject.
func DialNATS(url, subject string) (*NATSStream, error) {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	nc, err := ConnectNATS(url, "pulse-source")
	if err != nil {
		return nil, err
	}

	s := &NATSStream{nc: nc}
	sub, err := nc.Subscribe(subject, s.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to '%s': %w", subject, err)
	}
	s.sub = sub
	applog.Infof("Source: subscribed to NATS subject %s on %s", subject, nc.ConnectedUrl())
	return s, nil
}

func (s *NATSStream) handle(msg *nats.Msg) {
	samples, err := DecodeSamples(msg.Data)
	if err != nil {
		applog.Warnf("Source: dropping NATS message on %s: %v", msg.Subject, err)
		return
	}
	samples = slices.DeleteFunc(samples, func(v float32) bool {
		f := float64(v)
		return math.IsNaN(f) || math.IsInf(f, 0)
	})
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	if s.fresh {
		s.dropped++
	}
	s.dropped += uint64(len(samples) - 1)
	s.latest = float64(samples[len(samples)-1])
	s.fresh = true
	s.mu.Unlock()
}

// DecodeSamples reads a batch of little-endian float32 samples.
func DecodeSamples(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.New("payload length is not a multiple of 4")
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// EncodeSamples is the inverse of DecodeSamples.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// Sample returns the newest sample received since the previous call.
func (s *NATSStream) Sample(time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return 0, false
	}
	s.fresh = false
	return s.latest, true
}

// Dropped returns how many samples were superseded before a tick read them.
func (s *NATSStream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes and drains the connection.
func (s *NATSStream) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			applog.Warnf("Source: NATS unsubscribe: %v", err)
		}
	}
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}
