package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"pulse/internal/analysis"
	applog "pulse/internal/log"
)

// Source provides the estimate and filtered spectrum published in each packet.
type Source interface {
	analysis.SpectrumProvider
	Estimate() analysis.Estimate
}

// UDPPublisher periodically reads the latest estimate and spectrum from a
// Source, packs them into a binary packet and sends it with a UDPSender.
// It runs in a separate goroutine managed by Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	source   Source
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan during Start/Stop

	sequenceNum uint32

	// Reused on every packet.
	magBuffer    []float64
	f32Buffer    []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher. If interval is <= 0 it defaults to
// 33ms (one packet per pipeline sample at 30 Hz).
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source Source) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: source cannot be nil")
	}

	if interval <= 0 {
		interval = 33 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	bins := source.Size() / 2
	applog.Infof("UDPPublisher: Initializing (Interval: %s, Spectrum Bins: %d)", interval, bins)

	return &UDPPublisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		magBuffer:    make([]float64, bins),
		f32Buffer:    make([]float32, bins),
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				applog.Debugf("UDPPublisher: Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it to exit.
// Calling Stop when not running is a no-op.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		applog.Debugf("UDPPublisher: Stop called but not running.")
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("UDPPublisher: Publisher goroutine finished.")
	return nil
}

/*
UDP packet layout, BigEndian:

| Field           | Type      | Bytes | Description                        |
|-----------------|-----------|-------|------------------------------------|
| Sequence Number | uint32    | 4     | Monotonically increasing           |
| Timestamp       | int64     | 8     | Nanoseconds since epoch            |
| BPM             | float32   | 4     | Smoothed heart rate                |
| Ratio           | float32   | 4     | Smoothed peak-to-noise ratio       |
| Quality         | uint8     | 1     | 0 poor, 1 fair, 2 good, 3 excellent|
| Bin Count       | uint16    | 2     | Number of magnitudes (N)           |
| Magnitudes      | []float32 | N * 4 | Filtered spectrum, DC first        |
*/

// HeaderSize is the number of bytes before the magnitudes.
const HeaderSize = 4 + 8 + 4 + 4 + 1 + 2

// Packet is a decoded UDP packet.
type Packet struct {
	Sequence   uint32
	Timestamp  time.Time
	BPM        float32
	Ratio      float32
	Quality    analysis.Quality
	Magnitudes []float32
}

// AppendPacket encodes pkt into buf.
func AppendPacket(buf *bytes.Buffer, pkt Packet) error {
	header := struct {
		Sequence  uint32
		Timestamp int64
		BPM       float32
		Ratio     float32
		Quality   uint8
		Count     uint16
	}{
		pkt.Sequence, pkt.Timestamp.UnixNano(), pkt.BPM, pkt.Ratio,
		uint8(pkt.Quality), uint16(len(pkt.Magnitudes)),
	}
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return err
	}
	return binary.Write(buf, binary.BigEndian, pkt.Magnitudes)
}

// DecodePacket parses a packet produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, errors.New("packet shorter than header")
	}
	be := binary.BigEndian
	count := int(be.Uint16(b[21:23]))
	if len(b) != HeaderSize+4*count {
		return Packet{}, fmt.Errorf("packet length %d does not match %d magnitudes", len(b), count)
	}

	pkt := Packet{
		Sequence:   be.Uint32(b[0:4]),
		Timestamp:  time.Unix(0, int64(be.Uint64(b[4:12]))),
		BPM:        math.Float32frombits(be.Uint32(b[12:16])),
		Ratio:      math.Float32frombits(be.Uint32(b[16:20])),
		Quality:    analysis.Quality(b[20]),
		Magnitudes: make([]float32, count),
	}
	if err := binary.Read(bytes.NewReader(b[HeaderSize:]), be, pkt.Magnitudes); err != nil {
		return Packet{}, err
	}
	return pkt, nil
}

// buildAndSendPacket runs on each tick.
func (p *UDPPublisher) buildAndSendPacket() {
	if err := p.source.MagnitudesInto(p.magBuffer); err != nil {
		applog.Errorf("UDPPublisher: Error getting magnitudes: %v", err)
		return
	}
	for i, v := range p.magBuffer {
		p.f32Buffer[i] = float32(v)
	}

	est := p.source.Estimate()
	p.sequenceNum++
	p.packetBuffer.Reset()
	err := AppendPacket(p.packetBuffer, Packet{
		Sequence:   p.sequenceNum,
		Timestamp:  time.Now(),
		BPM:        float32(est.BPM),
		Ratio:      float32(est.Ratio),
		Quality:    est.Quality,
		Magnitudes: p.f32Buffer,
	})
	if err != nil {
		applog.Errorf("UDPPublisher: Error packing data into binary buffer: %v", err)
		return
	}

	packetBytes := p.packetBuffer.Bytes()
	if err := p.sender.Send(packetBytes); err == nil {
		applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packetBytes))
	}
}

// Close implements io.Closer. It stops the publisher goroutine.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
