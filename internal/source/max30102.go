package source

import (
	"errors"
	"fmt"
	"sync"
	"time"

	applog "pulse/internal/log"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

// MAX30102 registers.
const (
	regFIFOWrPtr = 0x04
	regOvfCount  = 0x05
	regFIFORdPtr = 0x06
	regFIFOData  = 0x07
	regFIFOCfg   = 0x08
	regModeCfg   = 0x09
	regSpO2Cfg   = 0x0A
	regLed1PA    = 0x0C
	regLed2PA    = 0x0D
	regPartID    = 0xFF

	sensorAddr   = 0x57
	sensorPartID = 0x15

	modeReset    = 0x40
	modeShutdown = 0x80
	modeSpO2     = 0x03

	fifoAvg4Rollover        = 0x50 // 4-sample averaging, FIFO rollover
	spo2Range4096SR100PW411 = 0x27
	ledCurrent7mA           = 0x24

	fifoDepth = 32
	maxADC    = 262143
)

// ErrNotSensor reports a device whose part ID is not a MAX30102.
var ErrNotSensor = errors.New("max30102: part ID does not match (0x15)")

// Sensor reads the PPG channel of a MAX30102 over I2C. Each Sample drains the
// FIFO and returns the newest reading normalised to [0, 1].
type Sensor struct {
	mu    sync.Mutex
	dev   conn.Conn
	bus   i2c.BusCloser
	useIR bool

	frame [6]byte
}

// OpenSensor initialises the periph host, opens busName ("" for the first
// bus) and configures the device at addr (0 for 0x57). channel is "red" or
// "ir"; "" selects IR.
func OpenSensor(busName string, addr uint16, channel string) (*Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("max30102: could not initialize host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("max30102: could not open I2C bus: %w", err)
	}
	if addr == 0 {
		addr = sensorAddr
	}

	s, err := NewSensor(&i2c.Dev{Addr: addr, Bus: bus}, channel)
	if err != nil {
		bus.Close()
		return nil, err
	}
	s.bus = bus
	applog.Infof("Source: MAX30102 at %#x on %s (%s channel)", addr, bus, channelName(s.useIR))
	return s, nil
}

// NewSensor configures a MAX30102 reachable through dev.
func NewSensor(dev conn.Conn, channel string) (*Sensor, error) {
	var useIR bool
	switch channel {
	case "", "ir":
		useIR = true
	case "red":
	default:
		return nil, fmt.Errorf("max30102: unknown channel '%s'", channel)
	}

	s := &Sensor{dev: dev, useIR: useIR}

	part, err := s.read(regPartID)
	if err != nil {
		return nil, fmt.Errorf("max30102: could not get part ID: %w", err)
	}
	if part != sensorPartID {
		return nil, ErrNotSensor
	}

	for _, w := range [][2]byte{
		{regModeCfg, modeReset},
		{regFIFOCfg, fifoAvg4Rollover},
		{regSpO2Cfg, spo2Range4096SR100PW411},
		{regLed1PA, ledCurrent7mA},
		{regLed2PA, ledCurrent7mA},
		{regFIFOWrPtr, 0},
		{regOvfCount, 0},
		{regFIFORdPtr, 0},
		{regModeCfg, modeSpO2},
	} {
		if err := s.write(w[0], w[1]); err != nil {
			return nil, fmt.Errorf("max30102: could not configure register %#x: %w", w[0], err)
		}
	}
	return s, nil
}

func channelName(ir bool) string {
	if ir {
		return "ir"
	}
	return "red"
}

// Sample drains pending FIFO entries and returns the newest one. An empty
// FIFO or a bus error is a tick without a sample.
func (s *Sensor) Sample(time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.available()
	if err != nil || n == 0 {
		if err != nil {
			applog.Debugf("Source: MAX30102 FIFO status: %v", err)
		}
		return 0, false
	}

	for range n {
		if err := s.dev.Tx([]byte{regFIFOData}, s.frame[:]); err != nil {
			applog.Debugf("Source: MAX30102 FIFO read: %v", err)
			return 0, false
		}
	}
	red, ir := DecodeFrame(s.frame)
	if s.useIR {
		return ir, true
	}
	return red, true
}

// DecodeFrame splits one 6-byte FIFO entry into normalised red and IR values.
func DecodeFrame(b [6]byte) (red, ir float64) {
	const msbMask = 0b0000_0011
	red = float64(int(b[0]&msbMask)<<16|int(b[1])<<8|int(b[2])) / maxADC
	ir = float64(int(b[3]&msbMask)<<16|int(b[4])<<8|int(b[5])) / maxADC
	return red, ir
}

// available returns the number of unread FIFO entries.
func (s *Sensor) available() (int, error) {
	wr, err := s.read(regFIFOWrPtr)
	if err != nil {
		return 0, err
	}
	rd, err := s.read(regFIFORdPtr)
	if err != nil {
		return 0, err
	}
	return (int(wr) + fifoDepth - int(rd)) % fifoDepth, nil
}

func (s *Sensor) read(reg byte) (byte, error) {
	var b [1]byte
	if err := s.dev.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Sensor) write(reg, data byte) error {
	return s.dev.Tx([]byte{reg, data}, nil)
}

// Close shuts the device down and releases the bus.
func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.write(regModeCfg, modeShutdown)
	if s.bus != nil {
		if cerr := s.bus.Close(); err == nil {
			err = cerr
		}
		s.bus = nil
	}
	return err
}
