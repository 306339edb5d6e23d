package transport

import (
	"encoding/json"
	"sync/atomic"

	applog "pulse/internal/log"
)

// LoggingTransport implements the Transport interface by logging frames.
// Every frame is logged at debug level; one in every `every` frames is
// logged at info level so a headless run still shows progress.
type LoggingTransport struct {
	every uint64
	count atomic.Uint64
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport(every int) *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{every: uint64(max(1, every))}
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	n := lt.count.Add(1)
	if !applog.Enabled(applog.LevelDebug) && n%lt.every != 0 {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		applog.Warnf("LOG_TRANSPORT: Received (%T): %+v (JSON marshal error: %v)", data, data, err)
		return nil
	}
	if n%lt.every == 0 {
		applog.Infof("LOG_TRANSPORT: %s", payload)
	} else {
		applog.Debugf("LOG_TRANSPORT: %s", payload)
	}
	return nil
}

// Sent returns the number of frames passed to Send.
func (lt *LoggingTransport) Sent() uint64 {
	return lt.count.Load()
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("LOG_TRANSPORT: Close called.")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
