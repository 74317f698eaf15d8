package flasher

import (
	"bytes"
	"sync"
	"time"
)

// monitorReadTimeout is the poll interval of the monitor read loop. Short
// enough that Stop is acknowledged promptly, long enough to stay idle.
const monitorReadTimeout = 200 * time.Millisecond

// monitorBufferSize is the read chunk size for monitor output.
const monitorBufferSize = 4096

// Monitor streams live serial output line by line after a flash.
//
// The read loop holds the port's read stream (Hold/Release) so a close
// during monitoring waits for the loop to acknowledge the stop instead of
// yanking the descriptor out from under an in-flight read.
//
// Thread Safety: Start and Stop are safe to call from any goroutine;
// Stop blocks until the read loop has exited and released the port.
type Monitor struct {
	port   SerialPort
	logger Logger

	// onLine receives each decoded line, CR/LF stripped.
	onLine func(line string)

	// onClosed fires when the loop ends on its own (read error, stream
	// closure) rather than via Stop.
	onClosed func(err error)

	stopCh  chan struct{}
	stopOne sync.Once
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

// NewMonitor creates a monitor over an open port. onLine is required;
// onClosed and logger may be nil.
func NewMonitor(port SerialPort, onLine func(string), onClosed func(error), logger Logger) *Monitor {
	if logger == nil {
		logger = nopLogger{}
	}
	if onClosed == nil {
		onClosed = func(error) {}
	}
	return &Monitor{
		port:     port,
		logger:   logger,
		onLine:   onLine,
		onClosed: onClosed,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start discards stale input and begins the read loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true

	if err := m.port.SetReadTimeout(monitorReadTimeout); err != nil {
		return err
	}
	if err := m.port.DrainInput(); err != nil {
		m.logger.Warn("monitor: drain input failed", "port", m.port.Path(), "error", err)
	}

	m.port.Hold()
	go m.run()
	return nil
}

// Stop ends the read loop and waits for it to release the port.
// Safe to call multiple times and before Start.
func (m *Monitor) Stop() {
	m.stopOne.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}

// run is the monitor read loop.
func (m *Monitor) run() {
	defer close(m.done)
	defer m.port.Release()

	buf := make([]byte, monitorBufferSize)
	var line []byte

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		n, err := m.port.Read(buf)
		if n > 0 {
			line = m.decode(append(line, buf[:n]...))
		}
		if err != nil {
			select {
			case <-m.stopCh:
				// Stop raced the read error; the loop was ending anyway.
			default:
				m.logger.Warn("monitor: stream closed", "port", m.port.Path(), "error", err)
				m.onClosed(err)
			}
			return
		}
		// n == 0 with nil error is a read-timeout tick; loop to check stop.
	}
}

// decode splits buffered bytes on newlines, emitting complete lines and
// returning the unterminated remainder.
func (m *Monitor) decode(pending []byte) []byte {
	for {
		idx := bytes.IndexByte(pending, '\n')
		if idx < 0 {
			return pending
		}
		line := bytes.TrimRight(pending[:idx], "\r")
		m.onLine(string(line))
		pending = pending[idx+1:]
	}
}
