package hwlink

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestablePort implements Port with configurable behaviour for testing.
type TestablePort struct {
	mu sync.Mutex

	// WriteBuffer captures data written to the port
	WriteBuffer bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes the next Write report one byte fewer than given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	Closed     bool
	WriteCalls int
}

func NewTestablePort() *TestablePort {
	return &TestablePort{}
}

func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		t.ShortWrite = false
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

// Written returns everything written so far.
func (t *TestablePort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}

// FailNextWrite arranges for the next Write to return err.
func (t *TestablePort) FailNextWrite(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteError = err
}

// MockOpener hands out ports in order and records how often it was called.
// With no ports left, or Err set, Open fails.
type MockOpener struct {
	mu    sync.Mutex
	Ports []*TestablePort
	Err   error
	Calls int
}

func (m *MockOpener) Open() (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Ports) == 0 {
		return nil, errors.New("no device")
	}
	p := m.Ports[0]
	m.Ports = m.Ports[1:]
	return p, nil
}
