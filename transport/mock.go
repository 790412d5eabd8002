package transport

import (
	"time"
)

// Mock implements scservo.Transport for tests. It is adapted from the
// upstream driver's MockTransport: a scriptable in-memory stand-in for a
// serial port, with either a static read buffer or a custom ReadFunc for
// tests that need to shape the byte stream precisely (e.g. staggered
// multi-frame sync-read responses).
type Mock struct {
	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	Closed      bool
	ReadTimeout time.Duration
	FlushCount  int
	BaudRate    int

	// ReadFunc, if set, overrides ReadData/ReadErr entirely.
	ReadFunc func(p []byte) (int, error)
}

func (m *Mock) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	return n, nil
}

func (m *Mock) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	return len(p), nil
}

func (m *Mock) Close() error {
	m.Closed = true
	return nil
}

func (m *Mock) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *Mock) SetBaudRate(baud int) error {
	m.BaudRate = baud
	return nil
}

func (m *Mock) Flush() error {
	m.FlushCount++
	return nil
}
