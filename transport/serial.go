// Package transport provides concrete byte-I/O implementations of the
// scservo.Transport capability.
package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Serial implements scservo.Transport over a hardware serial port via
// go.bug.st/serial. It does not prescribe how the OS sets a non-standard
// baud rate (BOTHER on Linux, IOSSIOSPEED on macOS) — that is the
// library's concern, not the driver's (spec §6).
type Serial struct {
	port     serial.Port
	portName string
	timeout  time.Duration
}

// SerialConfig configures OpenSerial.
type SerialConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

// OpenSerial opens a raw 8N1 serial connection with no flow control.
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 50 * time.Millisecond
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return &Serial{port: port, portName: cfg.Port, timeout: cfg.Timeout}, nil
}

func (s *Serial) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *Serial) Close() error {
	return s.port.Close()
}

func (s *Serial) SetReadTimeout(timeout time.Duration) error {
	s.timeout = timeout
	return s.port.SetReadTimeout(timeout)
}

// SetBaudRate reconfigures the line rate, including the custom-rate path
// non-standard bauds like 1,000,000 require on some platforms.
func (s *Serial) SetBaudRate(baud int) error {
	return s.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Flush discards buffered input by draining it; go.bug.st/serial's
// ResetInputBuffer is platform-dependent on some backends, so this drains
// explicitly the way the read loop itself would. Pending output is not
// discarded.
func (s *Serial) Flush() error {
	buf := make([]byte, 4096)
	s.port.SetReadTimeout(5 * time.Millisecond)
	for {
		n, err := s.port.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	return s.port.SetReadTimeout(s.timeout)
}

// PortName returns the underlying OS path (e.g. "/dev/ttyUSB0").
func (s *Serial) PortName() string {
	return s.portName
}
