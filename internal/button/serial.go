package button

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// Source reports the raw state of the PTT contact.
type Source interface {
	Pressed() (bool, error)
	Close() error
}

// SerialSource reads the PTT contact from a modem status line of a serial
// port. The contact bridges DTR (held high) to the sensed line.
type SerialSource struct {
	name string
	line string
	port serial.Port
}

func OpenSerial(name, line string) (*SerialSource, error) {
	line = strings.ToLower(line)
	switch line {
	case "cts", "dsr", "dcd", "ri":
	default:
		return nil, fmt.Errorf("unsupported modem line %q", line)
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: 9600})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("set DTR on %s: %w", name, err)
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("set RTS on %s: %w", name, err)
	}
	return &SerialSource{name: name, line: line, port: port}, nil
}

func (s *SerialSource) Pressed() (bool, error) {
	bits, err := s.port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	switch s.line {
	case "dsr":
		return bits.DSR, nil
	case "dcd":
		return bits.DCD, nil
	case "ri":
		return bits.RI, nil
	}
	return bits.CTS, nil
}

func (s *SerialSource) Close() error {
	return s.port.Close()
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
