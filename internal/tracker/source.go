package tracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/rotortrack/timectrl"
	"go.bug.st/serial"
)

var (
	// ErrNoData reports that the source has not produced a line yet.
	ErrNoData = errors.New("no tracker data yet")
	// ErrStale reports that the newest line is older than the source's max age.
	ErrStale = errors.New("tracker data stale")
	// ErrSourceClosed reports that the underlying stream has ended.
	ErrSourceClosed = errors.New("tracker source closed")
)

// ReaderSource reads newline separated lines from an io.Reader in the
// background and serves the most recent one.
type ReaderSource struct {
	clock  timectrl.Clock
	maxAge time.Duration

	mu      sync.RWMutex
	line    string
	at      time.Time
	lines   uint64
	err     error
	stopped chan struct{}
}

// NewReaderSource starts reading r. A zero maxAge disables staleness checks.
func NewReaderSource(r io.Reader, maxAge time.Duration, clock timectrl.Clock) *ReaderSource {
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	s := &ReaderSource{clock: clock, maxAge: maxAge, stopped: make(chan struct{})}
	go s.run(r)
	return s
}

func (s *ReaderSource) run(r io.Reader) {
	defer close(s.stopped)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\x00")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.mu.Lock()
		s.line = line
		s.at = s.clock.Now()
		s.lines++
		s.mu.Unlock()
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.err = fmt.Errorf("%w: %v", ErrSourceClosed, err)
	s.mu.Unlock()
}

// Latest returns the newest line.
func (s *ReaderSource) Latest(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return s.line, s.err
	}
	if s.lines == 0 {
		return "", ErrNoData
	}
	if s.maxAge > 0 {
		if age := s.clock.Now().Sub(s.at); age > s.maxAge {
			return s.line, fmt.Errorf("%w: last line %s old", ErrStale, age.Truncate(time.Millisecond))
		}
	}
	return s.line, nil
}

// Lines returns how many non-empty lines have been read.
func (s *ReaderSource) Lines() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines
}

// Done is closed when the reader has ended.
func (s *ReaderSource) Done() <-chan struct{} { return s.stopped }

// SerialConfig selects the serial port the tracking software writes to.
type SerialConfig struct {
	Port     string
	BaudRate int
	MaxAge   time.Duration
}

// SerialSource reads tracker lines from a serial port, typically one end of
// a virtual null-modem pair the tracking software writes to.
type SerialSource struct {
	*ReaderSource
	port serial.Port
}

// OpenSerial opens the port and starts reading from it.
func OpenSerial(cfg SerialConfig, clock timectrl.Clock) (*SerialSource, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port name is required")
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 9600
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	return &SerialSource{ReaderSource: NewReaderSource(port, cfg.MaxAge, clock), port: port}, nil
}

// Close releases the port, which also ends the background reader.
func (s *SerialSource) Close() error {
	return s.port.Close()
}

// SerialPorts lists the serial ports visible to the process.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
