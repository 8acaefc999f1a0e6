package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the datalogger's fixed serial profile (8N1).
	DefaultBaudRate = 115200

	portReadTimeout = 100 * time.Millisecond // wake-up interval of the reader goroutine
	maxFrameBytes   = 4096                   // discard runaway input without line breaks
	frameQueue      = 1                      // only the newest unread frame is kept
)

// SerialConfig holds connection configuration for the serial transport.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// Serial opens the datalogger over a serial port. The port settings may be
// changed between connections with Configure.
type Serial struct {
	mu       sync.Mutex
	portPath string
	baudRate int
	open     func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerial creates a serial transport.
func NewSerial(cfg SerialConfig) *Serial {
	s := &Serial{open: serial.Open}
	s.Configure(cfg)
	return s
}

// Configure replaces the port settings used by the next Open. An open link
// is not affected.
func (s *Serial) Configure(cfg SerialConfig) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	s.mu.Lock()
	s.portPath = cfg.PortPath
	s.baudRate = cfg.BaudRate
	s.mu.Unlock()
}

func (s *Serial) settings() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portPath, s.baudRate
}

func (s *Serial) Name() string {
	path, baud := s.settings()
	return fmt.Sprintf("serial %s@%d", path, baud)
}

// Open opens the port at 8N1 and starts the line reader.
func (s *Serial) Open(ctx context.Context) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, baud := s.settings()
	if path == "" {
		return nil, fmt.Errorf("serial: no port configured")
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := s.open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to set timeout: %w", err)
	}
	log.Printf("[serial] opened %s at %d baud", path, baud)
	return newStreamLink(port), nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// streamLink splits a byte stream into newline-terminated frames.
type streamLink struct {
	rw     io.ReadWriteCloser
	frames chan []byte
	done   chan struct{}
	cancel sync.Once

	mu       sync.Mutex
	readErr  error
	released bool
}

func newStreamLink(rw io.ReadWriteCloser) *streamLink {
	l := &streamLink{
		rw:     rw,
		frames: make(chan []byte, frameQueue),
		done:   make(chan struct{}),
	}
	go l.pump()
	return l
}

func (l *streamLink) Reader() Reader { return (*streamReader)(l) }
func (l *streamLink) Writer() Writer { return (*streamWriter)(l) }

// Close stops the reader and closes the port.
func (l *streamLink) Close() error {
	l.stop()
	return l.rw.Close()
}

func (l *streamLink) stop() {
	l.cancel.Do(func() { close(l.done) })
}

// pump reads the port until it fails or the link is cancelled. A read that
// returns no bytes is the port's read timeout and only re-checks for cancel.
func (l *streamLink) pump() {
	defer close(l.frames)

	buf := make([]byte, 512)
	var pending []byte
	for {
		n, err := l.rw.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				if !l.emit(pending[:i+1]) {
					return
				}
				pending = pending[i+1:]
			}
			if len(pending) > maxFrameBytes {
				log.Printf("[serial] dropping %d bytes without line break", len(pending))
				pending = nil
			}
		}
		if err != nil {
			if len(pending) > 0 {
				l.emit(pending)
			}
			l.mu.Lock()
			l.readErr = err
			l.mu.Unlock()
			return
		}
		select {
		case <-l.done:
			return
		default:
		}
	}
}

// emit queues a frame, discarding older unread frames so a slow poller always
// gets the latest sample instead of a backlog.
func (l *streamLink) emit(frame []byte) bool {
	out := make([]byte, len(frame))
	copy(out, frame)
	for {
		select {
		case <-l.done:
			return false
		default:
		}
		select {
		case l.frames <- out:
			return true
		default:
		}
		select {
		case <-l.frames:
			// Stale, replaced by out
		default:
		}
	}
}

type streamReader streamLink

// Read returns the next frame including its line terminator.
func (r *streamReader) Read(ctx context.Context) ([]byte, error) {
	l := (*streamLink)(r)
	select {
	case <-l.done:
		return nil, io.EOF
	default:
	}
	select {
	case frame, ok := <-l.frames:
		if !ok {
			return nil, l.closedErr()
		}
		return frame, nil
	case <-l.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *streamReader) Cancel() error {
	(*streamLink)(r).stop()
	return nil
}

func (l *streamLink) closedErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr == nil || l.readErr == io.EOF {
		return io.EOF
	}
	return fmt.Errorf("serial: read: %w", l.readErr)
}

type streamWriter streamLink

func (w *streamWriter) Write(p []byte) (int, error) {
	l := (*streamLink)(w)
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return 0, ErrReleased
	}
	return l.rw.Write(p)
}

func (w *streamWriter) Release() error {
	l := (*streamLink)(w)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}
