package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const tcpScheme = "tcp://"

// Dialer opens the byte stream behind a device name.
type Dialer func(ctx context.Context, device string) (io.ReadWriteCloser, error)

// DialDevice opens tcp://host:port with a net.Dialer and anything else as a
// character device file.
func DialDevice(ctx context.Context, device string) (io.ReadWriteCloser, error) {
	if addr, ok := strings.CutPrefix(device, tcpScheme); ok {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	return f, nil
}

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithDialer replaces DialDevice.
func WithDialer(d Dialer) StreamOption { return func(s *Stream) { s.dial = d } }

// Stream is a line transport over a byte stream. A reader goroutine feeds
// complete lines into a channel; Exec collects them until a final result
// code or the timeout.
type Stream struct {
	cfg  Config
	dial Dialer

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	lines   chan string
	readErr error
	stop    chan struct{}
	done    chan struct{}
}

// NewStream returns an unopened stream transport.
func NewStream(cfg Config, opts ...StreamOption) *Stream {
	s := &Stream{cfg: cfg.WithDefaults(), dial: DialDevice}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStreamFactory is a Factory producing Stream transports.
func NewStreamFactory(opts ...StreamOption) Factory {
	return func(cfg Config) (Transport, error) {
		if cfg.Device == "" {
			return nil, fmt.Errorf("stream transport: no device configured")
		}
		return NewStream(cfg, opts...), nil
	}
}

// Config returns the effective configuration.
func (s *Stream) Config() Config { return s.cfg }

// Open dials the device and starts the reader.
func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrOpenTwice
	}
	conn, err := s.dial(ctx, s.cfg.Device)
	if err != nil {
		return err
	}
	s.conn = conn
	s.lines = make(chan string, 64)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.readErr = nil
	go s.readLoop(conn, s.lines, s.stop, s.done)
	return nil
}

// Close closes the connection and waits for the reader to stop.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn, stop, done := s.conn, s.stop, s.done
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(stop)
	err := conn.Close()
	<-done
	return err
}

func (s *Stream) readLoop(r io.Reader, out chan<- string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case out <- line:
		case <-stop:
			return
		}
	}
	s.mu.Lock()
	s.readErr = scanner.Err()
	s.mu.Unlock()
}

// Exec waits req.Delay, writes the command and collects reply lines. On
// timeout the lines read so far are returned together with ErrTimeout.
func (s *Stream) Exec(ctx context.Context, req Request) (*Reply, error) {
	s.mu.Lock()
	conn, lines := s.conn, s.lines
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotOpen
	}

	drain(lines)
	if err := sleep(ctx, req.Delay); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	start := time.Now()
	if _, err := io.WriteString(conn, req.Text+s.cfg.LineBreak); err != nil {
		return nil, fmt.Errorf("write %q: %w", req.Text, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	reply := &Reply{}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				reply.Elapsed = time.Since(start)
				s.mu.Lock()
				readErr := s.readErr
				s.mu.Unlock()
				if readErr != nil {
					return reply, fmt.Errorf("%w: %v", ErrClosed, readErr)
				}
				return reply, ErrClosed
			}
			reply.Lines = append(reply.Lines, line)
			if IsFinal(line) {
				reply.Elapsed = time.Since(start)
				return reply, nil
			}
		case <-timer.C:
			reply.Elapsed = time.Since(start)
			return reply, fmt.Errorf("%q after %s: %w", req.Text, timeout, ErrTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drain discards unsolicited lines left over from a previous exchange.
func drain(lines <-chan string) {
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
