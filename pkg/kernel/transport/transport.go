// Package transport moves command text to a modem and reply lines back.
// Transports own all blocking and timing; the session only sees lines and
// an elapsed time.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultLineBreak terminates every command written to the device.
const DefaultLineBreak = "\r\n"

// DefaultTimeout bounds a reply when neither the request nor the config
// carries a timeout.
const DefaultTimeout = 10 * time.Second

var (
	ErrTimeout   = errors.New("transport: reply timed out")
	ErrClosed    = errors.New("transport: connection closed")
	ErrNoReply   = errors.New("transport: no reply")
	ErrNotOpen   = errors.New("transport: not open")
	ErrOpenTwice = errors.New("transport: already open")
)

// Config describes the channel to the device.
type Config struct {
	// Device is a character device path or tcp://host:port.
	Device string
	// BaudRate is recorded for traces; serial ports are configured out of band.
	BaudRate int
	// Timeout is the default reply timeout.
	Timeout time.Duration
	// LineBreak is appended to every command.
	LineBreak string
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.LineBreak == "" {
		c.LineBreak = DefaultLineBreak
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Request is one command exchange.
type Request struct {
	Text    string
	Delay   time.Duration
	Timeout time.Duration
}

// Reply is what came back for a request.
type Reply struct {
	Lines   []string
	Elapsed time.Duration
}

// Transport sends one command at a time.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Exec(ctx context.Context, req Request) (*Reply, error)
}

// Factory builds a transport for a configuration.
type Factory func(cfg Config) (Transport, error)

var finalCodes = []string{
	"OK",
	"ERROR",
	"NO CARRIER",
	"BUSY",
	"NO ANSWER",
	"NO DIALTONE",
}

var finalPrefixes = []string{
	"+CME ERROR",
	"+CMS ERROR",
	"CONNECT",
}

// IsFinal reports whether line is a final result code ending a reply.
func IsFinal(line string) bool {
	line = strings.TrimSpace(line)
	for _, c := range finalCodes {
		if line == c {
			return true
		}
	}
	for _, p := range finalPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
