package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeModem answers each command line with the scripted reply.
func fakeModem(t *testing.T, conn net.Conn, replies map[string]string) {
	t.Helper()
	go func() {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			reply, ok := replies[cmd]
			if !ok {
				continue
			}
			if _, err := io.WriteString(conn, reply); err != nil {
				return
			}
		}
	}()
}

func pipeStream(t *testing.T, cfg Config, replies map[string]string) *Stream {
	t.Helper()
	client, modem := net.Pipe()
	fakeModem(t, modem, replies)
	s := NewStream(cfg, WithDialer(func(context.Context, string) (io.ReadWriteCloser, error) {
		return client, nil
	}))
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIsFinal(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"OK", true},
		{"ERROR", true},
		{"+CME ERROR: 10", true},
		{"+CMS ERROR: 500", true},
		{"CONNECT 115200", true},
		{"NO CARRIER", true},
		{"+CSQ: 31,2", false},
		{"AT+CSQ", false},
		{"OKAY", false},
	}
	for _, tt := range tests {
		if got := IsFinal(tt.line); got != tt.want {
			t.Errorf("IsFinal(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{Device: "/dev/ttyUSB0"}.WithDefaults()
	if c.LineBreak != "\r\n" || c.Timeout != DefaultTimeout {
		t.Errorf("config = %+v", c)
	}
	c = Config{LineBreak: "\r", Timeout: time.Second}.WithDefaults()
	if c.LineBreak != "\r" || c.Timeout != time.Second {
		t.Errorf("config = %+v", c)
	}
}

func TestStream_Exec(t *testing.T) {
	s := pipeStream(t, Config{Device: "pipe"}, map[string]string{
		"AT+CSQ": "AT+CSQ\r\n\r\n+CSQ: 31,2\r\n\r\nOK\r\n",
	})
	reply, err := s.Exec(context.Background(), Request{Text: "AT+CSQ", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"AT+CSQ", "+CSQ: 31,2", "OK"}
	if strings.Join(reply.Lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", reply.Lines, want)
	}
	if reply.Elapsed <= 0 {
		t.Errorf("elapsed = %v", reply.Elapsed)
	}
}

func TestStream_Timeout(t *testing.T) {
	s := pipeStream(t, Config{Device: "pipe"}, map[string]string{
		"AT+COPS=?": "+COPS: (2,\"Carrier\")\r\n",
	})
	reply, err := s.Exec(context.Background(), Request{Text: "AT+COPS=?", Timeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if reply == nil || len(reply.Lines) != 1 {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v", reply.Elapsed)
	}
}

func TestStream_Cancel(t *testing.T) {
	s := pipeStream(t, Config{Device: "pipe"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Exec(ctx, Request{Text: "AT", Delay: time.Second}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestStream_NotOpen(t *testing.T) {
	s := NewStream(Config{Device: "pipe"})
	if _, err := s.Exec(context.Background(), Request{Text: "AT"}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("err = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close of unopened stream: %v", err)
	}
}

func TestStream_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fakeModem(t, conn, map[string]string{"ATI": "Quectel\r\nEC25\r\nOK\r\n"})
	}()

	s := NewStream(Config{Device: "tcp://" + ln.Addr().String()})
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	reply, err := s.Exec(context.Background(), Request{Text: "ATI", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Lines) != 3 || reply.Lines[1] != "EC25" {
		t.Errorf("lines = %q", reply.Lines)
	}
}

func TestStreamFactory_RequiresDevice(t *testing.T) {
	if _, err := NewStreamFactory()(Config{}); err == nil {
		t.Error("expected error without device")
	}
}
