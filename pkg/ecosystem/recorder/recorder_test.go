package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ormasoftchile/atrun/pkg/kernel/replay"
	"github.com/ormasoftchile/atrun/pkg/kernel/transport"
)

type mockTransport struct {
	reply *transport.Reply
	err   error
	opens int
}

func (m *mockTransport) Open(context.Context) error {
	m.opens++
	return nil
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) Exec(context.Context, transport.Request) (*transport.Reply, error) {
	return m.reply, m.err
}

func TestRecorder_CapturesReply(t *testing.T) {
	inner := &mockTransport{reply: &transport.Reply{
		Lines:   []string{"AT+CSQ=31,2", "OK"},
		Elapsed: 80 * time.Millisecond,
	}}
	rec := New(inner)

	if _, err := rec.Exec(context.Background(), transport.Request{Text: "AT+CSQ"}); err != nil {
		t.Fatal(err)
	}
	if len(rec.Exchanges) != 1 {
		t.Fatalf("expected 1 exchange, got %d", len(rec.Exchanges))
	}
	ex := rec.Exchanges[0]
	if ex.Command != "AT+CSQ" || len(ex.Reply.Lines) != 2 {
		t.Errorf("exchange = %+v", ex)
	}
	if ex.Reply.Elapsed.Std() != 80*time.Millisecond {
		t.Errorf("elapsed = %v", ex.Reply.Elapsed.Std())
	}
}

func TestRecorder_RedactsSecrets(t *testing.T) {
	inner := &mockTransport{reply: &transport.Reply{Lines: []string{"AT+CPIN=7782", "OK"}}}
	rec := New(inner)
	rec.SetSecrets([]string{"SIM_PIN"}, func(name string) (string, bool) {
		return "7782", name == "SIM_PIN"
	})

	rec.Exec(context.Background(), transport.Request{Text: "AT+CPIN=7782"})

	s := rec.Scenario()
	replies, ok := s.Replies["AT+CPIN=<REDACTED>"]
	if !ok {
		t.Fatalf("replies = %v", s.Replies)
	}
	if replies[0].Lines[0] != "AT+CPIN=<REDACTED>" {
		t.Errorf("line = %q", replies[0].Lines[0])
	}
}

func TestRecorder_TimeoutStillRecorded(t *testing.T) {
	inner := &mockTransport{
		reply: &transport.Reply{Lines: []string{"+COPS: (2,\"Carrier\")"}, Elapsed: time.Second},
		err:   transport.ErrTimeout,
	}
	rec := New(inner)
	_, err := rec.Exec(context.Background(), transport.Request{Text: "AT+COPS=?"})
	if err != transport.ErrTimeout {
		t.Errorf("err = %v", err)
	}
	if len(rec.Exchanges) != 1 {
		t.Errorf("exchanges = %d", len(rec.Exchanges))
	}
}

func TestRecorder_WrapAndWrite(t *testing.T) {
	inner := &mockTransport{reply: &transport.Reply{Lines: []string{"OK"}}}
	rec := New(nil)
	factory := rec.Wrap(func(transport.Config) (transport.Transport, error) { return inner, nil })

	tr, err := factory(transport.Config{Device: "tcp://modem:4001"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	tr.Open(ctx)
	tr.Exec(ctx, transport.Request{Text: "AT"})
	tr.Exec(ctx, transport.Request{Text: "AT"})
	if inner.opens != 1 {
		t.Errorf("opens = %d", inner.opens)
	}

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := rec.WriteScenario(path); err != nil {
		t.Fatal(err)
	}
	s, err := replay.LoadScenario(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Replies["AT"]) != 2 {
		t.Errorf("replies = %v", s.Replies)
	}
}
