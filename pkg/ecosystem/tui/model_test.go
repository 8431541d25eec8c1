package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
	"github.com/ormasoftchile/atrun/pkg/kernel/replay"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
)

func newModel(t *testing.T, replies string) Model {
	t.Helper()
	sc, err := schema.Load(strings.NewReader(`apiVersion: atscript/v0
meta:
  name: attach
secrets: [SIM_PIN]
steps:
  - command: AT+CPIN?
    expect: "\\+CPIN: READY"
    alternate:
      command: AT+CPIN=${SIM_PIN}
      expect: OK
  - command: AT+CSQ
    expect: OK
    collect: ["+CSQ: ?{rssi},?{ber}"]
`))
	if err != nil {
		t.Fatal(err)
	}
	prog, err := schema.Compile(sc)
	if err != nil {
		t.Fatal(err)
	}
	scenario, err := replay.ParseScenario([]byte(replies))
	if err != nil {
		t.Fatal(err)
	}
	rt := replay.NewTransport(scenario)
	eng := engine.New(prog, engine.RunConfig{
		Factory: rt.Factory(),
		Vars:    map[string]any{"SIM_PIN": "2468"},
	})
	rt.SetSecrets(prog.Secrets, eng.Session().Values().Lookup)
	return NewModel(eng, prog.Name)
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting commands until the model settles.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	next, cmd := m.Update(key(k))
	m = next.(Model)
	for cmd != nil {
		next, cmd = m.Update(cmd())
		m = next.(Model)
	}
	return m
}

const lockedSIM = `
replies:
  AT+CPIN?:
    - lines: ["+CPIN: SIM PIN", "OK"]
  AT+CPIN=<REDACTED>:
    - lines: ["OK"]
  AT+CSQ:
    - lines: ["+CSQ: 14,99", "OK"]
`

func TestModel_InitShowsQueue(t *testing.T) {
	m := newModel(t, lockedSIM)
	if len(m.queued) != 2 {
		t.Fatalf("queued = %v", m.queued)
	}
	if m.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", m.Status())
	}
	if !strings.Contains(m.View(), "○ AT+CSQ") {
		t.Errorf("view missing queued command:\n%s", m.View())
	}
}

func TestModel_StepQueuesAlternate(t *testing.T) {
	m := newModel(t, lockedSIM)

	m = press(t, m, "n")
	if len(m.Rows()) != 1 || m.Rows()[0].Status != "failed" {
		t.Fatalf("rows = %+v", m.Rows())
	}
	if len(m.queued) != 2 || m.queued[0] != "AT+CPIN=${SIM_PIN}" {
		t.Errorf("queued = %v", m.queued)
	}

	m = press(t, m, "n")
	row := m.Rows()[1]
	if !row.Alternate || row.Status != "success" || row.Command != "AT+CPIN=<REDACTED>" {
		t.Errorf("alternate row = %+v", row)
	}
	if m.Status() != StatusRunning {
		t.Errorf("status = %q, want running", m.Status())
	}
}

func TestModel_RunAll(t *testing.T) {
	m := newModel(t, lockedSIM)
	m = press(t, m, "r")

	if m.Status() != StatusCompleted {
		t.Fatalf("status = %q (%v)", m.Status(), m.err)
	}
	if len(m.Rows()) != 3 {
		t.Fatalf("rows = %d, want 3", len(m.Rows()))
	}
	view := m.View()
	if strings.Contains(view, "2468") {
		t.Error("secret leaked into view")
	}
	for _, want := range []string{"completed (3 responses)", "← rssi = 14"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	// Further steps are ignored once done.
	if _, cmd := m.Update(key("n")); cmd != nil {
		t.Error("expected no command after completion")
	}
}

func TestModel_Abort(t *testing.T) {
	m := newModel(t, `
replies:
  AT+CPIN?:
    - lines: ["ERROR"]
  AT+CPIN=<REDACTED>:
    - lines: ["+CME ERROR: 16"]
`)
	m = press(t, m, "r")
	if m.Status() != StatusFailed {
		t.Fatalf("status = %q", m.Status())
	}
	if !strings.Contains(m.View(), "aborted:") {
		t.Errorf("view:\n%s", m.View())
	}
}

func TestModel_Navigate(t *testing.T) {
	m := newModel(t, lockedSIM)
	m = press(t, m, "r")
	if m.selected != 2 {
		t.Fatalf("selected = %d", m.selected)
	}
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	if m.selected != 1 {
		t.Errorf("after up: selected = %d", m.selected)
	}
	next, _ = m.Update(key("q"))
	if next.(Model).ctx.Err() == nil {
		t.Error("quit should cancel the run context")
	}
}

func TestModel_QuitWhileStepRunning(t *testing.T) {
	m := newModel(t, lockedSIM)

	next, pending := m.Update(key("n"))
	m = next.(Model)
	if pending == nil || !m.busy {
		t.Fatal("expected a running step")
	}

	next, cmd := m.Update(key("q"))
	m = next.(Model)
	if cmd != nil {
		t.Fatal("quit must wait for the running step")
	}
	if m.ctx.Err() == nil {
		t.Error("quit should cancel the run context")
	}
	if _, again := m.Update(key("n")); again != nil {
		t.Error("no new step after quit")
	}

	next, cmd = m.Update(pending())
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected quit once the step returned")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}
