// Package schema defines the command/response model and the atscript/v0
// script document.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// API version constant for scripts.
const APIVersionScript = "atscript/v0"

// ---------------------------------------------------------------------------
// Script
// ---------------------------------------------------------------------------

// Script is the top-level atscript/v0 document.
type Script struct {
	APIVersion     string   `yaml:"apiVersion" json:"apiVersion"`
	Meta           Meta     `yaml:"meta"       json:"meta"`
	Device         *Device  `yaml:"device,omitempty" json:"device,omitempty"`
	AbortOnFailure *bool    `yaml:"abort_on_failure,omitempty" json:"abort_on_failure,omitempty"`
	Secrets        []string `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	Steps          []Step   `yaml:"steps"      json:"steps"`
}

// Meta contains script metadata.
type Meta struct {
	Name        string `yaml:"name"        json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Device describes the channel to the modem.
type Device struct {
	Port      string   `yaml:"port,omitempty"       json:"port,omitempty"`
	BaudRate  int      `yaml:"baud_rate,omitempty"  json:"baud_rate,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"    json:"timeout,omitempty"`
	LineBreak string   `yaml:"line_break,omitempty" json:"line_break,omitempty"`
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// Step is either a command or exactly one setup keyword.
type Step struct {
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// Command step
	Command   string     `yaml:"command,omitempty"   json:"command,omitempty"`
	Expect    string     `yaml:"expect,omitempty"    json:"expect,omitempty"`
	Timeout   Duration   `yaml:"timeout,omitempty"   json:"timeout,omitempty"`
	Delay     Duration   `yaml:"delay,omitempty"     json:"delay,omitempty"`
	Collect   []string   `yaml:"collect,omitempty"   json:"collect,omitempty"`
	Alternate *Alternate `yaml:"alternate,omitempty" json:"alternate,omitempty"`

	// Setup keywords
	Set            map[string]any `yaml:"set,omitempty"              json:"set,omitempty"`
	Getenv         string         `yaml:"getenv,omitempty"           json:"getenv,omitempty"`
	Print          string         `yaml:"print,omitempty"            json:"print,omitempty"`
	Exec           string         `yaml:"exec,omitempty"             json:"exec,omitempty"`
	Assert         string         `yaml:"assert,omitempty"           json:"assert,omitempty"`
	Port           string         `yaml:"device,omitempty"           json:"device,omitempty"`
	BaudRate       int            `yaml:"baud_rate,omitempty"        json:"baud_rate,omitempty"`
	DefaultTimeout Duration       `yaml:"default_timeout,omitempty"  json:"default_timeout,omitempty"`
	LineBreak      string         `yaml:"break,omitempty"            json:"break,omitempty"`
	AbortOnFailure *bool          `yaml:"abort_on_failure,omitempty" json:"abort_on_failure,omitempty"`
}

// Alternate is the doppelganger of a command step. It has no alternate of
// its own: recovery is one level deep.
type Alternate struct {
	Command string   `yaml:"command"           json:"command"`
	Expect  string   `yaml:"expect"            json:"expect"`
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Delay   Duration `yaml:"delay,omitempty"   json:"delay,omitempty"`
	Collect []string `yaml:"collect,omitempty" json:"collect,omitempty"`
}

// IsCommand reports whether any command field is set.
func (s *Step) IsCommand() bool {
	return s.Command != "" || s.Expect != "" || len(s.Collect) > 0 || s.Alternate != nil ||
		s.Timeout != 0 || s.Delay != 0
}

// Keywords lists the setup keywords set on the step.
func (s *Step) Keywords() []Keyword {
	var kws []Keyword
	if len(s.Set) > 0 {
		kws = append(kws, KeywordSet)
	}
	if s.Getenv != "" {
		kws = append(kws, KeywordGetenv)
	}
	if s.Print != "" {
		kws = append(kws, KeywordPrint)
	}
	if s.Exec != "" {
		kws = append(kws, KeywordExec)
	}
	if s.Assert != "" {
		kws = append(kws, KeywordAssert)
	}
	if s.Port != "" {
		kws = append(kws, KeywordDevice)
	}
	if s.BaudRate != 0 {
		kws = append(kws, KeywordBaudRate)
	}
	if s.DefaultTimeout != 0 {
		kws = append(kws, KeywordTimeout)
	}
	if s.LineBreak != "" {
		kws = append(kws, KeywordBreak)
	}
	if s.AbortOnFailure != nil {
		kws = append(kws, KeywordAbortOnFailure)
	}
	return kws
}

// ---------------------------------------------------------------------------
// Setup keywords
// ---------------------------------------------------------------------------

// Keyword enumerates the environment setup keywords.
type Keyword string

const (
	KeywordDevice         Keyword = "device"
	KeywordBaudRate       Keyword = "baud_rate"
	KeywordTimeout        Keyword = "default_timeout"
	KeywordBreak          Keyword = "break"
	KeywordAbortOnFailure Keyword = "abort_on_failure"
	KeywordSet            Keyword = "set"
	KeywordGetenv         Keyword = "getenv"
	KeywordPrint          Keyword = "print"
	KeywordExec           Keyword = "exec"
	KeywordAssert         Keyword = "assert"
)

// Setup is one compiled setup keyword. It runs before the command whose
// index in the sequence of successful commands equals Before.
type Setup struct {
	Keyword Keyword
	StepID  string
	Before  int
	// Name is the value name for set.
	Name string
	// Value is a string, int, bool, time.Duration or (for set) any scalar.
	Value any
}

func (s Setup) String() string {
	if s.Keyword == KeywordSet {
		return fmt.Sprintf("%s %s=%v", s.Keyword, s.Name, s.Value)
	}
	return fmt.Sprintf("%s %v", s.Keyword, s.Value)
}

// ---------------------------------------------------------------------------
// Duration
// ---------------------------------------------------------------------------

// Duration accepts a Go duration string ("500ms", "30s") or a bare integer
// number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if node.Tag == "!!int" {
		var secs int64
		if err := node.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var secs int64
	if err := json.Unmarshal(data, &secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// JSONSchema describes Duration for the exported script schema.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`},
			{Type: "integer", Minimum: json.Number("0")},
		},
		Description: "Go duration string or integer seconds",
	}
}
